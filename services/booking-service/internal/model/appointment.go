package model

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Active statuses occupy provider time.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Customer is either a linked user (UserID set) or a guest identified by contact details.
type Customer struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	// Lang is the language notifications for this appointment are rendered in first.
	Lang string `json:"lang,omitempty"`
}

type Appointment struct {
	ID         string
	ProviderID string
	ServiceID  string
	Customer   Customer
	// Date is midnight of the appointment day in the business timezone.
	Date        time.Time
	StartMinute int
	// DurationMinutes is copied from the service at booking time and never recomputed.
	DurationMinutes int
	Status          Status
	ReminderSentAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) EndMinute() int {
	return a.StartMinute + a.DurationMinutes
}

// Overlaps applies the half-open test [start, end) against this appointment's span.
func (a Appointment) Overlaps(start, end int) bool {
	return start < a.EndMinute() && a.StartMinute < end
}
