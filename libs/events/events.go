// Package events defines the Kafka payloads exchanged between services. Topic names are the
// versioned event types.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/i18n"
)

const (
	TypeAppointmentBooked     = "booking.appointment.booked.v1"
	TypeAppointmentStatus     = "booking.appointment.status_changed.v1"
	TypeNotificationRequested = "booking.notification.requested.v1"
)

// Notification types shown to the customer.
const (
	KindGeneric              = "generic"
	KindAppointmentConfirmed = "appointment_confirmed"
	KindAppointmentReminder  = "appointment_reminder"
	KindAppointmentCancelled = "appointment_cancelled"
)

func ValidKind(k string) bool {
	switch k {
	case KindGeneric, KindAppointmentConfirmed, KindAppointmentReminder, KindAppointmentCancelled:
		return true
	}
	return false
}

type AppointmentBooked struct {
	AppointmentID   string `json:"appointment_id"`
	ProviderID      string `json:"provider_id"`
	ServiceID       string `json:"service_id"`
	UserID          string `json:"user_id,omitempty"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type AppointmentStatusChanged struct {
	AppointmentID string `json:"appointment_id"`
	ProviderID    string `json:"provider_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Actor         string `json:"actor"`
	ChangedAt     string `json:"changed_at"`
}

// NotificationRequested asks the notification service to store a notification for UserID.
type NotificationRequested struct {
	UserID          string    `json:"user_id"`
	Kind            string    `json:"type"`
	Title           i18n.Text `json:"title"`
	Message         i18n.Text `json:"message"`
	AppointmentID   string    `json:"appointment_id,omitempty"`
	AppointmentDate string    `json:"appointment_date,omitempty"`
}

func (n NotificationRequested) Validate() error {
	if n.UserID == "" {
		return fmt.Errorf("notification requested without user_id")
	}
	if !ValidKind(n.Kind) {
		return fmt.Errorf("unknown notification type %q", n.Kind)
	}
	if n.Title.Resolve("") == "" {
		return fmt.Errorf("notification requested without title")
	}
	if n.AppointmentDate != "" {
		if _, err := time.Parse("2006-01-02", n.AppointmentDate); err != nil {
			return fmt.Errorf("invalid appointment_date %q", n.AppointmentDate)
		}
	}
	return nil
}

func DecodeNotificationRequested(raw []byte) (NotificationRequested, error) {
	var n NotificationRequested
	if err := json.Unmarshal(raw, &n); err != nil {
		return NotificationRequested{}, err
	}
	return n, n.Validate()
}
