package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/i18n"
)

var (
	// ErrForbidden covers every per-id miss: the id does not exist or belongs to someone else.
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid request")
)

// ExpiryAfterAppointment is how long an appointment notification outlives its appointment day.
const ExpiryAfterAppointment = 2 * 24 * time.Hour

type Notification struct {
	ID            string
	UserID        string
	Kind          string
	Title         i18n.Text
	Message       i18n.Text
	AppointmentID string
	IsRead        bool
	CreatedAt     time.Time
	ExpiresAt     *time.Time
}

// View is a notification rendered in one language.
type View struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	IsRead        bool      `json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`
}

func (n Notification) Localize(lang string) View {
	return View{
		ID:            n.ID,
		Type:          n.Kind,
		Title:         n.Title.Resolve(lang),
		Message:       n.Message.Resolve(lang),
		AppointmentID: n.AppointmentID,
		IsRead:        n.IsRead,
		CreatedAt:     n.CreatedAt,
	}
}

// Store persists notifications. Every per-id method matches id and user together and reports
// whether a row matched.
type Store interface {
	Insert(ctx context.Context, n Notification) (bool, error)
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// CountCache caches unread counts per user. Implementations may lose entries at any time.
// Get reports the user's current version even on a miss; Set writes only while that version
// is still current, so a count read before an Invalidate never lands after it.
type CountCache interface {
	Get(ctx context.Context, userID string) (count int, version string, hit bool, err error)
	Set(ctx context.Context, userID string, count int, version string) (bool, error)
	Invalidate(ctx context.Context, userID string) error
}
