// Package notifications stores per-user notifications and serves the read-state operations the
// client polls.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/studiobook/libs/events"
	"github.com/md-rashed-zaman/studiobook/libs/i18n"
)

// deliveryNamespace derives notification ids from event ids so redelivered events collapse.
var deliveryNamespace = uuid.MustParse("0c5b3d4e-8f0a-4f8e-9a55-7e1d2b6c9a01")

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type Config struct {
	Location *time.Location
	Now      func() time.Time
}

type Service struct {
	store  Store
	cache  CountCache
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewService wires the store with an optional unread-count cache (nil disables caching).
func NewService(store Store, cache CountCache, logger *slog.Logger, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{store: store, cache: cache, logger: logger, loc: cfg.Location, now: cfg.Now}
}

// List returns the user's notifications newest first, rendered in lang.
func (s *Service) List(ctx context.Context, userID string, limit int, lang string) ([]View, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	items, err := s.store.List(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(items))
	for _, n := range items {
		out = append(out, n.Localize(lang))
	}
	return out, nil
}

// UnreadCount serves from the cache when it can. The version is read before the store so a
// concurrent write's Invalidate refuses this fill.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	var (
		version  string
		fillable bool
	)
	if s.cache != nil {
		n, v, hit, err := s.cache.Get(ctx, userID)
		switch {
		case err != nil:
			s.logger.Warn("unread cache read failed", "user_id", userID, "err", err)
		case hit:
			return n, nil
		default:
			version, fillable = v, true
		}
	}
	n, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return 0, err
	}
	if fillable {
		if _, err := s.cache.Set(ctx, userID, n, version); err != nil {
			s.logger.Warn("unread cache write failed", "user_id", userID, "err", err)
		}
	}
	return n, nil
}

// MarkRead succeeds silently when the notification is already read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	ok, err := s.store.MarkRead(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: notification %s", ErrForbidden, id)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	if _, err := s.store.MarkAllRead(ctx, userID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	ok, err := s.store.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: notification %s", ErrForbidden, id)
	}
	s.invalidate(ctx, userID)
	return nil
}

// Send stores an administrative notification under a fresh id.
func (s *Service) Send(ctx context.Context, req events.NotificationRequested) (Notification, error) {
	if err := req.Validate(); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	n, err := s.build(uuid.NewString(), req)
	if err != nil {
		return Notification{}, err
	}
	if _, err := s.store.Insert(ctx, n); err != nil {
		return Notification{}, err
	}
	s.invalidate(ctx, n.UserID)
	s.logger.Info("notification sent", "notification_id", n.ID, "user_id", n.UserID, "type", n.Kind)
	return n, nil
}

// Deliver stores the notification carried by event eventID. A redelivered event maps to the
// same id and is dropped; the result reports whether a row was created.
func (s *Service) Deliver(ctx context.Context, eventID string, req events.NotificationRequested) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	n, err := s.build(uuid.NewSHA1(deliveryNamespace, []byte(eventID)).String(), req)
	if err != nil {
		return false, err
	}
	created, err := s.store.Insert(ctx, n)
	if err != nil {
		return false, err
	}
	if created {
		s.invalidate(ctx, n.UserID)
	}
	return created, nil
}

// PurgeExpired removes notifications whose appointment is more than two days past.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.PurgeExpired(ctx, s.now())
}

func (s *Service) build(id string, req events.NotificationRequested) (Notification, error) {
	n := Notification{
		ID:            id,
		UserID:        req.UserID,
		Kind:          req.Kind,
		Title:         cleanText(req.Title),
		Message:       cleanText(req.Message),
		AppointmentID: req.AppointmentID,
		CreatedAt:     s.now(),
	}
	if req.AppointmentDate != "" {
		day, err := time.ParseInLocation("2006-01-02", req.AppointmentDate, s.loc)
		if err != nil {
			return Notification{}, fmt.Errorf("%w: appointment_date %q", ErrInvalid, req.AppointmentDate)
		}
		exp := day.Add(ExpiryAfterAppointment)
		n.ExpiresAt = &exp
	}
	return n, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("unread cache invalidate failed", "user_id", userID, "err", err)
	}
}

func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: malformed notification id", ErrInvalid)
	}
	return nil
}

// cleanText drops empty translations and normalizes language keys.
func cleanText(t i18n.Text) i18n.Text {
	out := make(i18n.Text, len(t))
	for lang, v := range t {
		if v == "" {
			continue
		}
		out[i18n.Normalize(lang)] = v
	}
	return out
}
