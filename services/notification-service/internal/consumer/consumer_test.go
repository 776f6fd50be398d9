package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	done      chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	close(r.done)
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeInbox struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (i *fakeInbox) Seen(_ context.Context, id string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seen[id], nil
}

func (i *fakeInbox) Record(_ context.Context, id, _ string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.seen[id] {
		return false, nil
	}
	i.seen[id] = true
	return true, nil
}

func message(offset int64, eventID string) kafka.Message {
	return kafka.Message{
		Topic:  "booking.notification.requested.v1",
		Offset: offset,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(eventID)},
			{Key: kafkax.HeaderEventType, Value: []byte("booking.notification.requested.v1")},
		},
	}
}

func TestConsumer_RetriesThenCommitsAndSkipsDuplicates(t *testing.T) {
	reader := &fakeReader{
		msgs: []kafka.Message{message(1, "e1"), message(2, "e1"), message(3, "e2")},
		done: make(chan struct{}),
	}
	inbox := &fakeInbox{seen: map[string]bool{}}

	var (
		mu       sync.Mutex
		handled  []string
		failOnce = true
	)
	handler := func(_ context.Context, meta kafkax.EventMeta, _ kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if meta.EventID == "e2" && failOnce {
			failOnce = false
			return errors.New("transient")
		}
		handled = append(handled, meta.EventID)
		return nil
	}

	c := newWithReader(reader, slog.New(slog.NewTextHandler(io.Discard, nil)), inbox,
		Config{RetryBackoff: time.Millisecond}, handler)
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(finished)
	}()

	select {
	case <-reader.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not drain messages")
	}
	cancel()
	<-finished

	if len(handled) != 2 || handled[0] != "e1" || handled[1] != "e2" {
		t.Fatalf("unexpected handled events %v", handled)
	}
	if len(reader.committed) != 3 {
		t.Fatalf("expected every offset committed once, got %v", reader.committed)
	}
}

func TestConsumer_CommitsEventWithoutIDUnhandled(t *testing.T) {
	noID := kafka.Message{Topic: "booking.notification.requested.v1", Offset: 1, Key: []byte("appt-1")}
	reader := &fakeReader{
		msgs: []kafka.Message{noID, message(2, "e1")},
		done: make(chan struct{}),
	}
	inbox := &fakeInbox{seen: map[string]bool{}}

	var (
		mu      sync.Mutex
		handled []string
	)
	handler := func(_ context.Context, meta kafkax.EventMeta, _ kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, meta.EventID)
		return nil
	}

	c := newWithReader(reader, slog.New(slog.NewTextHandler(io.Discard, nil)), inbox,
		Config{RetryBackoff: time.Millisecond}, handler)
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(finished)
	}()

	select {
	case <-reader.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer stalled on an event without id")
	}
	cancel()
	<-finished

	if len(handled) != 1 || handled[0] != "e1" {
		t.Fatalf("event without id must not reach the handler, handled %v", handled)
	}
	if len(reader.committed) != 2 || reader.committed[0] != 1 {
		t.Fatalf("expected both offsets committed, got %v", reader.committed)
	}
	if inbox.seen[""] {
		t.Fatal("empty id must not be recorded in the inbox")
	}
}
