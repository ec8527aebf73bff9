/*
notify.go - Outward notification capability

PURPOSE:
  The engine never addresses the chat platform directly. The surrounding
  application injects a NotificationSink, through which the engine posts
  ledger entries, order boards, and refund alerts. Posting is best-effort:
  a sink failure degrades visibility but never rolls back a committed
  financial mutation.

IMPLEMENTATIONS:
  NopSink:    discards everything (headless operation)
  MemorySink: records posts in memory (tests, local dev)

SEE ALSO:
  - coordinator.go: ledger-entry notifications
  - orderbook.go: order board posts
*/
package economy

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

// NotificationSink posts outward notification records (chat messages) on
// behalf of the engine.
type NotificationSink interface {
	// Send posts text and returns the record id for later edit/delete.
	Send(ctx context.Context, text string) (MsgID, error)

	// Edit replaces the text of an existing record.
	Edit(ctx context.Context, id MsgID, text string) error

	// Delete removes a record. Deleting an already-removed record is not
	// an error.
	Delete(ctx context.Context, id MsgID) error
}

// =============================================================================
// NOP SINK
// =============================================================================

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) Send(context.Context, string) (MsgID, error) { return "", nil }
func (NopSink) Edit(context.Context, MsgID, string) error   { return nil }
func (NopSink) Delete(context.Context, MsgID) error         { return nil }

// =============================================================================
// MEMORY SINK
// =============================================================================

// MemorySink records notifications in memory.
type MemorySink struct {
	mu       sync.Mutex
	messages map[MsgID]string
	order    []MsgID
}

func NewMemorySink() *MemorySink {
	return &MemorySink{messages: make(map[MsgID]string)}
}

func (s *MemorySink) Send(_ context.Context, text string) (MsgID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := MsgID("msg-" + ulid.MustNew(ulid.Now(), rand.Reader).String())
	s.messages[id] = text
	s.order = append(s.order, id)
	return id, nil
}

func (s *MemorySink) Edit(_ context.Context, id MsgID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return ErrNotificationSinkUnavailable
	}
	s.messages[id] = text
	return nil
}

func (s *MemorySink) Delete(_ context.Context, id MsgID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, id)
	return nil
}

// Get returns a recorded message and whether it still exists.
func (s *MemorySink) Get(id MsgID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text, ok := s.messages[id]
	return text, ok
}

// Len returns the number of live records.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
