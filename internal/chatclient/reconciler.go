// Package chatclient holds the client-side half of the dual-channel design:
// merging REST-fetched history, the client's own persisted sends, and
// best-effort broadcast events into one deduplicated, time-ordered view per
// tribe.
package chatclient

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"tribechat/internal/chat"
)

// Reconciler merges the three delivery paths for one tribe. The map is keyed
// by message id, which makes the merge commutative and idempotent: the same
// message arriving as history, as the sender's own REST response, and as a
// broadcast echo collapses to one entry no matter the interleaving.
type Reconciler struct {
	mu         sync.Mutex
	messages   map[uuid.UUID]chat.Message
	tombstones map[uuid.UUID]struct{}
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		messages:   make(map[uuid.UUID]chat.Message),
		tombstones: make(map[uuid.UUID]struct{}),
	}
}

// Merge inserts a message unless its id is already known: the first source
// to deliver wins and later duplicates are discarded unchanged. Returns
// whether the message was inserted. Tombstoned ids never resurface.
func (r *Reconciler) Merge(msg chat.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, deleted := r.tombstones[msg.ID]; deleted {
		return false
	}
	if _, exists := r.messages[msg.ID]; exists {
		return false
	}
	r.messages[msg.ID] = msg
	return true
}

// LoadHistory merges a fetched page. Existing entries (optimistic sends,
// broadcasts that raced the fetch) are kept.
func (r *Reconciler) LoadHistory(msgs []chat.Message) {
	for _, msg := range msgs {
		r.Merge(msg)
	}
}

// Apply replaces the stored entry wholesale with the updated record from a
// reaction or edit event. Replacing the full message instead of patching
// fields avoids partial-update races. An update for an unknown id is stored;
// the full record is self-contained.
func (r *Reconciler) Apply(msg chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, deleted := r.tombstones[msg.ID]; deleted {
		return
	}
	r.messages[msg.ID] = msg
}

// Remove tombstones a deleted message. A copy arriving later through any
// channel stays discarded; a client that misses the delete entirely shows
// the message until its next full refetch.
func (r *Reconciler) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.messages, id)
	r.tombstones[id] = struct{}{}
}

// HandleEvent feeds one live-transport envelope through the merge rules.
func (r *Reconciler) HandleEvent(env chat.Envelope) {
	switch env.Type {
	case chat.EventMessageReceived:
		if env.Message != nil {
			r.Merge(*env.Message)
		}
	case chat.EventReactionReceived, chat.EventMessageUpdated:
		if env.Message != nil {
			r.Apply(*env.Message)
		}
	case chat.EventMessageDeleted:
		if env.MessageID != nil {
			r.Remove(*env.MessageID)
		}
	}
}

// Messages returns the view in canonical order: created_at ascending, ties
// broken by id. Arrival order plays no part.
func (r *Reconciler) Messages() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := lo.Values(r.messages)
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
	return msgs
}

// Len reports how many messages the view holds.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
