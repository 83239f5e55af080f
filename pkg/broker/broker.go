// Package broker implements the Subscription Broker: after each
// document tick, it enqueues one PatchBatch per subscriber and advances
// that subscriber's cursor speculatively (there are no acks). It also
// handles the Subscribe-time Snapshot send and resync recovery.
// Grounded on the teacher's subscription-indexed broadcast fanout
// (`ws/internal/shared/broadcast.go`), generalized from "channel name →
// subscriber set" to "document name → subscriber cursor table".
package broker

import (
	"sync"

	"github.com/docsync/docsync/pkg/document"
	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/session"
)

// Broker routes document tick output to subscribed Sessions. It never
// owns a Document's lifetime (the Registry does) or a Session's
// transport (the Session does); it only holds handles.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[string]*session.Session // documentName -> sessionID -> session
}

func New() *Broker {
	return &Broker{subs: make(map[string]map[string]*session.Session)}
}

// Subscribe registers sess as a subscriber of doc and immediately
// enqueues a Snapshot batch at the document's current revision, per
// spec.md §4.4's "on accept responds with the current Snapshot ...
// cursor = newRevision".
func (b *Broker) Subscribe(doc *document.Document, sess *session.Session) {
	b.mu.Lock()
	set, ok := b.subs[doc.Name]
	if !ok {
		set = make(map[string]*session.Session)
		b.subs[doc.Name] = set
	}
	if _, already := set[sess.ID]; !already {
		set[sess.ID] = sess
		doc.AddSubscriber()
	}
	b.mu.Unlock()

	b.sendSnapshot(doc, sess)
}

// Unsubscribe removes sess from doc's subscriber set. No final message
// is sent (spec.md §4.4).
func (b *Broker) Unsubscribe(doc *document.Document, sess *session.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[doc.Name]
	if !ok {
		return
	}
	if _, ok := set[sess.ID]; ok {
		delete(set, sess.ID)
		doc.RemoveSubscriber()
	}
	if len(set) == 0 {
		delete(b.subs, doc.Name)
	}
}

// RemoveSession removes sess from every document it was subscribed to,
// for session teardown (heartbeat timeout, transport error, Goodbye).
func (b *Broker) RemoveSession(sess *session.Session, docs func(name string) (*document.Document, bool)) {
	for _, name := range sess.Subscriptions() {
		if doc, ok := docs(name); ok {
			b.Unsubscribe(doc, sess)
		}
	}
}

// Broadcast delivers one tick's resulting patch list to every current
// subscriber of doc. Per-subscriber it sends either the Incremental
// batch just produced, or — if the subscriber is new (cursor 0) or
// flagged needs-resync — a fresh Snapshot instead, so the gap-free
// ordering guarantee (spec.md §4.5) holds for every subscriber
// regardless of when it joined relative to this tick.
func (b *Broker) Broadcast(doc *document.Document, ops []patch.Patch, newRevision uint64) {
	b.mu.Lock()
	set := b.subs[doc.Name]
	sessions := make([]*session.Session, 0, len(set))
	for _, s := range set {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, sess := range sessions {
		cursor, subscribed := sess.Cursor(doc.Name)
		if !subscribed {
			continue
		}
		if cursor == 0 || sess.NeedsResync(doc.Name) {
			b.sendSnapshot(doc, sess)
			continue
		}
		b := &patch.Batch{
			DocumentName: doc.Name,
			BaseRevision: newRevision - 1,
			NewRevision:  newRevision,
			Kind:         patch.BatchIncremental,
			Operations:   ops,
		}
		sess.EnqueueBatch(b)
	}
}

func (b *Broker) sendSnapshot(doc *document.Document, sess *session.Session) {
	state := doc.Snapshot()
	rev := doc.Revision()
	batch := &patch.Batch{
		DocumentName: doc.Name,
		BaseRevision: 0,
		NewRevision:  rev,
		Kind:         patch.BatchSnapshot,
		Operations: []patch.Patch{
			{Kind: patch.KindReplace, Path: nil, Value: state},
		},
	}
	sess.EnqueueBatch(batch)
}

// SubscriberCount reports the current number of subscribers for doc,
// useful for /debug/stats.
func (b *Broker) SubscriberCount(docName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[docName])
}
