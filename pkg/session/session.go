// Package session implements the per-connection Session: a reader task
// that decodes frames off a Transport and dispatches them, a writer
// task that drains a bounded send queue onto the same Transport, and
// the heartbeat that closes a Session after two missed pongs.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/protocol"
)

// Transport is the abstract duplex, framed byte channel a Session rides
// on. Both adapters this package ships (gorilla/websocket, gobwas/ws)
// guarantee in-order, reliable delivery, matching spec.md §4.4's
// assumption that the core never needs its own sequence numbers.
type Transport interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
	// RemoteAddr is used only for logging.
	RemoteAddr() string
}

const (
	defaultSendQueueSize = 256
	defaultHeartbeatMs   = 15000
)

// Hooks lets the Server Facade observe and react to session events
// without this package depending on pkg/server.
type Hooks struct {
	OnSubscribe   func(sess *Session, documentName string) (accept bool, reason string)
	OnUnsubscribe func(sess *Session, documentName string)
	OnMessage     func(sess *Session, payload []byte)
	OnClose       func(sess *Session, reason protocol.GoodbyeReason)
}

// queuedItem is either a PatchBatch destined for a subscribed document
// or a raw pre-encoded control frame (Welcome, SubscribeRejected, Ping,
// ServerMessage, Goodbye).
type queuedItem struct {
	batch   *patch.Batch
	control []byte
}

// Session is one accepted connection: subscriptions, a bounded send
// queue with resync-on-overflow, and heartbeat bookkeeping. Sessions
// exclusively own their Transport and send queue (spec.md §3); the
// Broker only ever holds a handle.
type Session struct {
	ID               string
	transport        Transport
	encoding         protocol.Encoding
	allowCompression bool
	hooks            Hooks
	log              zerolog.Logger

	queueSize int

	mu            sync.Mutex
	subscriptions map[string]uint64 // documentName -> cursorRevision
	needsResync   map[string]bool

	queue chan queuedItem

	lastHeartbeatAt atomic.Int64 // unix millis
	missedPongs     atomic.Int32
	closed          atomic.Bool

	authContext any

	done chan struct{}
}

// Option configures a new Session.
type Option func(*Session)

func WithEncoding(enc protocol.Encoding) Option {
	return func(s *Session) { s.encoding = enc }
}

func WithQueueSize(n int) Option {
	return func(s *Session) { s.queueSize = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithCompression controls whether the binary codec's zlib compression
// leg is eligible to fire (Session.allowCompression false always skips
// it regardless of the compressionFloor threshold). Mirrors
// config.Config.AllowCompression; JSON-encoded frames are unaffected.
func WithCompression(allow bool) Option {
	return func(s *Session) { s.allowCompression = allow }
}

// New constructs a Session around an already-accepted Transport. The
// caller must call Run to start its reader/writer tasks.
func New(id string, t Transport, hooks Hooks, opts ...Option) *Session {
	s := &Session{
		ID:               id,
		transport:        t,
		encoding:         protocol.EncodingJSON,
		allowCompression: true,
		hooks:            hooks,
		log:              zerolog.Nop(),
		queueSize:        defaultSendQueueSize,
		subscriptions:    make(map[string]uint64),
		needsResync:      make(map[string]bool),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan queuedItem, s.queueSize)
	s.lastHeartbeatAt.Store(time.Now().UnixMilli())
	return s
}

// Run drives the reader and writer tasks until the Transport closes, a
// protocol error occurs, or the context is cancelled (server shutdown).
// It blocks until both tasks exit.
func (s *Session) Run(ctx context.Context, heartbeatMs int) {
	if heartbeatMs <= 0 {
		heartbeatMs = defaultHeartbeatMs
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(runCtx, cancel)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(runCtx, time.Duration(heartbeatMs)*time.Millisecond)
	}()
	wg.Wait()
	close(s.done)
}

// Done reports when both reader and writer tasks have exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		data, err := s.transport.ReadFrame(ctx)
		if err != nil {
			s.closeWithReason(protocol.ReasonTransportError)
			return
		}
		if err := s.dispatch(ctx, data); err != nil {
			s.log.Warn().Err(err).Str("session", s.ID).Msg("protocol error, closing session")
			s.closeWithReason(protocol.ReasonProtocolError)
			return
		}
	}
}

func (s *Session) dispatch(ctx context.Context, data []byte) error {
	f, err := s.decodeFrame(data)
	if err != nil {
		return err
	}

	switch f.Kind {
	case protocol.KindHello:
		s.enqueueControl(protocol.Frame{
			Kind:    protocol.KindWelcome,
			Welcome: &protocol.Welcome{SessionID: s.ID},
		})
	case protocol.KindSubscribe:
		s.handleSubscribe(f.Subscribe.DocumentName)
	case protocol.KindUnsubscribe:
		s.handleUnsubscribe(f.Unsubscribe.DocumentName)
	case protocol.KindPong:
		s.handlePong()
	case protocol.KindClientMessage:
		if s.hooks.OnMessage != nil {
			s.hooks.OnMessage(s, data)
		}
	case protocol.KindGoodbye:
		s.closeWithReason(protocol.ReasonClientRequested)
	default:
		return errors.New("session: unexpected frame kind from client: " + string(f.Kind))
	}
	return nil
}

func (s *Session) decodeFrame(data []byte) (protocol.Frame, error) {
	if s.encoding == protocol.EncodingBinary {
		return protocol.DecodeBinary(data)
	}
	return protocol.DecodeJSON(data)
}

func (s *Session) encodeFrame(f protocol.Frame) ([]byte, error) {
	if s.encoding == protocol.EncodingBinary {
		return protocol.EncodeBinary(f, s.allowCompression)
	}
	return protocol.EncodeJSON(f)
}

// handleSubscribe fires OnSubscribe. On accept, the real
// pkg/server wiring calls Broker.Subscribe synchronously from within
// the hook, which sends the Snapshot and, through EnqueueBatch,
// populates s.subscriptions[documentName] with the snapshot's revision
// before this function resumes. Only register a fresh cursor of 0 here
// when that didn't already happen (e.g. a hook-less or test caller) —
// unconditionally setting it to 0 would clobber the real cursor and
// make the next changed tick re-snapshot instead of sending the
// Incremental Scenario A expects.
func (s *Session) handleSubscribe(documentName string) {
	accept, reason := true, ""
	if s.hooks.OnSubscribe != nil {
		accept, reason = s.hooks.OnSubscribe(s, documentName)
	}
	if !accept {
		s.enqueueControl(protocol.Frame{
			Kind:              protocol.KindSubscribeRejected,
			SubscribeRejected: &protocol.SubscribeRejected{DocumentName: documentName, Reason: reason},
		})
		return
	}
	s.mu.Lock()
	if _, ok := s.subscriptions[documentName]; !ok {
		s.subscriptions[documentName] = 0
	}
	s.mu.Unlock()
}

func (s *Session) handleUnsubscribe(documentName string) {
	s.mu.Lock()
	delete(s.subscriptions, documentName)
	delete(s.needsResync, documentName)
	s.mu.Unlock()
	if s.hooks.OnUnsubscribe != nil {
		s.hooks.OnUnsubscribe(s, documentName)
	}
}

func (s *Session) handlePong() {
	s.lastHeartbeatAt.Store(time.Now().UnixMilli())
	s.missedPongs.Store(0)
}

func (s *Session) writeLoop(ctx context.Context, heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.missedPongs.Add(1) > 2 {
				s.closeWithReason(protocol.ReasonHeartbeatTimeout)
				return
			}
			frame, err := s.encodeFrame(protocol.Frame{Kind: protocol.KindPing, Ping: &protocol.Ping{Nonce: pingNonce()}})
			if err == nil {
				_ = s.transport.WriteFrame(ctx, frame)
			}
		case item, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.writeItem(ctx, item); err != nil {
				s.closeWithReason(protocol.ReasonTransportError)
				return
			}
		}
	}
}

func (s *Session) writeItem(ctx context.Context, item queuedItem) error {
	if item.control != nil {
		return s.transport.WriteFrame(ctx, item.control)
	}
	frame, err := s.encodeFrame(protocol.Frame{Kind: protocol.KindPatchBatch, PatchBatch: item.batch})
	if err != nil {
		return err
	}
	return s.transport.WriteFrame(ctx, frame)
}

// EnqueueBatch is called by the Broker after a document tick. It never
// blocks: on overflow it drains the queue, marks documentName for
// resync, resets its cursor to 0 (so the Broker's next Broadcast sends
// a Snapshot), and returns false (spec.md §4.4, §4.5).
func (s *Session) EnqueueBatch(b *patch.Batch) (delivered bool) {
	select {
	case s.queue <- queuedItem{batch: b}:
		s.mu.Lock()
		s.subscriptions[b.DocumentName] = b.NewRevision
		s.mu.Unlock()
		return true
	default:
		s.triggerResync(b.DocumentName)
		return false
	}
}

func (s *Session) triggerResync(documentName string) {
	s.drainQueue()
	s.mu.Lock()
	s.needsResync[documentName] = true
	s.subscriptions[documentName] = 0
	s.mu.Unlock()
}

func (s *Session) drainQueue() {
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

// NeedsResync reports and clears the resync flag for documentName.
func (s *Session) NeedsResync(documentName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	needs := s.needsResync[documentName]
	delete(s.needsResync, documentName)
	return needs
}

// Cursor returns the session's current revision cursor for documentName
// and whether it is subscribed at all.
func (s *Session) Cursor(documentName string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev, ok := s.subscriptions[documentName]
	return rev, ok
}

// Subscriptions returns a snapshot of currently subscribed document
// names.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscriptions))
	for name := range s.subscriptions {
		out = append(out, name)
	}
	return out
}

func (s *Session) enqueueControl(f protocol.Frame) {
	data, err := s.encodeFrame(f)
	if err != nil {
		return
	}
	select {
	case s.queue <- queuedItem{control: data}:
	default:
		// Control frames never trigger resync; best-effort only.
	}
}

// SendServerMessage delivers an application payload to the client,
// best-effort (dropped silently on a full queue, same as any other
// control frame).
func (s *Session) SendServerMessage(f protocol.Frame) {
	s.enqueueControl(f)
}

func (s *Session) closeWithReason(reason protocol.GoodbyeReason) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	goodbye, err := s.encodeFrame(protocol.Frame{Kind: protocol.KindGoodbye, Goodbye: &protocol.Goodbye{Reason: reason}})
	if err == nil {
		_ = s.transport.WriteFrame(context.Background(), goodbye)
	}
	_ = s.transport.Close()
	if s.hooks.OnClose != nil {
		s.hooks.OnClose(s, reason)
	}
}

// Close terminates the session from the server side (e.g. shutdown
// drain), with the given reason.
func (s *Session) Close(reason protocol.GoodbyeReason) {
	s.closeWithReason(reason)
}

var nonceCounter atomic.Uint64

// pingNonce produces a cheap unique-enough token per outgoing ping; the
// server does not need cryptographic randomness here, only distinctness
// to correlate Pongs against missed-heartbeat bookkeeping, which this
// package tracks separately by count rather than by nonce matching.
func pingNonce() string {
	n := nonceCounter.Add(1)
	return itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
