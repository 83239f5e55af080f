// Package eventbus is a publish-only NATS client the Server Facade uses
// to announce document lifecycle transitions and per-tick summaries on
// a best-effort, fire-and-forget basis. It is never a delivery path:
// no patch bytes are replayed over it, so it cannot affect the gap-free
// subscriber ordering guarantee the Broker provides. Grounded on the
// teacher's pkg/nats/client.go, trimmed to the publish-only subset this
// domain needs (no subscribe/request side).
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Bus publishes docsync lifecycle events. A nil *nats.Conn (when no
// NATSURL is configured) makes every method a no-op.
type Bus struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Connect dials the NATS server at url. An empty url returns a disabled
// Bus rather than an error, since the event bus is an optional ambient
// concern (SPEC_FULL.md §4.10).
func Connect(url string, log zerolog.Logger) (*Bus, error) {
	if url == "" {
		return &Bus{log: log}, nil
	}

	bus := &Bus{log: log}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.ConnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("connected to NATS")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	bus.conn = conn
	return bus, nil
}

// DocumentEvent subjects, per SPEC_FULL.md §4.10:
// docsync.doc.<name>.created|hydrated|evicted|closed
const (
	EventCreated = "created"
	EventHydrated = "hydrated"
	EventEvicted  = "evicted"
	EventClosed   = "closed"
)

// PublishLifecycle announces a document lifecycle transition.
func (b *Bus) PublishLifecycle(documentName, event string) {
	b.publish(fmt.Sprintf("docsync.doc.%s.%s", documentName, event), struct {
		DocumentName string `json:"documentName"`
		Event        string `json:"event"`
	}{documentName, event})
}

// revisionSummary is the payload SPEC_FULL.md §4.10 names:
// {revision, subscriberCount, patchOps}.
type revisionSummary struct {
	Revision        uint64 `json:"revision"`
	SubscriberCount int    `json:"subscriberCount"`
	PatchOps        int    `json:"patchOps"`
}

// PublishRevision announces a tick's broadcast summary.
func (b *Bus) PublishRevision(documentName string, revision uint64, subscriberCount, patchOps int) {
	b.publish(fmt.Sprintf("docsync.doc.%s.revision", documentName), revisionSummary{
		Revision:        revision,
		SubscriberCount: subscriberCount,
		PatchOps:        patchOps,
	})
}

func (b *Bus) publish(subject string, obj any) {
	if b.conn == nil {
		return
	}
	data, err := json.Marshal(obj)
	if err != nil {
		b.log.Warn().Err(err).Str("subject", subject).Msg("failed to marshal event bus payload")
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.log.Warn().Err(err).Str("subject", subject).Msg("failed to publish event bus message")
	}
}

// Enabled reports whether this Bus is actually connected to NATS.
func (b *Bus) Enabled() bool { return b.conn != nil }

// Close closes the underlying connection (it does not call the NATS
// Drain API). Safe to call on a disabled Bus.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
