// Package protocol defines the transport-level message envelope spec.md
// §6 describes: Hello/Welcome handshake, Subscribe/Unsubscribe control,
// PatchBatch delivery, opaque application ClientMessage/ServerMessage
// payloads, heartbeat Ping/Pong, and session teardown via Goodbye. Each
// message kind has both a JSON and a binary encoding. The encoding a
// session uses is fixed when its transport is accepted (pkg/server reads
// the upgrade request's X-Encoding header); Hello/Welcome capabilities
// do not change it.
package protocol

import (
	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/value"
)

// Kind tags a frame's message type.
type Kind string

const (
	KindHello             Kind = "hello"
	KindWelcome           Kind = "welcome"
	KindSubscribe         Kind = "subscribe"
	KindUnsubscribe       Kind = "unsubscribe"
	KindSubscribeRejected Kind = "subscribeRejected"
	KindPatchBatch        Kind = "patchBatch"
	KindClientMessage     Kind = "clientMessage"
	KindServerMessage     Kind = "serverMessage"
	KindPing              Kind = "ping"
	KindPong              Kind = "pong"
	KindGoodbye           Kind = "goodbye"
)

// GoodbyeReason mirrors the spec.md §7 error taxonomy entries that can
// terminate a session.
type GoodbyeReason string

const (
	ReasonProtocolError     GoodbyeReason = "protocolError"
	ReasonHeartbeatTimeout  GoodbyeReason = "heartbeatTimeout"
	ReasonServerShutdown    GoodbyeReason = "serverShutdown"
	ReasonAuthDenied        GoodbyeReason = "authDenied"
	ReasonTransportError    GoodbyeReason = "transportError"
	ReasonClientRequested   GoodbyeReason = "clientRequested"
)

// Encoding selects a session's wire form.
type Encoding uint8

const (
	EncodingJSON Encoding = iota
	EncodingBinary
)

// Hello is the client's handshake frame. pkg/session answers it with a
// Welcome but does not require it before other frames, and does not
// read its AuthToken.
type Hello struct {
	ProtocolVersion int
	Capabilities    []string
	AuthToken       string
}

// Welcome answers Hello with the session identity. pkg/session sends
// it with SessionID only; ServerCapabilities is left empty.
type Welcome struct {
	SessionID         string
	ServerCapabilities []string
}

// Subscribe/Unsubscribe name the document a session wants batches for.
type Subscribe struct {
	DocumentName string
}

type Unsubscribe struct {
	DocumentName string
}

// SubscribeRejected reports a refused Subscribe without closing the
// session (spec.md §7: AuthDenied refuses the subscription, not the
// connection).
type SubscribeRejected struct {
	DocumentName string
	Reason       string
}

// ClientMessage and ServerMessage carry application-defined payloads
// that never touch document state directly; routing is the Server
// Facade's onMessage hook's job.
type ClientMessage struct {
	Payload value.Value
}

type ServerMessage struct {
	Payload value.Value
}

type Ping struct{ Nonce string }
type Pong struct{ Nonce string }

type Goodbye struct{ Reason GoodbyeReason }

// Frame is the decoded envelope: exactly one of the typed fields is set,
// selected by Kind. PatchBatch frames carry a *patch.Batch directly
// since its own codec already handles operations/values.
type Frame struct {
	Kind Kind

	Hello             *Hello
	Welcome           *Welcome
	Subscribe         *Subscribe
	Unsubscribe       *Unsubscribe
	SubscribeRejected *SubscribeRejected
	PatchBatch        *patch.Batch
	ClientMessage     *ClientMessage
	ServerMessage     *ServerMessage
	Ping              *Ping
	Pong              *Pong
	Goodbye           *Goodbye
}
