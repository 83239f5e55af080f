package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/value"
)

// envelope is the wire shape for every JSON frame: a `t` tag field plus
// kind-specific fields left as raw JSON, decoded once Kind is known.
type envelope struct {
	T string `json:"t"`

	ProtocolVersion int      `json:"protocolVersion,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	AuthToken       string   `json:"authToken,omitempty"`

	SessionID          string   `json:"sessionId,omitempty"`
	ServerCapabilities []string `json:"serverCapabilities,omitempty"`

	DocumentName string `json:"documentName,omitempty"`
	Reason       string `json:"reason,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`

	Nonce string `json:"nonce,omitempty"`

	Batch json.RawMessage `json:"batch,omitempty"`
}

// EncodeJSON renders a Frame as a single JSON object tagged with `t`.
func EncodeJSON(f Frame) ([]byte, error) {
	env := envelope{T: string(f.Kind)}

	switch f.Kind {
	case KindHello:
		env.ProtocolVersion = f.Hello.ProtocolVersion
		env.Capabilities = f.Hello.Capabilities
		env.AuthToken = f.Hello.AuthToken
	case KindWelcome:
		env.SessionID = f.Welcome.SessionID
		env.ServerCapabilities = f.Welcome.ServerCapabilities
	case KindSubscribe:
		env.DocumentName = f.Subscribe.DocumentName
	case KindUnsubscribe:
		env.DocumentName = f.Unsubscribe.DocumentName
	case KindSubscribeRejected:
		env.DocumentName = f.SubscribeRejected.DocumentName
		env.Reason = f.SubscribeRejected.Reason
	case KindPatchBatch:
		b, err := patch.EncodeJSON(*f.PatchBatch)
		if err != nil {
			return nil, err
		}
		env.Batch = b
	case KindClientMessage:
		b, err := f.ClientMessage.Payload.MarshalJSON()
		if err != nil {
			return nil, err
		}
		env.Payload = b
	case KindServerMessage:
		b, err := f.ServerMessage.Payload.MarshalJSON()
		if err != nil {
			return nil, err
		}
		env.Payload = b
	case KindPing:
		env.Nonce = f.Ping.Nonce
	case KindPong:
		env.Nonce = f.Pong.Nonce
	case KindGoodbye:
		env.Reason = string(f.Goodbye.Reason)
	default:
		return nil, fmt.Errorf("protocol: unknown frame kind %q", f.Kind)
	}

	return json.Marshal(env)
}

// DecodeJSON parses a Frame previously produced by EncodeJSON.
func DecodeJSON(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, err
	}

	f := Frame{Kind: Kind(env.T)}
	switch f.Kind {
	case KindHello:
		f.Hello = &Hello{ProtocolVersion: env.ProtocolVersion, Capabilities: env.Capabilities, AuthToken: env.AuthToken}
	case KindWelcome:
		f.Welcome = &Welcome{SessionID: env.SessionID, ServerCapabilities: env.ServerCapabilities}
	case KindSubscribe:
		f.Subscribe = &Subscribe{DocumentName: env.DocumentName}
	case KindUnsubscribe:
		f.Unsubscribe = &Unsubscribe{DocumentName: env.DocumentName}
	case KindSubscribeRejected:
		f.SubscribeRejected = &SubscribeRejected{DocumentName: env.DocumentName, Reason: env.Reason}
	case KindPatchBatch:
		b, err := patch.DecodeJSON(env.Batch)
		if err != nil {
			return Frame{}, err
		}
		f.PatchBatch = &b
	case KindClientMessage:
		var v value.Value
		if err := v.UnmarshalJSON(env.Payload); err != nil {
			return Frame{}, err
		}
		f.ClientMessage = &ClientMessage{Payload: v}
	case KindServerMessage:
		var v value.Value
		if err := v.UnmarshalJSON(env.Payload); err != nil {
			return Frame{}, err
		}
		f.ServerMessage = &ServerMessage{Payload: v}
	case KindPing:
		f.Ping = &Ping{Nonce: env.Nonce}
	case KindPong:
		f.Pong = &Pong{Nonce: env.Nonce}
	case KindGoodbye:
		f.Goodbye = &Goodbye{Reason: GoodbyeReason(env.Reason)}
	default:
		return Frame{}, fmt.Errorf("protocol: unknown frame tag %q", env.T)
	}

	return f, nil
}
