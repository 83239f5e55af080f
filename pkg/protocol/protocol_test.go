package protocol

import (
	"strings"
	"testing"

	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/value"
)

func roundTripJSON(t *testing.T, f Frame) Frame {
	t.Helper()
	data, err := EncodeJSON(f)
	if err != nil {
		t.Fatalf("encode json: %v", err)
	}
	got, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return got
}

func roundTripBinary(t *testing.T, f Frame) Frame {
	t.Helper()
	data, err := EncodeBinary(f, false)
	if err != nil {
		t.Fatalf("encode binary: %v", err)
	}
	got, err := DecodeBinary(data)
	if err != nil {
		t.Fatalf("decode binary: %v", err)
	}
	return got
}

func TestHelloWelcomeRoundTrip(t *testing.T) {
	f := Frame{Kind: KindHello, Hello: &Hello{ProtocolVersion: 1, Capabilities: []string{"binary"}, AuthToken: "tok"}}
	for _, got := range []Frame{roundTripJSON(t, f), roundTripBinary(t, f)} {
		if got.Hello == nil || got.Hello.ProtocolVersion != 1 || got.Hello.AuthToken != "tok" {
			t.Fatalf("hello mismatch: %+v", got.Hello)
		}
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	f := Frame{Kind: KindSubscribe, Subscribe: &Subscribe{DocumentName: "room-1"}}
	for _, got := range []Frame{roundTripJSON(t, f), roundTripBinary(t, f)} {
		if got.Subscribe == nil || got.Subscribe.DocumentName != "room-1" {
			t.Fatalf("subscribe mismatch: %+v", got.Subscribe)
		}
	}
}

func TestPatchBatchRoundTrip(t *testing.T) {
	obj := value.NewObject()
	obj.Set("x", value.Number(1))
	b := patch.Batch{
		DocumentName: "room-1",
		BaseRevision: 1,
		NewRevision:  2,
		Kind:         patch.BatchIncremental,
		Operations: []patch.Patch{
			{Kind: patch.KindAdd, Path: []string{"entities", "e1"}, Value: value.ObjectValue(obj)},
		},
	}
	f := Frame{Kind: KindPatchBatch, PatchBatch: &b}
	for _, got := range []Frame{roundTripJSON(t, f), roundTripBinary(t, f)} {
		if got.PatchBatch == nil || got.PatchBatch.DocumentName != "room-1" || got.PatchBatch.NewRevision != 2 {
			t.Fatalf("patch batch mismatch: %+v", got.PatchBatch)
		}
	}
}

func TestClientMessageRoundTrip(t *testing.T) {
	obj := value.NewObject()
	obj.Set("action", value.String("move"))
	f := Frame{Kind: KindClientMessage, ClientMessage: &ClientMessage{Payload: value.ObjectValue(obj)}}
	for _, got := range []Frame{roundTripJSON(t, f), roundTripBinary(t, f)} {
		if got.ClientMessage == nil {
			t.Fatalf("missing client message")
		}
		action, ok := got.ClientMessage.Payload.Object().Get("action")
		if !ok || action.String() != "move" {
			t.Fatalf("payload mismatch: %+v", got.ClientMessage.Payload)
		}
	}
}

func TestEncodeBinaryCompressFlagShrinksLargeRepetitiveBatch(t *testing.T) {
	obj := value.NewObject()
	obj.Set("blob", value.String(strings.Repeat("a", 4096)))
	b := patch.Batch{
		DocumentName: "room-1",
		BaseRevision: 1,
		NewRevision:  2,
		Kind:         patch.BatchSnapshot,
		Operations: []patch.Patch{
			{Kind: patch.KindReplace, Path: []string{"blob"}, Value: value.ObjectValue(obj)},
		},
	}
	f := Frame{Kind: KindPatchBatch, PatchBatch: &b}

	uncompressed, err := EncodeBinary(f, false)
	if err != nil {
		t.Fatalf("encode uncompressed: %v", err)
	}
	compressed, err := EncodeBinary(f, true)
	if err != nil {
		t.Fatalf("encode compressed: %v", err)
	}
	if len(compressed) >= len(uncompressed) {
		t.Fatalf("expected compress=true to shrink a large repetitive batch: uncompressed=%d compressed=%d", len(uncompressed), len(compressed))
	}

	for _, data := range [][]byte{uncompressed, compressed} {
		got, err := DecodeBinary(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.PatchBatch == nil || got.PatchBatch.DocumentName != "room-1" {
			t.Fatalf("round trip mismatch: %+v", got.PatchBatch)
		}
	}
}

func TestPingPongGoodbyeRoundTrip(t *testing.T) {
	ping := Frame{Kind: KindPing, Ping: &Ping{Nonce: "n1"}}
	pong := Frame{Kind: KindPong, Pong: &Pong{Nonce: "n1"}}
	bye := Frame{Kind: KindGoodbye, Goodbye: &Goodbye{Reason: ReasonHeartbeatTimeout}}

	for _, f := range []Frame{ping, pong, bye} {
		gotJSON := roundTripJSON(t, f)
		gotBin := roundTripBinary(t, f)
		if gotJSON.Kind != f.Kind || gotBin.Kind != f.Kind {
			t.Fatalf("kind mismatch for %v", f.Kind)
		}
	}
	if roundTripBinary(t, bye).Goodbye.Reason != ReasonHeartbeatTimeout {
		t.Fatalf("goodbye reason mismatch")
	}
}
