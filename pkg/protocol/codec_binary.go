package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/value"
)

// Binary frame tags, one byte each, matching the Kind constants.
const (
	tagHello byte = iota
	tagWelcome
	tagSubscribe
	tagUnsubscribe
	tagSubscribeRejected
	tagPatchBatch
	tagClientMessage
	tagServerMessage
	tagPing
	tagPong
	tagGoodbye
)

func kindToTag(k Kind) (byte, error) {
	switch k {
	case KindHello:
		return tagHello, nil
	case KindWelcome:
		return tagWelcome, nil
	case KindSubscribe:
		return tagSubscribe, nil
	case KindUnsubscribe:
		return tagUnsubscribe, nil
	case KindSubscribeRejected:
		return tagSubscribeRejected, nil
	case KindPatchBatch:
		return tagPatchBatch, nil
	case KindClientMessage:
		return tagClientMessage, nil
	case KindServerMessage:
		return tagServerMessage, nil
	case KindPing:
		return tagPing, nil
	case KindPong:
		return tagPong, nil
	case KindGoodbye:
		return tagGoodbye, nil
	default:
		return 0, fmt.Errorf("protocol: unknown frame kind %q", k)
	}
}

// EncodeBinary renders a Frame as the compact binary form: a one-byte
// kind tag followed by a kind-specific body. PatchBatch frames embed
// patch's own binary-encoded body (it carries its own compression
// header), length-prefixed so the reader can split frame from body
// without re-parsing it.
func EncodeBinary(f Frame, compressPatchBatch bool) ([]byte, error) {
	tag, err := kindToTag(f.Kind)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(tag)

	switch f.Kind {
	case KindHello:
		writeStrings(&buf, f.Hello.Capabilities)
		writeUvarint(&buf, uint64(f.Hello.ProtocolVersion))
		writeStr(&buf, f.Hello.AuthToken)
	case KindWelcome:
		writeStr(&buf, f.Welcome.SessionID)
		writeStrings(&buf, f.Welcome.ServerCapabilities)
	case KindSubscribe:
		writeStr(&buf, f.Subscribe.DocumentName)
	case KindUnsubscribe:
		writeStr(&buf, f.Unsubscribe.DocumentName)
	case KindSubscribeRejected:
		writeStr(&buf, f.SubscribeRejected.DocumentName)
		writeStr(&buf, f.SubscribeRejected.Reason)
	case KindPatchBatch:
		body, err := patch.EncodeBinary(*f.PatchBatch, compressPatchBatch)
		if err != nil {
			return nil, err
		}
		writeUvarint(&buf, uint64(len(body)))
		buf.Write(body)
	case KindClientMessage:
		if err := writeValue(&buf, f.ClientMessage.Payload); err != nil {
			return nil, err
		}
	case KindServerMessage:
		if err := writeValue(&buf, f.ServerMessage.Payload); err != nil {
			return nil, err
		}
	case KindPing:
		writeStr(&buf, f.Ping.Nonce)
	case KindPong:
		writeStr(&buf, f.Pong.Nonce)
	case KindGoodbye:
		writeStr(&buf, string(f.Goodbye.Reason))
	}

	return buf.Bytes(), nil
}

// DecodeBinary parses a Frame previously produced by EncodeBinary.
func DecodeBinary(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("protocol: empty binary frame")
	}
	r := bytes.NewReader(data[1:])
	tag := data[0]

	switch tag {
	case tagHello:
		caps, err := readStrings(r)
		if err != nil {
			return Frame{}, err
		}
		version, err := readUvarint(r)
		if err != nil {
			return Frame{}, err
		}
		token, err := readStr(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindHello, Hello: &Hello{ProtocolVersion: int(version), Capabilities: caps, AuthToken: token}}, nil
	case tagWelcome:
		sessionID, err := readStr(r)
		if err != nil {
			return Frame{}, err
		}
		caps, err := readStrings(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindWelcome, Welcome: &Welcome{SessionID: sessionID, ServerCapabilities: caps}}, nil
	case tagSubscribe:
		name, err := readStr(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindSubscribe, Subscribe: &Subscribe{DocumentName: name}}, nil
	case tagUnsubscribe:
		name, err := readStr(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindUnsubscribe, Unsubscribe: &Unsubscribe{DocumentName: name}}, nil
	case tagSubscribeRejected:
		name, err := readStr(r)
		if err != nil {
			return Frame{}, err
		}
		reason, err := readStr(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindSubscribeRejected, SubscribeRejected: &SubscribeRejected{DocumentName: name, Reason: reason}}, nil
	case tagPatchBatch:
		n, err := readUvarint(r)
		if err != nil {
			return Frame{}, err
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, err
		}
		b, err := patch.DecodeBinary(body)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindPatchBatch, PatchBatch: &b}, nil
	case tagClientMessage:
		v, err := readValue(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindClientMessage, ClientMessage: &ClientMessage{Payload: v}}, nil
	case tagServerMessage:
		v, err := readValue(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindServerMessage, ServerMessage: &ServerMessage{Payload: v}}, nil
	case tagPing:
		nonce, err := readStr(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindPing, Ping: &Ping{Nonce: nonce}}, nil
	case tagPong:
		nonce, err := readStr(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindPong, Pong: &Pong{Nonce: nonce}}, nil
	case tagGoodbye:
		reason, err := readStr(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindGoodbye, Goodbye: &Goodbye{Reason: GoodbyeReason(reason)}}, nil
	default:
		return Frame{}, fmt.Errorf("protocol: unknown binary frame tag %d", tag)
	}
}

// The value encoding below mirrors pkg/patch's tagged value codec
// exactly (same tag bytes, same varint scheme) so a single decoder
// could in principle read either; it is duplicated rather than
// exported from pkg/patch to keep that package's value tags private to
// its own wire format.
const (
	vTagNull byte = iota
	vTagBool
	vTagNumber
	vTagString
	vTagBytes
	vTagArray
	vTagObject
)

func writeValue(w *bytes.Buffer, v value.Value) error {
	switch v.Kind() {
	case value.KindNull:
		w.WriteByte(vTagNull)
	case value.KindBool:
		w.WriteByte(vTagBool)
		if v.Bool() {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
	case value.KindNumber:
		w.WriteByte(vTagNumber)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Number()))
		w.Write(b[:])
	case value.KindString:
		w.WriteByte(vTagString)
		writeStr(w, v.String())
	case value.KindBytes:
		w.WriteByte(vTagBytes)
		writeUvarint(w, uint64(len(v.BytesValue())))
		w.Write(v.BytesValue())
	case value.KindArray:
		w.WriteByte(vTagArray)
		arr := v.Array()
		writeUvarint(w, uint64(len(arr)))
		for _, item := range arr {
			if err := writeValue(w, item); err != nil {
				return err
			}
		}
	case value.KindObject:
		w.WriteByte(vTagObject)
		obj := v.Object()
		writeUvarint(w, uint64(obj.Len()))
		for _, k := range obj.Keys() {
			writeStr(w, k)
			fv, _ := obj.Get(k)
			if err := writeValue(w, fv); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("protocol: unknown value kind %v", v.Kind())
	}
	return nil
}

func readValue(r *bytes.Reader) (value.Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return value.Value{}, err
	}
	switch tag {
	case vTagNull:
		return value.Null(), nil
	case vTagBool:
		b, err := r.ReadByte()
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(b != 0), nil
	case vTagNumber:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return value.Value{}, err
		}
		return value.Number(math.Float64frombits(binary.BigEndian.Uint64(b[:]))), nil
	case vTagString:
		s, err := readStr(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.String(s), nil
	case vTagBytes:
		n, err := readUvarint(r)
		if err != nil {
			return value.Value{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return value.Value{}, err
		}
		return value.Bytes(buf), nil
	case vTagArray:
		n, err := readUvarint(r)
		if err != nil {
			return value.Value{}, err
		}
		items := make([]value.Value, n)
		for i := range items {
			item, err := readValue(r)
			if err != nil {
				return value.Value{}, err
			}
			items[i] = item
		}
		return value.Array(items...), nil
	case vTagObject:
		n, err := readUvarint(r)
		if err != nil {
			return value.Value{}, err
		}
		obj := value.NewObject()
		for i := uint64(0); i < n; i++ {
			k, err := readStr(r)
			if err != nil {
				return value.Value{}, err
			}
			fv, err := readValue(r)
			if err != nil {
				return value.Value{}, err
			}
			obj.Set(k, fv)
		}
		return value.ObjectValue(obj), nil
	default:
		return value.Value{}, fmt.Errorf("protocol: unknown value tag %d", tag)
	}
}

func writeStr(w *bytes.Buffer, s string) {
	writeUvarint(w, uint64(len(s)))
	w.WriteString(s)
}

func readStr(r *bytes.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeStrings(w *bytes.Buffer, ss []string) {
	writeUvarint(w, uint64(len(ss)))
	for _, s := range ss {
		writeStr(w, s)
	}
}

func readStrings(r *bytes.Reader) ([]string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := readStr(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func writeUvarint(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}
