package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"

	"github.com/docsync/docsync/pkg/value"
)

// Binary wire layout (all integers are LEB128 unsigned varints unless
// noted): a single byte version, a single byte flag set (bit 0: zlib
// payload), then the frame body. Uncompressed, the body is encoded
// directly after the two header bytes; compressed, everything after the
// header bytes is a zlib stream wrapping the same body bytes. Both
// producers agree byte-for-byte given the same Batch, satisfying the
// determinism property spec.md §8 requires of the wire encoders.
const (
	binaryVersion    = 1
	flagCompressed   = 1 << 0
	compressionFloor = 256 // bodies under this size aren't worth zlib's overhead
)

// EncodeBinary renders a Batch as the compact binary form. compress
// requests zlib compression of the body; small batches are left
// uncompressed regardless, since zlib's frame overhead dominates for
// tiny payloads.
func EncodeBinary(b Batch, compress bool) ([]byte, error) {
	var body bytes.Buffer
	if err := writeBatchBody(&body, b); err != nil {
		return nil, err
	}

	out := make([]byte, 0, body.Len()+2)
	out = append(out, binaryVersion)

	if compress && body.Len() >= compressionFloor {
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		if _, err := zw.Write(body.Bytes()); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		out = append(out, flagCompressed)
		out = append(out, zbuf.Bytes()...)
		return out, nil
	}

	out = append(out, 0)
	out = append(out, body.Bytes()...)
	return out, nil
}

// DecodeBinary parses a Batch previously produced by EncodeBinary.
func DecodeBinary(data []byte) (Batch, error) {
	if len(data) < 2 {
		return Batch{}, fmt.Errorf("patch: binary frame too short")
	}
	version, flags, rest := data[0], data[1], data[2:]
	if version != binaryVersion {
		return Batch{}, fmt.Errorf("patch: unsupported binary version %d", version)
	}

	body := rest
	if flags&flagCompressed != 0 {
		zr, err := zlib.NewReader(bytes.NewReader(rest))
		if err != nil {
			return Batch{}, err
		}
		defer zr.Close()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return Batch{}, err
		}
		body = decoded
	}

	return readBatchBody(bytes.NewReader(body))
}

func writeBatchBody(w *bytes.Buffer, b Batch) error {
	writeString(w, b.DocumentName)
	writeUvarint(w, b.BaseRevision)
	writeUvarint(w, b.NewRevision)
	w.WriteByte(byte(b.Kind))
	writeUvarint(w, uint64(len(b.Operations)))
	for _, op := range b.Operations {
		if err := writePatch(w, op); err != nil {
			return err
		}
	}
	return nil
}

func writePatch(w *bytes.Buffer, p Patch) error {
	w.WriteByte(byte(p.Kind))
	writeUvarint(w, uint64(len(p.Path)))
	for _, tok := range p.Path {
		writeString(w, tok)
	}
	if p.Kind == KindRemove {
		w.WriteByte(0) // valuePresent
		return nil
	}
	w.WriteByte(1) // valuePresent
	return writeValue(w, p.Value)
}

func readBatchBody(r *bytes.Reader) (Batch, error) {
	doc, err := readString(r)
	if err != nil {
		return Batch{}, err
	}
	base, err := readUvarint(r)
	if err != nil {
		return Batch{}, err
	}
	rev, err := readUvarint(r)
	if err != nil {
		return Batch{}, err
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return Batch{}, err
	}
	n, err := readUvarint(r)
	if err != nil {
		return Batch{}, err
	}
	ops := make([]Patch, n)
	for i := range ops {
		p, err := readPatch(r)
		if err != nil {
			return Batch{}, err
		}
		ops[i] = p
	}
	return Batch{
		DocumentName: doc,
		BaseRevision: base,
		NewRevision:  rev,
		Kind:         BatchKind(kindByte),
		Operations:   ops,
	}, nil
}

func readPatch(r *bytes.Reader) (Patch, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Patch{}, err
	}
	pathLen, err := readUvarint(r)
	if err != nil {
		return Patch{}, err
	}
	path := make([]string, pathLen)
	for i := range path {
		tok, err := readString(r)
		if err != nil {
			return Patch{}, err
		}
		path[i] = tok
	}
	p := Patch{Kind: Kind(kindByte), Path: path}
	present, err := r.ReadByte()
	if err != nil {
		return Patch{}, err
	}
	if present == 0 {
		return p, nil
	}
	v, err := readValue(r)
	if err != nil {
		return Patch{}, err
	}
	p.Value = v
	return p, nil
}

// Value tags, independent of patch.Kind byte values above.
const (
	tagNull byte = iota
	tagBool
	tagNumber
	tagString
	tagBytes
	tagArray
	tagObject
)

func writeValue(w *bytes.Buffer, v value.Value) error {
	switch v.Kind() {
	case value.KindNull:
		w.WriteByte(tagNull)
	case value.KindBool:
		w.WriteByte(tagBool)
		if v.Bool() {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
	case value.KindNumber:
		w.WriteByte(tagNumber)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v.Number()))
		w.Write(buf[:])
	case value.KindString:
		w.WriteByte(tagString)
		writeString(w, v.String())
	case value.KindBytes:
		w.WriteByte(tagBytes)
		writeUvarint(w, uint64(len(v.BytesValue())))
		w.Write(v.BytesValue())
	case value.KindArray:
		w.WriteByte(tagArray)
		arr := v.Array()
		writeUvarint(w, uint64(len(arr)))
		for _, item := range arr {
			if err := writeValue(w, item); err != nil {
				return err
			}
		}
	case value.KindObject:
		w.WriteByte(tagObject)
		obj := v.Object()
		writeUvarint(w, uint64(obj.Len()))
		for _, k := range obj.Keys() {
			writeString(w, k)
			fv, _ := obj.Get(k)
			if err := writeValue(w, fv); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("patch: unknown value kind %v", v.Kind())
	}
	return nil
}

func readValue(r *bytes.Reader) (value.Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return value.Value{}, err
	}
	switch tag {
	case tagNull:
		return value.Null(), nil
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(b != 0), nil
	case tagNumber:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return value.Value{}, err
		}
		return value.Number(math.Float64frombits(binary.BigEndian.Uint64(buf[:]))), nil
	case tagString:
		s, err := readString(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.String(s), nil
	case tagBytes:
		n, err := readUvarint(r)
		if err != nil {
			return value.Value{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return value.Value{}, err
		}
		return value.Bytes(buf), nil
	case tagArray:
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
	case tagObject:
		n, err := readUvarint(r)
		if err != nil {
			return value.Value{}, err
		}
		obj := value.NewObject()
		for i := uint64(0); i < n; i++ {
			k, err := readString(r)
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
		return value.Value{}, fmt.Errorf("patch: unknown value tag %d", tag)
	}
}

func writeString(w *bytes.Buffer, s string) {
	writeUvarint(w, uint64(len(s)))
	w.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
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

func writeUvarint(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}
