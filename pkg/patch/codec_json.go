package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docsync/docsync/pkg/value"
)

// jsonPatch is the RFC 6902-flavored wire shape for a single Patch: path
// is a `/`-joined JSON Pointer (RFC 6901), e.g. "/entities/e1/x", with
// `~` and `/` escaped within a token per RFC 6901 (`~0`, `~1`).
type jsonPatch struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// encodePointer joins path tokens into an RFC 6901 JSON Pointer.
func encodePointer(path []string) string {
	if len(path) == 0 {
		return ""
	}
	var b strings.Builder
	for _, tok := range path {
		b.WriteByte('/')
		b.WriteString(strings.NewReplacer("~", "~0", "/", "~1").Replace(tok))
	}
	return b.String()
}

// decodePointer splits an RFC 6901 JSON Pointer back into path tokens.
func decodePointer(pointer string) []string {
	if pointer == "" {
		return nil
	}
	raw := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	tokens := make([]string, len(raw))
	unescape := strings.NewReplacer("~1", "/", "~0", "~")
	for i, tok := range raw {
		tokens[i] = unescape.Replace(tok)
	}
	return tokens
}

type jsonBatch struct {
	Document string      `json:"document"`
	Base     uint64      `json:"base"`
	Rev      uint64      `json:"rev"`
	Kind     string      `json:"kind"`
	Ops      []jsonPatch `json:"ops"`
}

func (k Kind) marshalOp() string { return k.String() }

func parseOp(s string) (Kind, error) {
	switch s {
	case "add":
		return KindAdd, nil
	case "remove":
		return KindRemove, nil
	case "replace":
		return KindReplace, nil
	default:
		return 0, fmt.Errorf("patch: unknown op %q", s)
	}
}

func (bk BatchKind) marshalKind() string {
	if bk == BatchSnapshot {
		return "snapshot"
	}
	return "incremental"
}

func parseBatchKind(s string) (BatchKind, error) {
	switch s {
	case "snapshot":
		return BatchSnapshot, nil
	case "incremental":
		return BatchIncremental, nil
	default:
		return 0, fmt.Errorf("patch: unknown batch kind %q", s)
	}
}

// EncodeJSON renders a Batch as the JSON wire form used by the Session
// layer's PatchBatch server message.
func EncodeJSON(b Batch) ([]byte, error) {
	jb := jsonBatch{
		Document: b.DocumentName,
		Base:     b.BaseRevision,
		Rev:      b.NewRevision,
		Kind:     b.Kind.marshalKind(),
		Ops:      make([]jsonPatch, len(b.Operations)),
	}
	for i, op := range b.Operations {
		jp := jsonPatch{Op: op.Kind.marshalOp(), Path: encodePointer(op.Path)}
		if op.Kind != KindRemove {
			vb, err := op.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			jp.Value = vb
		}
		jb.Ops[i] = jp
	}
	return json.Marshal(jb)
}

// DecodeJSON parses a Batch previously produced by EncodeJSON.
func DecodeJSON(data []byte) (Batch, error) {
	var jb jsonBatch
	if err := json.Unmarshal(data, &jb); err != nil {
		return Batch{}, err
	}
	kind, err := parseBatchKind(jb.Kind)
	if err != nil {
		return Batch{}, err
	}
	ops := make([]Patch, len(jb.Ops))
	for i, jp := range jb.Ops {
		opKind, err := parseOp(jp.Op)
		if err != nil {
			return Batch{}, err
		}
		p := Patch{Kind: opKind, Path: decodePointer(jp.Path)}
		if opKind != KindRemove {
			var v value.Value
			dec := bytes.NewReader(jp.Value)
			if dec.Len() == 0 {
				return Batch{}, fmt.Errorf("patch: missing value for op %q at %v", jp.Op, jp.Path)
			}
			if err := v.UnmarshalJSON(jp.Value); err != nil {
				return Batch{}, err
			}
			p.Value = v
		}
		ops[i] = p
	}
	return Batch{
		DocumentName: jb.Document,
		BaseRevision: jb.Base,
		NewRevision:  jb.Rev,
		Kind:         kind,
		Operations:   ops,
	}, nil
}
