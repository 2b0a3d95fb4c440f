// Package envelope defines the immutable typed message carrier that flows
// between nodes on every edge. An Envelope never mutates after creation;
// every transformation returns a new instance.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContentType tags the shape of an Envelope's body.
type ContentType string

const (
	RawText           ContentType = "RAW_TEXT"
	Object            ContentType = "OBJECT"
	Binary            ContentType = "BINARY"
	ConversationState ContentType = "CONVERSATION_STATE"
)

// ContentTypeMismatchError is returned when an accessor is called against an
// Envelope whose content_type does not match the requested view.
type ContentTypeMismatchError struct {
	Want ContentType
	Have ContentType
}

func (e *ContentTypeMismatchError) Error() string {
	return fmt.Sprintf("envelope content type mismatch: want %s, have %s", e.Want, e.Have)
}

// NodeID is a local alias kept string-based to avoid an import cycle with
// pkg/diagram; both packages agree on the opaque string representation.
type NodeID string

// Envelope is the immutable message carried by a Token across an edge.
type Envelope struct {
	body        any
	contentType ContentType
	producedBy  NodeID
	errorTag    string
	meta        map[string]any
}

// New constructs an Envelope with an empty, Envelope-owned meta map;
// metadata is added afterwards through the With* helpers.
func New(body any, contentType ContentType, producedBy NodeID) Envelope {
	return Envelope{
		body:        body,
		contentType: contentType,
		producedBy:  producedBy,
		meta:        map[string]any{},
	}
}

// NewError builds an error-tagged Envelope. The body, when present, carries
// whatever partial output the handler managed to produce.
func NewError(errorTag string, producedBy NodeID, body any) Envelope {
	e := New(body, Object, producedBy)
	e.errorTag = errorTag
	return e
}

func (e Envelope) cloneMeta() map[string]any {
	out := make(map[string]any, len(e.meta)+1)
	for k, v := range e.meta {
		out[k] = v
	}
	return out
}

// ContentType returns the Envelope's declared content type.
func (e Envelope) ContentType() ContentType { return e.contentType }

// ProducedBy returns the node that emitted this Envelope.
func (e Envelope) ProducedBy() NodeID { return e.producedBy }

// HasError reports whether this Envelope signals a handler failure.
func (e Envelope) HasError() bool { return e.errorTag != "" }

// ErrorTag returns the error tag, or "" if HasError is false.
func (e Envelope) ErrorTag() string { return e.errorTag }

// Meta returns a snapshot of the metadata map. Callers must not assume
// mutations to the returned map affect the Envelope; none do.
func (e Envelope) Meta() map[string]any { return e.cloneMeta() }

// MetaEpoch reads the conventional "epoch" metadata key.
func (e Envelope) MetaEpoch() (int, bool) {
	v, ok := e.meta["epoch"]
	if !ok {
		return 0, false
	}
	n, ok := toInt(v)
	return n, ok
}

// MetaIteration reads the conventional "iteration" metadata key.
func (e Envelope) MetaIteration() (int, bool) {
	v, ok := e.meta["iteration"]
	if !ok {
		return 0, false
	}
	n, ok := toInt(v)
	return n, ok
}

// MetaBranch reads the conventional "branch" metadata key used by CONDITION
// handlers to record which handle activated.
func (e Envelope) MetaBranch() (bool, bool) {
	v, ok := e.meta["branch"]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// WithMeta returns a new Envelope with the given key set in its metadata.
// The receiver is left untouched.
func (e Envelope) WithMeta(key string, value any) Envelope {
	out := e
	out.meta = e.cloneMeta()
	out.meta[key] = value
	return out
}

// WithMetaMap merges the given entries into a new Envelope's metadata.
func (e Envelope) WithMetaMap(entries map[string]any) Envelope {
	out := e
	out.meta = e.cloneMeta()
	for k, v := range entries {
		out.meta[k] = v
	}
	return out
}

// WithIteration stamps the loop iteration index this Envelope belongs to.
func (e Envelope) WithIteration(i int) Envelope {
	return e.WithMeta("iteration", i)
}

// WithTimestamp stamps t as the creation time under the "timestamp" meta key.
func (e Envelope) WithTimestamp(t time.Time) Envelope {
	return e.WithMeta("timestamp", t)
}

// AsText returns the body as a string. Valid only for RAW_TEXT; an OBJECT
// body, even one that happens to be a string, is rejected here since this
// accessor performs no coercion. InputResolver's coercion step produces a
// genuine RAW_TEXT Envelope (via MarshalCanonicalJSON) before a consumer
// ever calls AsText on it.
func (e Envelope) AsText() (string, error) {
	if e.contentType != RawText {
		return "", &ContentTypeMismatchError{Want: RawText, Have: e.contentType}
	}
	s, ok := e.body.(string)
	if !ok {
		return "", fmt.Errorf("envelope body is not a string despite RAW_TEXT content type")
	}
	return s, nil
}

// AsJSON returns the body as a structured value. Valid for OBJECT bodies.
func (e Envelope) AsJSON() (any, error) {
	if e.contentType != Object {
		return nil, &ContentTypeMismatchError{Want: Object, Have: e.contentType}
	}
	return e.body, nil
}

// AsBinary returns the body as a byte slice. Valid for BINARY bodies.
func (e Envelope) AsBinary() ([]byte, error) {
	if e.contentType != Binary {
		return nil, &ContentTypeMismatchError{Want: Binary, Have: e.contentType}
	}
	b, ok := e.body.([]byte)
	if !ok {
		return nil, fmt.Errorf("envelope body is not []byte despite BINARY content type")
	}
	return b, nil
}

// Body returns the raw, uncoerced body regardless of content type. Used by
// InputResolver when it needs to inspect a value before deciding a coercion.
func (e Envelope) Body() any { return e.body }

// MarshalCanonicalJSON serializes an OBJECT body using Go's stable map-key
// ordering, the canonical form InputResolver relies on for OBJECT -> RAW_TEXT
// coercion.
func (e Envelope) MarshalCanonicalJSON() (string, error) {
	if e.contentType != Object {
		return "", &ContentTypeMismatchError{Want: Object, Have: e.contentType}
	}
	data, err := json.Marshal(e.body)
	if err != nil {
		return "", fmt.Errorf("canonical json serialization failed: %w", err)
	}
	return string(data), nil
}
