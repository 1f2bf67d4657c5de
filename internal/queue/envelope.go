package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// EnvelopeVersion is written into every envelope this build produces.
const EnvelopeVersion = 1

// ErrInvalidEnvelope is returned when a queue payload fails schema
// validation or does not match the expected kind.
var ErrInvalidEnvelope = errors.New("invalid queue envelope")

// Envelope wraps every domain payload stored in the queue.
type Envelope struct {
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

const envelopeSchema = `{
  "type": "object",
  "required": ["kind", "version", "payload"],
  "properties": {
    "kind": {"type": "string", "minLength": 1},
    "version": {"type": "integer", "minimum": 1},
    "payload": {"type": "object"}
  }
}`

// Codec encodes and validates envelopes of a single kind.
type Codec struct {
	kind     string
	envelope *jsonschema.Schema
	payload  *jsonschema.Schema
}

// NewCodec compiles payloadSchema, a JSON Schema document, for envelopes of
// the given kind.
func NewCodec(kind, payloadSchema string) (*Codec, error) {
	c := jsonschema.NewCompiler()
	if err := addSchema(c, "envelope.json", envelopeSchema); err != nil {
		return nil, err
	}
	if err := addSchema(c, kind+".json", payloadSchema); err != nil {
		return nil, err
	}

	env, err := c.Compile("envelope.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", err)
	}
	payload, err := c.Compile(kind + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s payload schema: %w", kind, err)
	}
	return &Codec{kind: kind, envelope: env, payload: payload}, nil
}

// MustCodec is NewCodec for package-level schemas known to be valid.
func MustCodec(kind, payloadSchema string) *Codec {
	c, err := NewCodec(kind, payloadSchema)
	if err != nil {
		panic(err)
	}
	return c
}

func addSchema(c *jsonschema.Compiler, name, src string) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("failed to parse schema %s: %w", name, err)
	}
	if err := c.AddResource(name, doc); err != nil {
		return fmt.Errorf("failed to add schema %s: %w", name, err)
	}
	return nil
}

// Encode marshals v into an envelope of the codec's kind.
func (c *Codec) Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", c.kind, err)
	}
	return json.Marshal(Envelope{Kind: c.kind, Version: EnvelopeVersion, Payload: payload})
}

// Decode validates raw and unmarshals its payload into v. Validation
// failures wrap ErrInvalidEnvelope.
func (c *Codec) Decode(raw []byte, v any) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := c.envelope.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	obj := doc.(map[string]any)
	if kind, _ := obj["kind"].(string); kind != c.kind {
		return fmt.Errorf("%w: kind %q, want %q", ErrInvalidEnvelope, kind, c.kind)
	}
	if err := c.payload.Validate(obj["payload"]); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

// PeekField extracts a top-level string field from an envelope payload
// without validating it. Buffers use it to find the job an unreadable entry
// belonged to.
func PeekField(raw []byte, field string) string {
	var env struct {
		Payload map[string]json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Payload[field], &s); err != nil {
		return ""
	}
	return s
}

// PeekInt is PeekField for integer fields such as job ids.
func PeekInt(raw []byte, field string) (int64, bool) {
	var env struct {
		Payload map[string]json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(env.Payload[field], &n); err != nil {
		return 0, false
	}
	return n, true
}
