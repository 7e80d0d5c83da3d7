// Package codec wraps mind-map payloads in the persisted document envelope
// and applies the base64 transport encoding used by the contents API.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skillre/mindmap-qoder/internal/clock"
)

const (
	// FormatVersion is written on every save. Envelopes without a version
	// are read as this version.
	FormatVersion = "1.0"

	// DefaultTitle is used when the payload carries no root text.
	DefaultTitle = "思维导图"

	// TimeLayout is ISO-8601 UTC with millisecond precision.
	TimeLayout = "2006-01-02T15:04:05.000Z"
)

// ErrMalformed is returned when stored bytes are not a valid envelope.
var ErrMalformed = errors.New("malformed document envelope")

// ErrNotObject is returned when a payload to be saved is not a JSON object.
var ErrNotObject = errors.New("payload must be a JSON object")

// DecodeError describes why a document could not be decoded.
type DecodeError struct {
	Stage string // "transport" or "envelope"
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

// Metadata is owned by the codec and refreshed on every write.
type Metadata struct {
	Title    string `json:"title"`
	Created  string `json:"created"`
	Modified string `json:"modified"`
	Author   string `json:"author"`
}

// Envelope is the persisted document: format version, metadata and the
// opaque editor payload.
type Envelope struct {
	Version  string          `json:"version"`
	Metadata Metadata        `json:"metadata"`
	Data     json.RawMessage `json:"data"`
}

// Codec builds and parses envelopes.
type Codec struct {
	clock clock.Clock
}

// New creates a Codec. A nil clock uses the wall clock.
func New(c clock.Clock) *Codec {
	if c == nil {
		c = clock.Real{}
	}
	return &Codec{clock: c}
}

// Wrap builds the envelope for payload. Created and Author are carried over
// from prior when present; Modified is always the current time.
func (c *Codec) Wrap(payload json.RawMessage, prior *Envelope, author string) (*Envelope, error) {
	if err := CheckPayload(payload); err != nil {
		return nil, err
	}
	data, err := compact(payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	now := c.clock.Now().UTC().Format(TimeLayout)

	env := &Envelope{
		Version: FormatVersion,
		Metadata: Metadata{
			Title:    TitleOf(data),
			Created:  now,
			Modified: now,
			Author:   author,
		},
		Data: data,
	}
	if prior != nil {
		if prior.Metadata.Created != "" {
			env.Metadata.Created = prior.Metadata.Created
		}
		if prior.Metadata.Author != "" {
			env.Metadata.Author = prior.Metadata.Author
		}
	}
	return env, nil
}

// Encode wraps payload and returns the transport-encoded bytes together with
// the envelope that was written.
func (c *Codec) Encode(payload json.RawMessage, prior *Envelope, author string) ([]byte, *Envelope, error) {
	env, err := c.Wrap(payload, prior, author)
	if err != nil {
		return nil, nil, err
	}
	text, err := MarshalEnvelope(env)
	if err != nil {
		return nil, nil, err
	}
	return EncodeTransport(text), env, nil
}

// Decode reverses Encode. It does not attempt partial recovery.
func (c *Codec) Decode(b []byte) (*Envelope, error) {
	text, err := DecodeTransport(b)
	if err != nil {
		return nil, err
	}
	return UnmarshalEnvelope(text)
}

// MarshalEnvelope renders the canonical text form: two-space indented JSON
// with a fixed key order.
func MarshalEnvelope(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("nil envelope")
	}
	out := *env
	if out.Version == "" {
		out.Version = FormatVersion
	}
	if len(out.Data) == 0 {
		out.Data = json.RawMessage("null")
	}
	return json.MarshalIndent(out, "", "  ")
}

// UnmarshalEnvelope parses the canonical text form.
func UnmarshalEnvelope(text []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, &DecodeError{Stage: "envelope", Err: err}
	}
	if _, ok := raw["data"]; !ok {
		return nil, &DecodeError{Stage: "envelope", Err: errors.New(`missing "data"`)}
	}

	var env Envelope
	if err := json.Unmarshal(text, &env); err != nil {
		return nil, &DecodeError{Stage: "envelope", Err: err}
	}
	data, err := compact(env.Data)
	if err != nil {
		return nil, &DecodeError{Stage: "envelope", Err: err}
	}
	env.Data = data
	if env.Version == "" {
		env.Version = FormatVersion
	}
	return &env, nil
}

// EncodeTransport applies standard base64.
func EncodeTransport(text []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(text)))
	base64.StdEncoding.Encode(out, text)
	return out
}

// DecodeTransport reverses EncodeTransport. Line breaks inserted by the
// host are ignored.
func DecodeTransport(b []byte) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, string(b))
	text, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, &DecodeError{Stage: "transport", Err: err}
	}
	return text, nil
}

// ParseTime parses an envelope timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// CheckPayload rejects payloads the editor never produces: empty input,
// null and any other non-object value.
func CheckPayload(payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return errors.New("empty payload")
	}
	if trimmed[0] != '{' {
		return ErrNotObject
	}
	return nil
}

func compact(data json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty payload")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}
