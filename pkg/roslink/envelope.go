package roslink

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Op constants for the rosbridge envelope protocol. Every wire frame is a
// JSON object discriminated by its "op" field.
const (
	OpPublish         = "publish"
	OpSubscribe       = "subscribe"
	OpUnsubscribe     = "unsubscribe"
	OpAdvertise       = "advertise"
	OpUnadvertise     = "unadvertise"
	OpCallService     = "call_service"
	OpServiceResponse = "service_response"
	OpPNG             = "png"
)

// Compression modes accepted by rosbridge subscriptions.
const (
	CompressionNone = "none"
	CompressionPNG  = "png"
)

var (
	ErrBadFrame      = errors.New("roslink: malformed frame")
	ErrNoDecompessor = errors.New("roslink: compressed frame but no decompressor configured")
)

// Envelope is the wire representation of a rosbridge protocol message.
// Fields are op-specific; omitempty keeps each op's serialization down to
// the fields that op defines.
type Envelope struct {
	Op           string          `json:"op"`
	ID           string          `json:"id,omitempty"`
	Topic        string          `json:"topic,omitempty"`
	Type         string          `json:"type,omitempty"`
	Msg          json.RawMessage `json:"msg,omitempty"`
	Service      string          `json:"service,omitempty"`
	Args         []any           `json:"args,omitempty"`
	Values       json.RawMessage `json:"values,omitempty"`
	Result       *bool           `json:"result,omitempty"`
	Compression  string          `json:"compression,omitempty"`
	ThrottleRate int             `json:"throttle_rate,omitempty"`
	QueueSize    int             `json:"queue_size,omitempty"`
	QueueLength  int             `json:"queue_length,omitempty"`
	Latch        bool            `json:"latch,omitempty"`
	Data         string          `json:"data,omitempty"`
}

// DecompressFunc is the compression collaborator contract: given the base64
// payload of a compressed frame, return the decompressed JSON text.
type DecompressFunc func(data string) ([]byte, error)

// EncodeEnvelope serializes an outbound envelope verbatim to its JSON text
// form. No field renaming or validation happens here.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses one inbound frame. A frame whose op is "png" is
// handed to the decompressor and the result is parsed as the true envelope.
// A parse failure at either level is an error for this frame only; the
// caller drops the frame and keeps the connection.
func DecodeEnvelope(data []byte, decompress DecompressFunc) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	if env.Op != OpPNG {
		return &env, nil
	}

	if decompress == nil {
		return nil, ErrNoDecompessor
	}

	inner, err := decompress(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrBadFrame, err)
	}

	var decoded Envelope
	if err := json.Unmarshal(inner, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decompressed payload: %v", ErrBadFrame, err)
	}
	return &decoded, nil
}
