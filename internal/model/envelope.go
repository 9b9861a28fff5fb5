package model

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Envelope is the framing for every inbound and outbound transport message:
// a type discriminator selecting the dispatch target, plus an opaque payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload in an envelope, marshaling the payload.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Data: data}, nil
}

// classificationSchema is the shape contract for classification payloads.
// Payloads failing it are dropped at the boundary, never propagated.
const classificationSchema = `{
  "type": "object",
  "required": ["timestamp", "source_ip", "destination_ip"],
  "properties": {
    "packet_id":      {"type": "integer"},
    "timestamp":      {"type": "string"},
    "source_ip":      {"type": "string"},
    "destination_ip": {"type": "string"},
    "protocol":       {"type": "string"},
    "packet_size":    {"type": "integer", "minimum": 0},
    "predicted_class":{"type": "string"},
    "confidence":     {"type": "number", "minimum": 0, "maximum": 1},
    "attack_type":    {"type": ["string", "null"]},
    "severity":       {"type": "string"}
  }
}`

var classificationLoader = gojsonschema.NewStringLoader(classificationSchema)

// ValidateClassification checks a raw classification payload against the
// wire schema before it is decoded.
func ValidateClassification(data []byte) error {
	result, err := gojsonschema.Validate(classificationLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate classification: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("classification payload rejected: %v", result.Errors())
	}
	return nil
}

// DecodeClassification validates and decodes a classification payload.
// Severity is normalized so unknown or absent values become normal.
func DecodeClassification(data []byte) (ClassifiedEvent, error) {
	if err := ValidateClassification(data); err != nil {
		return ClassifiedEvent{}, err
	}
	var ev ClassifiedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ClassifiedEvent{}, fmt.Errorf("decode classification: %w", err)
	}
	ev.Severity = ParseSeverity(string(ev.Severity))
	return ev, nil
}
