package link

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Message types. Requests flow client→device, the rest device→client.
const (
	TypeGetConfig      = "getConfig"
	TypeUpdateConfig   = "updateConfig"
	TypeTriggerSOS     = "triggerSOS"
	TypeCalibration    = "calibration"
	TypeSensorData     = "sensorData"
	TypeAlert          = "alert"
	TypeConfig         = "config"
	TypeConfigResponse = "configResponse"
)

// ErrMalformed marks a frame that is not a valid envelope.
var ErrMalformed = errors.New("malformed frame")

// Envelope is one framed message: {"type":..., "id":..., "data":...}.
// updateConfig carries its patch under "config".
type Envelope struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// NewID returns a request identifier. Replies echo it for log correlation;
// responses are still matched by type.
func NewID() string { return uuid.NewString() }

// Encode marshals payload into the data field of a typed envelope.
func Encode(msgType, id string, payload interface{}) ([]byte, error) {
	env := Envelope{Type: msgType, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// EncodeConfigPatch builds an updateConfig request.
func EncodeConfigPatch(id string, patch interface{}) ([]byte, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config patch: %w", err)
	}
	return json.Marshal(Envelope{Type: TypeUpdateConfig, ID: id, Config: raw})
}

// Decode parses a frame. The type tag is mandatory.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Payload unmarshals the envelope's data into v.
func (e Envelope) Payload(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}
