package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Command is a flat JSON object sent to the daemon. Every command carries
// "id" and "action"; other keys are action specific.
type Command map[string]any

const (
	keyID     = "id"
	keyAction = "action"
)

// NewCommand builds a command for action with a fresh id. fields are copied;
// an "id" or "action" inside fields is overridden.
func NewCommand(action string, fields map[string]any) Command {
	cmd := make(Command, len(fields)+2)
	for k, v := range fields {
		cmd[k] = v
	}
	cmd[keyAction] = action
	cmd[keyID] = NewID()
	return cmd
}

// NewID returns a request id of the form r<micros>-<hex>. The microsecond
// component keeps ids readable in logs; the random suffix removes collisions
// between invocations started in the same microsecond.
func NewID() string {
	micros := time.Now().UnixMicro() % 1_000_000
	return fmt.Sprintf("r%d-%s", micros, uuid.NewString()[:8])
}

// ID returns the command id, or "" when absent or not a string.
func (c Command) ID() string {
	id, _ := c[keyID].(string)
	return id
}

// Action returns the command action, or "" when absent or not a string.
func (c Command) Action() string {
	action, _ := c[keyAction].(string)
	return action
}

// EnsureID assigns a fresh id when the command has none and returns the id.
func (c Command) EnsureID() string {
	if id := c.ID(); id != "" {
		return id
	}
	id := NewID()
	c[keyID] = id
	return id
}

// String returns the command's string field key, or "".
func (c Command) String(key string) string {
	v, _ := c[key].(string)
	return v
}

// Response answers exactly one Command.
type Response struct {
	ID      string          `json:"id,omitempty"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// OK builds a successful response carrying data. A nil data omits the field.
func OK(id string, data any) Response {
	resp := Response{ID: id, Success: true}
	if data == nil {
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail(id, fmt.Sprintf("encode response data: %v", err))
	}
	resp.Data = raw
	return resp
}

// Fail builds a failed response with a human-readable message.
func Fail(id, message string) Response {
	return Response{ID: id, Success: false, Error: message}
}

// DecodeData unmarshals the response payload into v.
func (r *Response) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: response has no data", ErrProtocol)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrProtocol, err)
	}
	return nil
}

// wireResponse distinguishes a missing "success" from false.
type wireResponse struct {
	ID      *string         `json:"id"`
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}
