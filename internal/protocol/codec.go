// ============================================================================
// Standby Failover - Task Protocol Codec
// ============================================================================
//
// Package: internal/protocol
// File: codec.go
// Purpose: Turn wire bytes into validated Messages and back
//
// Request schema (every field required unless noted):
//   { "type": "task" | "heartbeat",
//     "task_id": string (optional),
//     "data": [number, ...],
//     "operation": string }
//
// Reply schemas:
//   { "type": "heartbeat_ack" }
//   { "type": "result", "task_id": string, "result": [number, ...] }
//   { "type": "error", "message": string }
//
// Both schemas are declared once in schema.go and checked with gojsonschema.
// Validation happens here and only here. A Message returned by Decode is
// well formed; the handler dispatches on it without re-checking fields.
// Heartbeats are held to the same schema as tasks, so the canonical probe is
//   {"type":"heartbeat","data":[],"operation":""}
//
// Encoding writes one JSON object per message followed by '\n'. Field order
// is fixed per message type, so the same message always encodes to the same
// bytes.
//
// ============================================================================

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ChuLiYu/standby-failover/pkg/types"
)

// Decode parses one request (task or heartbeat) and validates it against
// requestSchema. Errors are always *DecodeError.
func Decode(b []byte) (Message, error) {
	if err := parseObject(b); err != nil {
		return nil, err
	}
	if err := validate(requestSchema, b); err != nil {
		return nil, err
	}

	var w requestIn
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, malformed(err.Error(), err)
	}
	data, err := toFloats("data", w.Data)
	if err != nil {
		return nil, err
	}

	if w.Type == types.TypeHeartbeat {
		return Heartbeat{}, nil
	}
	var taskID string
	if w.TaskID != nil {
		taskID = *w.TaskID
	}
	return Task{TaskID: taskID, Data: data, Operation: w.Operation}, nil
}

// DecodeReply parses one reply (heartbeat_ack, result or error).
func DecodeReply(b []byte) (Message, error) {
	if err := parseObject(b); err != nil {
		return nil, err
	}
	if err := validate(replyEnvelopeSchema, b); err != nil {
		return nil, err
	}

	var w replyIn
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, malformed(err.Error(), err)
	}

	switch w.Type {
	case types.TypeHeartbeatAck:
		return HeartbeatAck{}, nil

	case types.TypeResult:
		if err := validate(resultSchema, b); err != nil {
			return nil, err
		}
		result, err := toFloats("result", w.Result)
		if err != nil {
			return nil, err
		}
		var taskID string
		if w.TaskID != nil {
			taskID = *w.TaskID
		}
		return Result{TaskID: taskID, Result: result}, nil

	case types.TypeError:
		if err := validate(errorSchema, b); err != nil {
			return nil, err
		}
		return Error{Message: *w.Message}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, w.Type)
}

// Inbound shapes. Numbers stay json.Number until range-checked.
type (
	requestIn struct {
		Type      types.MessageType `json:"type"`
		TaskID    *string           `json:"task_id"`
		Data      []json.Number     `json:"data"`
		Operation string            `json:"operation"`
	}
	replyIn struct {
		Type    types.MessageType `json:"type"`
		TaskID  *string           `json:"task_id"`
		Result  []json.Number     `json:"result"`
		Message *string           `json:"message"`
	}
)

// toFloats converts validated numbers, rejecting ones a float64 cannot hold.
func toFloats(field string, nums []json.Number) ([]float64, error) {
	out := make([]float64, len(nums))
	for i, n := range nums {
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return nil, violation(field, fmt.Sprintf("element %d is not a number", i))
		}
		out[i] = f
	}
	return out, nil
}

// Wire layouts. Field order here is the field order on the wire.
type (
	requestWire struct {
		Type      types.MessageType `json:"type"`
		TaskID    *string           `json:"task_id,omitempty"`
		Data      []float64         `json:"data"`
		Operation string            `json:"operation"`
	}
	ackWire struct {
		Type types.MessageType `json:"type"`
	}
	resultWire struct {
		Type   types.MessageType `json:"type"`
		TaskID string            `json:"task_id"`
		Result []float64         `json:"result"`
	}
	errorWire struct {
		Type    types.MessageType `json:"type"`
		Message string            `json:"message"`
	}
)

// Encode serialises m as one newline-terminated JSON object.
// NaN and ±Inf have no JSON form and make Encode fail.
func Encode(m Message) ([]byte, error) {
	var v any
	switch msg := m.(type) {
	case Heartbeat:
		v = requestWire{Type: types.TypeHeartbeat, Data: []float64{}}
	case Task:
		id := msg.TaskID
		v = requestWire{Type: types.TypeTask, TaskID: &id, Data: nonNil(msg.Data), Operation: msg.Operation}
	case HeartbeatAck:
		v = ackWire{Type: types.TypeHeartbeatAck}
	case Result:
		v = resultWire{Type: types.TypeResult, TaskID: msg.TaskID, Result: nonNil(msg.Result)}
	case Error:
		v = errorWire{Type: types.TypeError, Message: msg.Message}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type(), err)
	}
	return append(b, '\n'), nil
}

func nonNil(s []float64) []float64 {
	if s == nil {
		return []float64{}
	}
	return s
}

// parseObject accepts exactly one JSON object, surrounding whitespace allowed.
func parseObject(b []byte) error {
	if len(bytes.TrimSpace(b)) == 0 {
		return malformed("empty payload", nil)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return malformed("expected a JSON object", err)
		}
		return malformed(err.Error(), err)
	}
	if fields == nil {
		return malformed("expected a JSON object", nil)
	}
	return nil
}
