package protocol

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/ChuLiYu/standby-failover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Decode
// ============================================================================

func TestDecodeHeartbeat(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"heartbeat","data":[],"operation":""}`))
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{}, msg)
	assert.Equal(t, types.TypeHeartbeat, msg.Type())
}

func TestDecodeTask(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"task","task_id":"t-1","data":[0,1.5,-1,3.1415],"operation":"math_formula"}`))
	require.NoError(t, err)

	task, ok := msg.(Task)
	require.True(t, ok, "expected Task, got %T", msg)
	assert.Equal(t, "t-1", task.TaskID)
	assert.Equal(t, []float64{0, 1.5, -1, 3.1415}, task.Data)
	assert.Equal(t, "math_formula", task.Operation)
}

func TestDecodeTaskWithoutTaskID(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"task","data":[1],"operation":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "", msg.(Task).TaskID)
}

func TestDecodeEmptyDataAndOperation(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"task","data":[],"operation":""}`))
	require.NoError(t, err)

	task := msg.(Task)
	assert.NotNil(t, task.Data, "empty data should decode to an empty, non-nil slice")
	assert.Len(t, task.Data, 0)
	assert.Equal(t, "", task.Operation)
}

func TestDecodeToleratesWhitespaceAndNewline(t *testing.T) {
	_, err := Decode([]byte("  {\"type\":\"heartbeat\",\"data\":[],\"operation\":\"\"}\n"))
	assert.NoError(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
	}{
		{"not json", "hola no soy JSON"},
		{"empty", ""},
		{"whitespace", "   \n"},
		{"array", `[1,2,3]`},
		{"string", `"task"`},
		{"null", `null`},
		{"truncated", `{"type":"task","data":[1,2`},
		{"trailing garbage", `{"type":"heartbeat","data":[],"operation":""} xyz`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode([]byte(tc.payload))
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, ErrMalformed), "want ErrMalformed, got %v", err)
			assert.False(t, errors.Is(err, ErrSchemaViolation))

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, Malformed, de.Kind)
			assert.True(t, strings.HasPrefix(err.Error(), "malformed message: "))
		})
	}
}

func TestDecodeSchemaViolations(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		field   string
	}{
		{"missing type", `{"data":[],"operation":""}`, "type"},
		{"type not string", `{"type":1,"data":[],"operation":""}`, "type"},
		{"unknown type", `{"type":"result","data":[],"operation":""}`, "type"},
		{"missing data", `{"type":"task","operation":"math_formula"}`, "data"},
		{"null data", `{"type":"task","data":null,"operation":""}`, "data"},
		{"data not array", `{"type":"task","data":"1,2","operation":""}`, "data"},
		{"data with string", `{"type":"task","data":[1,"2"],"operation":""}`, "data"},
		{"data with null", `{"type":"task","data":[1,null],"operation":""}`, "data"},
		{"data with bool", `{"type":"task","data":[true],"operation":""}`, "data"},
		{"data out of range", `{"type":"task","data":[1e400],"operation":""}`, "data"},
		{"missing operation", `{"type":"task","data":[1]}`, "operation"},
		{"operation not string", `{"type":"task","data":[1],"operation":5}`, "operation"},
		{"task_id not string", `{"type":"task","task_id":7,"data":[1],"operation":""}`, "task_id"},
		{"heartbeat missing data", `{"type":"heartbeat","operation":""}`, "data"},
		{"heartbeat missing operation", `{"type":"heartbeat","data":[]}`, "operation"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSchemaViolation), "want ErrSchemaViolation, got %v", err)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tc.field, de.Field)
			assert.Contains(t, err.Error(), `"`+tc.field+`"`)
		})
	}
}

func TestDecodeReportsFirstInvalidField(t *testing.T) {
	// both data and operation are missing; data is checked first
	_, err := Decode([]byte(`{"type":"task"}`))

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "data", de.Field)
}

func TestDecodeViolationText(t *testing.T) {
	testCases := []struct {
		payload string
		want    string
	}{
		{`{"type":"task","operation":""}`, `schema violation: "data" is a required property`},
		{`{"type":"task","data":[1,"2"],"operation":""}`, `schema violation: "data" element 1 is not a number`},
		{`{"type":"task","data":{},"operation":""}`, `schema violation: "data" must be an array of numbers`},
		{`{"type":"task","data":[],"operation":null}`, `schema violation: "operation" must be a string`},
		{`{"type":"ack","data":[],"operation":""}`, `schema violation: "type" must be one of`},
	}

	for _, tc := range testCases {
		_, err := Decode([]byte(tc.payload))
		require.Error(t, err, tc.payload)
		assert.Contains(t, err.Error(), tc.want, tc.payload)
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"task","data":[2],"operation":"identity","priority":9}`))
	require.NoError(t, err)
	assert.Equal(t, Task{Data: []float64{2}, Operation: "identity"}, msg)
}

// ============================================================================
// DecodeReply
// ============================================================================

func TestDecodeReply(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		want    Message
	}{
		{"ack", `{"type":"heartbeat_ack"}`, HeartbeatAck{}},
		{"result", `{"type":"result","task_id":"a","result":[1,2]}`, Result{TaskID: "a", Result: []float64{1, 2}}},
		{"result without id", `{"type":"result","result":[]}`, Result{Result: []float64{}}},
		{"error", `{"type":"error","message":"boom"}`, Error{Message: "boom"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := DecodeReply([]byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.want, msg)
		})
	}
}

func TestDecodeReplyRejectsRequests(t *testing.T) {
	_, err := DecodeReply([]byte(`{"type":"heartbeat","data":[],"operation":""}`))
	assert.True(t, errors.Is(err, ErrSchemaViolation))

	_, err = DecodeReply([]byte(`{"type":"result"}`))
	assert.True(t, errors.Is(err, ErrSchemaViolation))

	_, err = DecodeReply([]byte(`{"type":"error"}`))
	assert.True(t, errors.Is(err, ErrSchemaViolation))

	_, err = DecodeReply([]byte(`{"type":"result","result":[1,"x"]}`))
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "result", de.Field)
}

// ============================================================================
// Encode
// ============================================================================

func TestEncodeWireFormat(t *testing.T) {
	testCases := []struct {
		name string
		msg  Message
		want string
	}{
		{"heartbeat", Heartbeat{}, `{"type":"heartbeat","data":[],"operation":""}`},
		{"task", Task{TaskID: "t", Data: []float64{1, 2.5}, Operation: "sin"}, `{"type":"task","task_id":"t","data":[1,2.5],"operation":"sin"}`},
		{"ack", HeartbeatAck{}, `{"type":"heartbeat_ack"}`},
		{"result", Result{TaskID: "", Result: nil}, `{"type":"result","task_id":"","result":[]}`},
		{"error", Error{Message: "bad"}, `{"type":"error","message":"bad"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(tc.msg)
			require.NoError(t, err)
			assert.Equal(t, tc.want+"\n", string(b))
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	task := Task{TaskID: "x", Data: []float64{3, 1, 2}, Operation: "identity"}

	first, err := Encode(task)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Encode(task)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEncodeRejectsNonFinite(t *testing.T) {
	_, err := Encode(Result{Result: []float64{math.NaN()}})
	assert.Error(t, err)

	_, err = Encode(Result{Result: []float64{math.Inf(1)}})
	assert.Error(t, err)
}

func TestTaskRoundTrip(t *testing.T) {
	tasks := []Task{
		{TaskID: "job-1", Data: []float64{0, 1, -1, 3.1415}, Operation: "math_formula"},
		{TaskID: "", Data: []float64{}, Operation: ""},
		{TaskID: "big", Data: []float64{1e6, -1e6, 1e-300, math.MaxFloat64}, Operation: "identity"},
		{TaskID: "ユニコード", Data: []float64{42}, Operation: "op with spaces"},
	}

	for _, task := range tasks {
		b, err := Encode(task)
		require.NoError(t, err)

		msg, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, task, msg)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	b, err := Encode(Heartbeat{})
	require.NoError(t, err)

	msg, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{}, msg)
}

func TestReplyRoundTrip(t *testing.T) {
	for _, m := range []Message{HeartbeatAck{}, Result{TaskID: "r", Result: []float64{0.5}}, Error{Message: "nope"}} {
		b, err := Encode(m)
		require.NoError(t, err)

		got, err := DecodeReply(b)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

// ============================================================================
// ReadRecord
// ============================================================================

func TestReadRecord(t *testing.T) {
	raw, err := ReadRecord(strings.NewReader(`{"type":"heartbeat","data":[],"operation":""}`), 0)
	require.NoError(t, err)

	msg, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{}, msg)
}

func TestReadRecordStopsAtFirstRecord(t *testing.T) {
	r := strings.NewReader("{\"a\":1}\n{\"b\":2}\n")
	raw, err := ReadRecord(r, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}

func TestReadRecordNothingSent(t *testing.T) {
	_, err := ReadRecord(bytes.NewReader(nil), 0)
	assert.Equal(t, io.EOF, err)
}

func TestReadRecordMalformed(t *testing.T) {
	_, err := ReadRecord(strings.NewReader("hola no soy JSON"), 0)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = ReadRecord(strings.NewReader(`{"type":"task"`), 0)
	assert.True(t, errors.Is(err, ErrMalformed))
	assert.Contains(t, err.Error(), "incomplete")
}

func TestReadRecordTooLarge(t *testing.T) {
	payload := `{"type":"task","data":[` + strings.Repeat("1,", 100) + `1],"operation":""}`
	_, err := ReadRecord(strings.NewReader(payload), 32)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
	assert.Contains(t, err.Error(), "exceeds 32 bytes")
}
