package server

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/ChuLiYu/standby-failover/internal/metrics"
	"github.com/ChuLiYu/standby-failover/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// roundTrip runs one handler cycle over an in-memory pipe and returns the
// raw reply bytes.
func roundTrip(t *testing.T, h *Handler, payload string) []byte {
	t.Helper()

	client, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeConn(srv)
	}()

	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	// The handler may stop reading before the whole payload is consumed,
	// so the write must not block the read below.
	go func() {
		_, _ = client.Write([]byte(payload))
	}()
	reply, err := io.ReadAll(client)
	require.NoError(t, err)
	client.Close()

	<-done
	return reply
}

func decodeReply(t *testing.T, b []byte) protocol.Message {
	t.Helper()
	msg, err := protocol.DecodeReply(b)
	require.NoError(t, err, "reply %q should decode", b)
	return msg
}

type panicProcessor struct{}

func (panicProcessor) Process(string, []float64) []float64 { panic("boom") }

type shortProcessor struct{}

func (shortProcessor) Process(string, []float64) []float64 { return nil }

// ============================================================================
// Dispatch
// ============================================================================

func TestHandlerHeartbeat(t *testing.T) {
	reply := roundTrip(t, &Handler{}, `{"type":"heartbeat","data":[],"operation":""}`)

	assert.JSONEq(t, `{"type":"heartbeat_ack"}`, string(reply))
	assert.Equal(t, protocol.HeartbeatAck{}, decodeReply(t, reply))
}

func TestHandlerTask(t *testing.T) {
	data := `[0.0, 1.0, -1.0, 3.1415]`
	reply := roundTrip(t, &Handler{}, `{"type":"task","task_id":"t-9","data":`+data+`,"operation":"math_formula"}`+"\n")

	msg := decodeReply(t, reply)
	result, ok := msg.(protocol.Result)
	require.True(t, ok, "expected Result, got %T", msg)
	assert.Equal(t, "t-9", result.TaskID)
	assert.Len(t, result.Result, 4)
}

func TestHandlerTaskEchoesEmptyTaskID(t *testing.T) {
	reply := roundTrip(t, &Handler{}, `{"type":"task","data":[1,2],"operation":"add_one"}`)

	assert.JSONEq(t, `{"type":"result","task_id":"","result":[2,3]}`, string(reply))
}

func TestHandlerEmptyData(t *testing.T) {
	reply := roundTrip(t, &Handler{}, `{"type":"task","data":[],"operation":"math_formula"}`)

	result := decodeReply(t, reply).(protocol.Result)
	assert.Empty(t, result.Result)
}

func TestHandlerExtremeValues(t *testing.T) {
	reply := roundTrip(t, &Handler{}, `{"type":"task","data":[0, 1e6, -1e6],"operation":""}`)

	result := decodeReply(t, reply).(protocol.Result)
	assert.Len(t, result.Result, 3)
}

// ============================================================================
// Error replies
// ============================================================================

func TestHandlerInvalidJSON(t *testing.T) {
	reply := roundTrip(t, &Handler{}, "hola no soy JSON")

	msg := decodeReply(t, reply)
	errMsg, ok := msg.(protocol.Error)
	require.True(t, ok, "expected Error, got %T", msg)
	assert.Contains(t, errMsg.Message, "malformed")
}

func TestHandlerMissingData(t *testing.T) {
	reply := roundTrip(t, &Handler{}, `{"type":"task","operation":"math_formula"}`)

	errMsg := decodeReply(t, reply).(protocol.Error)
	assert.Contains(t, errMsg.Message, "data")
}

func TestHandlerMissingFields(t *testing.T) {
	testCases := []struct {
		payload string
		field   string
	}{
		{`{"data":[],"operation":""}`, "type"},
		{`{"type":"task","data":[1]}`, "operation"},
		{`{"type":"ping","data":[],"operation":""}`, "type"},
	}

	for _, tc := range testCases {
		errMsg := decodeReply(t, roundTrip(t, &Handler{}, tc.payload)).(protocol.Error)
		assert.Contains(t, errMsg.Message, tc.field)
	}
}

func TestHandlerMessageTooLarge(t *testing.T) {
	h := &Handler{MaxMessageSize: 16}
	reply := roundTrip(t, h, `{"type":"task","data":[1,2,3],"operation":""}`)

	errMsg := decodeReply(t, reply).(protocol.Error)
	assert.Contains(t, errMsg.Message, "exceeds 16 bytes")
}

func TestHandlerProcessorPanic(t *testing.T) {
	reply := roundTrip(t, &Handler{Processor: panicProcessor{}}, `{"type":"task","task_id":"p","data":[1],"operation":""}`)

	errMsg := decodeReply(t, reply).(protocol.Error)
	assert.Contains(t, errMsg.Message, "boom")
}

func TestHandlerProcessorLengthMismatch(t *testing.T) {
	reply := roundTrip(t, &Handler{Processor: shortProcessor{}}, `{"type":"task","data":[1,2],"operation":""}`)

	errMsg := decodeReply(t, reply).(protocol.Error)
	assert.Contains(t, errMsg.Message, "0 values for 2 inputs")
}

// ============================================================================
// Connection lifecycle
// ============================================================================

func TestHandlerPeerClosedWithoutSending(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	client, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		(&Handler{Metrics: collector}).ServeConn(srv)
	}()

	client.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after peer closed")
	}

	// no reply, no error counted
	n, err := testutil.GatherAndCount(reg, "failover_request_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHandlerReadTimeoutReplies(t *testing.T) {
	client, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		(&Handler{ReadTimeout: 50 * time.Millisecond}).ServeConn(srv)
	}()

	// send nothing; the handler gives up and still answers once
	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	reply, err := io.ReadAll(client)
	require.NoError(t, err)
	<-done

	_, ok := decodeReply(t, reply).(protocol.Error)
	assert.True(t, ok)
}

func TestHandlerWritesExactlyOneReply(t *testing.T) {
	// two records on one connection: only the first is answered
	hb := `{"type":"heartbeat","data":[],"operation":""}`
	reply := roundTrip(t, &Handler{}, hb+"\n"+hb+"\n")
	assert.Equal(t, 1, countLines(reply))
}

func TestHandlerRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := &Handler{Metrics: metrics.NewCollector(reg)}

	roundTrip(t, h, `{"type":"heartbeat","data":[],"operation":""}`)
	roundTrip(t, h, `{"type":"task","data":[1],"operation":""}`)
	roundTrip(t, h, `nope`)

	n, err := testutil.GatherAndCount(reg, "failover_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per request type")

	n, err = testutil.GatherAndCount(reg, "failover_request_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
