package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/ChuLiYu/standby-failover/internal/metrics"
	"github.com/ChuLiYu/standby-failover/internal/processor"
	"github.com/ChuLiYu/standby-failover/internal/protocol"
	"github.com/google/uuid"
)

// Handler runs one read-decode-dispatch-respond-close cycle per connection.
// It holds no per-connection state, so one Handler serves every connection
// concurrently.
type Handler struct {
	Processor      processor.Processor // nil means processor.Formula
	MaxMessageSize int64               // bytes; <= 0 means protocol.DefaultMaxMessageSize
	ReadTimeout    time.Duration       // 0 disables the read deadline
	WriteTimeout   time.Duration       // 0 disables the write deadline
	Logger         *slog.Logger
	Metrics        *metrics.Collector
}

// ServeConn handles conn and always closes it. Exactly one reply is written
// unless the peer closed without sending anything.
func (h *Handler) ServeConn(conn net.Conn) {
	start := time.Now()
	log := h.logger().With("conn_id", uuid.NewString(), "remote", remoteAddr(conn))

	h.Metrics.ConnectionOpened()
	defer func() {
		conn.Close()
		h.Metrics.ConnectionClosed(time.Since(start))
	}()

	if h.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.ReadTimeout))
	}

	raw, err := protocol.ReadRecord(conn, h.MaxMessageSize)
	if errors.Is(err, io.EOF) {
		log.Debug("Peer closed before sending a request")
		return
	}

	var reply protocol.Message
	if err != nil {
		reply = h.reject(log, err)
	} else {
		reply = h.dispatch(log, raw)
	}

	h.respond(log, conn, reply)
}

// dispatch decodes raw and produces the reply for it.
func (h *Handler) dispatch(log *slog.Logger, raw []byte) protocol.Message {
	msg, err := protocol.Decode(raw)
	if err != nil {
		return h.reject(log, err)
	}

	h.Metrics.RecordRequest(msg.Type())

	switch m := msg.(type) {
	case protocol.Heartbeat:
		log.Debug("Handling heartbeat")
		return protocol.HeartbeatAck{}
	case protocol.Task:
		log.Debug("Handling task", "task_id", m.TaskID, "operation", m.Operation, "size", len(m.Data))
		if !processor.Known(m.Operation) {
			log.Debug("Unknown operation, using default", "operation", m.Operation, "default", processor.DefaultOperation)
		}
		return h.runTask(log, m)
	}

	// Decode only returns the two request variants
	return protocol.Error{Message: fmt.Sprintf("unsupported message type %q", msg.Type())}
}

// runTask never lets a processor panic escape the handler goroutine.
func (h *Handler) runTask(log *slog.Logger, task protocol.Task) (reply protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Processor panicked", "task_id", task.TaskID, "panic", r)
			h.Metrics.RecordRequestError("processor")
			reply = protocol.Error{Message: fmt.Sprintf("task %q failed: %v", task.TaskID, r)}
		}
	}()

	out := h.processor().Process(task.Operation, task.Data)
	if len(out) != len(task.Data) {
		h.Metrics.RecordRequestError("processor")
		return protocol.Error{Message: fmt.Sprintf("processor returned %d values for %d inputs", len(out), len(task.Data))}
	}
	return protocol.Result{TaskID: task.TaskID, Result: out}
}

// reject turns a read or decode failure into an Error reply.
func (h *Handler) reject(log *slog.Logger, err error) protocol.Message {
	reason := "io"
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		reason = de.Kind.String()
	}

	log.Warn("Rejecting request", "reason", reason, "error", err)
	h.Metrics.RecordRequestError(reason)
	return protocol.Error{Message: err.Error()}
}

func (h *Handler) respond(log *slog.Logger, conn net.Conn, reply protocol.Message) {
	b, err := protocol.Encode(reply)
	if err != nil {
		log.Error("Failed to encode reply", "type", reply.Type(), "error", err)
		h.Metrics.RecordRequestError("encode")
		// Error replies always encode
		b, _ = protocol.Encode(protocol.Error{Message: err.Error()})
	}

	if h.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
	}
	if _, err := conn.Write(b); err != nil {
		log.Warn("Failed to write reply", "type", reply.Type(), "error", err)
		return
	}

	log.Debug("Reply sent", "type", reply.Type())
}

func (h *Handler) processor() processor.Processor {
	if h.Processor == nil {
		return processor.Formula{}
	}
	return h.Processor
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func remoteAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
