// ============================================================================
// Standby Failover - Request Client
// ============================================================================
//
// Package: internal/client
// File: client.go
// Purpose: One request, one reply, one connection
//
// Every call dials a fresh connection, writes a single newline-terminated
// record, reads a single reply record and closes. Dial, write and read share
// one deadline: now + Timeout, or the context deadline if that comes first.
// Cancelling the context expires the deadline immediately.
//
// ============================================================================

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ChuLiYu/standby-failover/internal/protocol"
)

// DefaultTimeout matches the monitor's default heartbeat timeout.
const DefaultTimeout = time.Second

// Client talks to a worker's request server. The zero value is usable.
//
// Timeout bounds each phase of a call separately: the connect gets Timeout,
// then sending the request and reading the reply share a fresh Timeout.
// A deadline or cancellation on the caller's context cuts either phase short.
type Client struct {
	Timeout      time.Duration // per phase; <= 0 means DefaultTimeout
	MaxReplySize int64         // <= 0 means protocol.DefaultMaxMessageSize

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New returns a Client bounded by timeout.
func New(timeout time.Duration) *Client {
	return &Client{Timeout: timeout}
}

// Exchange sends msg to addr and returns the decoded reply.
func (c *Client) Exchange(ctx context.Context, addr string, msg protocol.Message) (protocol.Message, error) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("client: encode %s: %w", msg.Type(), err)
	}

	conn, err := c.connect(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("client: set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("client: send %s: %w", msg.Type(), ctxErr(ctx, err))
	}

	raw, err := protocol.ReadRecord(conn, c.MaxReplySize)
	if errors.Is(err, io.EOF) {
		return nil, ErrNoReply
	}
	if err != nil {
		return nil, fmt.Errorf("client: read reply: %w", ctxErr(ctx, err))
	}

	reply, err := protocol.DecodeReply(raw)
	if err != nil {
		return nil, fmt.Errorf("client: decode reply: %w", err)
	}
	return reply, nil
}

// SubmitTask runs task on the worker at addr.
func (c *Client) SubmitTask(ctx context.Context, addr string, task protocol.Task) (protocol.Result, error) {
	reply, err := c.Exchange(ctx, addr, task)
	if err != nil {
		return protocol.Result{}, err
	}

	switch r := reply.(type) {
	case protocol.Result:
		return r, nil
	case protocol.Error:
		return protocol.Result{}, fmt.Errorf("%w: %s", ErrRemote, r.Message)
	}
	return protocol.Result{}, fmt.Errorf("%w: %s to task", ErrUnexpectedReply, reply.Type())
}

func (c *Client) connect(ctx context.Context, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	if c.dial != nil {
		return c.dial(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// ctxErr prefers the context's reason over the deadline error it caused.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w (%v)", cerr, err)
	}
	return err
}
