package client

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/standby-failover/internal/protocol"
	"github.com/ChuLiYu/standby-failover/pkg/types"
)

// Probe sends one heartbeat to addr. The result is Alive only when the reply
// is a heartbeat_ack; every other outcome is Dead with an error saying why.
// Dead is the failure signal, not a fault, so callers usually just log the
// error at debug level.
func (c *Client) Probe(ctx context.Context, addr string) (types.Liveness, error) {
	reply, err := c.Exchange(ctx, addr, protocol.Heartbeat{})
	if err != nil {
		return types.Dead, err
	}

	switch r := reply.(type) {
	case protocol.HeartbeatAck:
		return types.Alive, nil
	case protocol.Error:
		return types.Dead, fmt.Errorf("%w: %s", ErrRemote, r.Message)
	}
	return types.Dead, fmt.Errorf("%w: %s to heartbeat", ErrUnexpectedReply, reply.Type())
}
