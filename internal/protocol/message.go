package protocol

import "github.com/ChuLiYu/standby-failover/pkg/types"

// Message is one of Heartbeat, Task, HeartbeatAck, Result or Error.
// The set is closed: only this package can add variants.
type Message interface {
	Type() types.MessageType
	message()
}

// Heartbeat is the liveness probe.
type Heartbeat struct{}

// Task asks the server to run Operation over Data.
type Task struct {
	TaskID    string
	Data      []float64
	Operation string
}

// HeartbeatAck answers a Heartbeat.
type HeartbeatAck struct{}

// Result answers a Task; Result[i] corresponds to Task.Data[i].
type Result struct {
	TaskID string
	Result []float64
}

// Error answers any request that could not be decoded.
type Error struct {
	Message string
}

func (Heartbeat) Type() types.MessageType    { return types.TypeHeartbeat }
func (Task) Type() types.MessageType         { return types.TypeTask }
func (HeartbeatAck) Type() types.MessageType { return types.TypeHeartbeatAck }
func (Result) Type() types.MessageType       { return types.TypeResult }
func (Error) Type() types.MessageType        { return types.TypeError }

func (Heartbeat) message()    {}
func (Task) message()         {}
func (HeartbeatAck) message() {}
func (Result) message()       {}
func (Error) message()        {}
