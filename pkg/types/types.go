// Package types 定義了 standby-failover 系統中共用的核心領域模型
package types

import (
	"time"
)

// MessageType 線路訊息的標籤（JSON "type" 欄位）
type MessageType string

// 定義訊息標籤常數
const (
	TypeTask         MessageType = "task"          // 計算請求
	TypeHeartbeat    MessageType = "heartbeat"     // 存活探測
	TypeResult       MessageType = "result"        // 計算結果
	TypeHeartbeatAck MessageType = "heartbeat_ack" // 存活回覆
	TypeError        MessageType = "error"         // 格式錯誤回覆
)

// IsRequest reports whether t may be sent by a client.
func (t MessageType) IsRequest() bool {
	return t == TypeTask || t == TypeHeartbeat
}

// IsReply reports whether t may be sent back by the server.
func (t MessageType) IsReply() bool {
	return t == TypeResult || t == TypeHeartbeatAck || t == TypeError
}

// Liveness 單次探測的結果
type Liveness int

const (
	Dead  Liveness = iota // 連線失敗、逾時、回覆錯誤
	Alive                 // 在逾時內收到 heartbeat_ack
)

func (l Liveness) String() string {
	if l == Alive {
		return "alive"
	}
	return "dead"
}

// ReplicaPhase 備援程序的生命週期階段
type ReplicaPhase string

const (
	NoStandby      ReplicaPhase = "no_standby"      // 目前沒有受監管的子程序
	StandbyRunning ReplicaPhase = "standby_running" // 子程序存活，作為備援
)

// ReplicaState 控制器對外公開的狀態快照
// 只有控制器的探測迴圈會寫入；其他元件只能讀取副本
type ReplicaState struct {
	Phase      ReplicaPhase `json:"phase"`                // 當前階段
	StandbyPID int          `json:"standby_pid,omitempty"` // 備援程序 PID（僅 StandbyRunning）
	Since      time.Time    `json:"since"`                // 進入此階段的時間

	// 探測統計
	LastProbe        Liveness  `json:"last_probe"`
	LastProbeAt      time.Time `json:"last_probe_at"`
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// Running reports whether a standby process is supervised.
func (s ReplicaState) Running() bool {
	return s.Phase == StandbyRunning
}
