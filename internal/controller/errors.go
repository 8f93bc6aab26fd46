package controller

import "errors"

var (
	// ErrAlreadyStarted Start 被呼叫兩次
	ErrAlreadyStarted = errors.New("controller: already started")
	// ErrNotStarted Stop 在 Start 之前被呼叫
	ErrNotStarted = errors.New("controller: not started")
	// ErrAlreadyStopped Stop 被呼叫兩次
	ErrAlreadyStopped = errors.New("controller: already stopped")

	// 配置錯誤
	ErrNoPrimaryAddr     = errors.New("controller: primary address is required")
	ErrNoStandbyCommand  = errors.New("controller: standby command is required")
	ErrNonPositiveTiming = errors.New("controller: heartbeat interval and timeout must be positive")
)
