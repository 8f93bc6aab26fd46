// ============================================================================
// Standby Failover Worker Node - 程序組裝
// ============================================================================
//
// Package: internal/worker
// 文件: node.go
// 功能: 將請求伺服器與故障轉移控制器組裝成一個可啟動/關閉的節點
//
// 運行模式:
//   - run:     Server + Controller（主節點，同時監控自己）
//   - serve:   只有 Server（備援程序就是以此模式啟動）
//   - monitor: 只有 Controller（監控遠端主節點）
//
// 關閉順序 (Shutdown):
//   1. Server.Stop()      → 不再接受請求，等待進行中的連線
//   2. Controller.Stop()  → 停止探測並終止備援程序
//
// ============================================================================

package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ChuLiYu/standby-failover/internal/controller"
	"github.com/ChuLiYu/standby-failover/internal/server"
	"github.com/ChuLiYu/standby-failover/pkg/types"
)

// ErrNothingToRun 既沒有 Server 也沒有 Controller
var ErrNothingToRun = errors.New("worker: node has neither server nor monitor")

// Config Node 配置；nil 代表不啟用該元件
type Config struct {
	Server     *server.Config
	Controller *controller.Config
	Logger     *slog.Logger
}

// Node 一個 worker 程序中運行的所有元件
type Node struct {
	server     *server.Server
	controller *controller.Controller
	log        *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewNode 建立 Node，尚未開始監聽或探測
func NewNode(cfg Config) (*Node, error) {
	if cfg.Server == nil && cfg.Controller == nil {
		return nil, ErrNothingToRun
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{log: logger.With("component", "node")}

	if cfg.Server != nil {
		sc := *cfg.Server
		if sc.Logger == nil {
			sc.Logger = logger
		}
		n.server = server.New(sc)
	}

	if cfg.Controller != nil {
		cc := *cfg.Controller
		if cc.Logger == nil {
			cc.Logger = logger
		}
		ctrl, err := controller.New(cc)
		if err != nil {
			return nil, fmt.Errorf("worker: %w", err)
		}
		n.controller = ctrl
	}

	return n, nil
}

// Start 先綁定伺服器位址，再啟動探測循環
//
// 在 run 模式下，控制器的第一次探測就會打到剛啟動的伺服器
func (n *Node) Start() error {
	if n.server != nil {
		if err := n.server.Start(); err != nil {
			return err
		}
	}

	if n.controller != nil {
		if err := n.controller.Start(); err != nil {
			if n.server != nil {
				n.server.Stop()
			}
			return err
		}
	}

	n.log.Info("Node started", "server", n.server != nil, "monitor", n.controller != nil)
	return nil
}

// Shutdown stops the server and then the controller. Safe to call more than
// once; later calls return the first result.
func (n *Node) Shutdown() error {
	n.shutdownOnce.Do(func() {
		n.log.Info("Shutting down node...")

		if n.server != nil {
			n.server.Stop()
		}
		if n.controller != nil {
			if err := n.controller.Stop(); err != nil && !errors.Is(err, controller.ErrNotStarted) {
				n.shutdownErr = err
			}
		}

		n.log.Info("Node shut down")
	})
	return n.shutdownErr
}

// Addr returns the server's bound address, or nil in monitor-only mode.
func (n *Node) Addr() net.Addr {
	if n.server == nil {
		return nil
	}
	return n.server.Addr()
}

// State returns the controller's replica state; ok is false without one.
func (n *Node) State() (state types.ReplicaState, ok bool) {
	if n.controller == nil {
		return types.ReplicaState{}, false
	}
	return n.controller.State(), true
}

// ProbeAddr turns a listen address into one a local client can dial:
// a wildcard or empty host becomes loopback.
func ProbeAddr(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr
	}

	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return net.JoinHostPort(host, port)
}
