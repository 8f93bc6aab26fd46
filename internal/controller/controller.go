// ============================================================================
// Standby Failover 控制器 - 故障轉移核心
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 週期性探測主節點，依探測結果啟動或終止備援程序
//
// 狀態機:
//
//   NoStandby ──(Dead, Spawn 成功)──→ StandbyRunning
//   StandbyRunning ──(Alive, Terminate)──→ NoStandby
//   StandbyRunning ──(備援程序自行退出)──→ NoStandby
//
//   Dead + StandbyRunning 與 Alive + NoStandby 都不做任何事，
//   因此同一時間最多只有一個備援程序。
//
// 探測循環 (單一 Goroutine):
//   1. probe() - 連線與等待回覆各有 HeartbeatTimeout，整輪最多兩倍
//   2. 若探測期間收到停止訊號，跳過本輪動作
//   3. 依探測結果 spawn / terminate
//   4. 從本輪結束時起等待 HeartbeatInterval（fixed-delay，探測不會重疊）
//
// 並發安全:
//   - ReplicaState 與 process.Handle 只在探測循環內讀寫，不需要鎖
//   - 對外透過 atomic.Pointer 發布唯讀快照，State() 隨時可呼叫
//   - Stop() 先發送 stopCh，再等待循環退出；循環在退出前自行終止備援程序，
//     所以即使 Stop 與 Spawn 同時發生也不會遺留子程序
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/standby-failover/internal/client"
	"github.com/ChuLiYu/standby-failover/internal/metrics"
	"github.com/ChuLiYu/standby-failover/internal/process"
	"github.com/ChuLiYu/standby-failover/pkg/types"
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Prober checks whether the primary answers heartbeats.
type Prober interface {
	Probe(ctx context.Context, addr string) (types.Liveness, error)
}

// Launcher starts and stops the standby process.
type Launcher interface {
	Spawn(command []string) (process.Handle, error)
	Terminate(h process.Handle, grace time.Duration) error
}

// Config Controller 配置
type Config struct {
	PrimaryAddr       string        // 主節點位址 host:port
	StandbyCommand    []string      // 備援程序命令列
	HeartbeatInterval time.Duration // 探測間隔
	HeartbeatTimeout  time.Duration // 單次探測逾時
	TerminateGrace    time.Duration // SIGTERM 後等待時間，0 表示 process.DefaultGrace

	Logger   *slog.Logger
	Metrics  *metrics.Collector
	Prober   Prober   // nil 時使用 client.Client
	Launcher Launcher // nil 時使用 process.ExecLauncher
}

// DefaultConfig returns the monitor defaults: 5s interval, 1s timeout.
func DefaultConfig(primaryAddr string, standbyCommand []string) Config {
	return Config{
		PrimaryAddr:       primaryAddr,
		StandbyCommand:    standbyCommand,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  time.Second,
		TerminateGrace:    process.DefaultGrace,
	}
}

func (c Config) validate() error {
	switch {
	case c.PrimaryAddr == "":
		return ErrNoPrimaryAddr
	case len(c.StandbyCommand) == 0:
		return ErrNoStandbyCommand
	case c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0:
		return ErrNonPositiveTiming
	}
	return nil
}

// Controller 故障轉移控制器
type Controller struct {
	config   Config
	log      *slog.Logger
	metrics  *metrics.Collector
	prober   Prober
	launcher Launcher

	mu      sync.Mutex // 保護 started / stopped
	started bool
	stopped bool

	stopCh chan struct{}      // 停止訊號
	ctx    context.Context    // 探測用，Stop 時取消
	cancel context.CancelFunc // 取消進行中的探測
	loopWg sync.WaitGroup     // 等待探測循環退出

	published atomic.Pointer[types.ReplicaState]

	// 以下欄位只有探測循環可以存取
	state   types.ReplicaState
	standby process.Handle
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立新的 Controller 實例
func New(config Config) (*Controller, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.TerminateGrace <= 0 {
		config.TerminateGrace = process.DefaultGrace
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "controller", "primary", config.PrimaryAddr)

	prober := config.Prober
	if prober == nil {
		prober = client.New(config.HeartbeatTimeout)
	}
	launcher := config.Launcher
	if launcher == nil {
		launcher = process.NewExecLauncher(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		config:   config,
		log:      logger,
		metrics:  config.Metrics,
		prober:   prober,
		launcher: launcher,
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		state: types.ReplicaState{
			Phase: types.NoStandby,
			Since: time.Now(),
		},
	}
	c.publish()
	return c, nil
}

// Start 啟動探測循環；第一次探測立即進行
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	c.loopWg.Add(1)
	go c.probeLoop()

	c.log.Info("Controller started",
		"interval", c.config.HeartbeatInterval,
		"timeout", c.config.HeartbeatTimeout,
		"standby_command", c.config.StandbyCommand)
	return nil
}

// Stop 停止探測循環並等待其退出
//
// 返回時保證：沒有存活的備援程序，也不會再發出探測
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.stopped {
		c.mu.Unlock()
		return ErrAlreadyStopped
	}
	c.stopped = true
	c.mu.Unlock()

	c.log.Info("Stopping controller...")

	// 1. 發送停止訊號，並中斷進行中的探測
	close(c.stopCh)
	c.cancel()

	// 2. 等待循環退出（循環會在退出前終止備援程序）
	c.loopWg.Wait()

	c.log.Info("Controller stopped")
	return nil
}

// State returns a snapshot of the replica state.
func (c *Controller) State() types.ReplicaState {
	return *c.published.Load()
}

// ============================================================================
// 探測循環
// ============================================================================

// probeLoop 每輪結束後才重設計時器，探測不會重疊
func (c *Controller) probeLoop() {
	defer c.loopWg.Done()
	defer c.teardown()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-c.stopCh:
			c.log.Info("Probe loop stopped")
			return
		case <-timer.C:
		}

		c.tick()
		timer.Reset(c.config.HeartbeatInterval)
	}
}

// tick 執行一輪：回收、探測、動作、發布
func (c *Controller) tick() {
	c.reap()

	start := time.Now()
	liveness, err := c.probe()

	// 探測期間收到停止訊號：結果不可信，交給 teardown
	if c.stopping() {
		return
	}
	c.metrics.RecordProbe(liveness, time.Since(start))
	c.observe(liveness, err)

	switch {
	case liveness == types.Dead && c.standby == nil:
		c.spawn()
	case liveness == types.Alive && c.standby != nil:
		c.terminate("primary recovered")
	}

	c.publish()
}

// probe 的上限涵蓋連線與回覆兩個階段
func (c *Controller) probe() (types.Liveness, error) {
	ctx, cancel := context.WithTimeout(c.ctx, 2*c.config.HeartbeatTimeout)
	defer cancel()
	return c.prober.Probe(ctx, c.config.PrimaryAddr)
}

// observe 更新探測統計；只在狀態變化時提高日誌等級
func (c *Controller) observe(liveness types.Liveness, err error) {
	prev := c.state.LastProbe
	c.state.LastProbe = liveness
	c.state.LastProbeAt = time.Now()

	if liveness == types.Alive {
		if c.state.ConsecutiveFails > 0 {
			c.log.Info("Primary answering again", "failed_probes", c.state.ConsecutiveFails)
		}
		c.state.ConsecutiveFails = 0
		return
	}

	c.state.ConsecutiveFails++
	if prev == types.Alive || c.state.ConsecutiveFails == 1 {
		c.log.Warn("Primary probe failed", "error", err)
	} else {
		c.log.Debug("Primary probe failed", "error", err, "consecutive", c.state.ConsecutiveFails)
	}
}

func (c *Controller) spawn() {
	h, err := c.launcher.Spawn(c.config.StandbyCommand)
	if err != nil {
		c.metrics.RecordSpawnFailure()
		c.log.Error("Failed to spawn standby, will retry on next failed probe", "error", err)
		return
	}

	c.standby = h
	c.metrics.RecordSpawn()
	c.setPhase(types.StandbyRunning)
	c.log.Info("Standby started", "pid", h.Pid())
}

// terminate 嘗試一次終止；不論結果都回到 NoStandby
func (c *Controller) terminate(reason string) {
	h := c.standby
	c.standby = nil

	err := c.launcher.Terminate(h, c.config.TerminateGrace)
	c.metrics.RecordTermination(!errors.Is(err, process.ErrKillFailed))
	c.setPhase(types.NoStandby)

	if err != nil {
		c.log.Error("Failed to terminate standby", "pid", h.Pid(), "reason", reason, "error", err)
		return
	}
	c.log.Info("Standby terminated", "pid", h.Pid(), "reason", reason)
}

// reap 回收自行退出的備援程序，讓下一次 Dead 探測重新啟動
func (c *Controller) reap() {
	if c.standby == nil || !c.standby.Exited() {
		return
	}

	c.log.Warn("Standby exited on its own", "pid", c.standby.Pid())
	c.standby = nil
	c.metrics.RecordStandbyExit()
	c.setPhase(types.NoStandby)
	c.publish()
}

// teardown 循環退出前最後一步
func (c *Controller) teardown() {
	if c.standby != nil {
		c.terminate("controller stopping")
	}
	c.publish()
}

func (c *Controller) setPhase(phase types.ReplicaPhase) {
	c.state.Phase = phase
	c.state.Since = time.Now()
	c.state.StandbyPID = 0
	if c.standby != nil {
		c.state.StandbyPID = c.standby.Pid()
	}
}

func (c *Controller) publish() {
	snapshot := c.state
	c.published.Store(&snapshot)
}

func (c *Controller) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}
