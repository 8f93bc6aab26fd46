// ============================================================================
// Standby Failover - 備援程序管理
// ============================================================================
//
// Package: internal/process
// 文件: process.go
// 功能: 啟動與終止備援 worker 程序
//
// 生命週期:
//   Spawn      → exec.Cmd.Start，並啟動 reaper goroutine 等待程序結束
//   Terminate  → SIGTERM → 等待 grace → SIGKILL → 等待結束
//
// 每個 Process 只有一個 reaper 呼叫 cmd.Wait，Done() 在程序結束後關閉，
// 因此 Terminate 與程序自行退出不會互相競爭。
//
// ============================================================================

package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// DefaultGrace SIGTERM 之後等待程序自行結束的時間
	DefaultGrace = 2 * time.Second
	// DefaultKillWait SIGKILL 之後等待程序消失的時間
	DefaultKillWait = 5 * time.Second
)

var (
	// ErrEmptyCommand Spawn 收到空命令
	ErrEmptyCommand = errors.New("process: empty command")
	// ErrKillFailed 強制終止後程序仍未結束
	ErrKillFailed = errors.New("process: process survived kill")
	// ErrForeignHandle Terminate 收到非本套件建立的 Handle
	ErrForeignHandle = errors.New("process: handle not created by ExecLauncher")
)

// Handle is an opaque reference to a spawned process.
type Handle interface {
	Pid() int
	// Exited reports whether the process has been reaped.
	Exited() bool
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// Process 由 ExecLauncher 啟動的程序
type Process struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
	err  error // cmd.Wait 的結果，done 關閉後才可讀取
}

func (p *Process) Pid() int { return p.pid }

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the exit status once Done is closed, nil before.
func (p *Process) Err() error {
	if !p.Exited() {
		return nil
	}
	return p.err
}

// ExecLauncher starts standby processes with os/exec.
type ExecLauncher struct {
	Stdout   io.Writer // nil discards child output
	Stderr   io.Writer
	Env      []string // nil inherits the current environment
	KillWait time.Duration
	Logger   *slog.Logger
}

// NewExecLauncher returns a launcher whose children share this process's
// stdout and stderr.
func NewExecLauncher(logger *slog.Logger) *ExecLauncher {
	return &ExecLauncher{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	}
}

// Spawn starts command[0] with the remaining elements as arguments.
func (l *ExecLauncher) Spawn(command []string) (Handle, error) {
	if len(command) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	cmd.Env = l.Env
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: start %q: %w", command[0], err)
	}

	p := &Process{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	l.logger().Debug("Process started", "pid", p.pid, "command", command)
	return p, nil
}

// Terminate asks h to exit with SIGTERM, waits up to grace, then kills it.
// A nil return means the process is gone. ErrKillFailed means it is not.
func (l *ExecLauncher) Terminate(h Handle, grace time.Duration) error {
	p, ok := h.(*Process)
	if !ok {
		return ErrForeignHandle
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	log := l.logger().With("pid", p.pid)

	if p.Exited() {
		log.Debug("Process already exited", "status", p.err)
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		// 某些平台不支援 SIGTERM，直接進入強制終止
		log.Warn("SIGTERM failed", "error", err)
	} else {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
			log.Debug("Process exited after SIGTERM", "status", p.err)
			return nil
		case <-timer.C:
			log.Warn("Process ignored SIGTERM, killing", "grace", grace)
		}
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Error("Kill failed", "error", err)
	}

	killWait := l.KillWait
	if killWait <= 0 {
		killWait = DefaultKillWait
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("%w: pid %d", ErrKillFailed, p.pid)
	}
}

func (l *ExecLauncher) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
