// ============================================================================
// Standby Failover CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the worker binary
//
// Command Structure:
//   worker                         # Root command
//   ├── run                        # Primary server + failover monitor
//   ├── serve                      # Server only (what the standby runs)
//   ├── monitor                    # Failover monitor only
//   ├── probe ADDR                 # One-shot liveness check
//   ├── task ADDR                  # Submit one compute task
//   ├── --config, -c               # YAML config file
//   ├── --log-level, --log-format  # slog handler setup
//   └── --metrics-port             # Prometheus /metrics, 0 disables
//
// Configuration Management:
//   Built-in defaults, then the YAML file (if given), then any flag that
//   was set explicitly on the command line.
//
// run Command:
//   1. Load config and configure logging
//   2. Start the request server on --host:--port
//   3. Start the monitor against the same address (or --primary-addr)
//   4. Start the metrics HTTP server (if enabled)
//   5. Wait for SIGINT/SIGTERM, then Node.Shutdown
//
//   The standby command defaults to this binary in serve mode on the
//   replica port:
//     <self> serve --host HOST --port REPLICA_PORT
//
//   Examples:
//     ./worker run
//     ./worker run --port 12345 --replica-port 12346 --heartbeat-interval 2
//     ./worker run -c configs/default.yaml --log-format json
//
// probe / task Commands:
//     ./worker probe 127.0.0.1:12345          # exit status 1 when dead
//     ./worker task 127.0.0.1:12345 --data 0,1,-1,3.1415
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/standby-failover/internal/client"
	"github.com/ChuLiYu/standby-failover/internal/controller"
	"github.com/ChuLiYu/standby-failover/internal/metrics"
	"github.com/ChuLiYu/standby-failover/internal/protocol"
	"github.com/ChuLiYu/standby-failover/internal/server"
	"github.com/ChuLiYu/standby-failover/internal/worker"
	"github.com/ChuLiYu/standby-failover/pkg/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ErrPrimaryDead is returned by the probe command so the process exits 1.
var ErrPrimaryDead = errors.New("primary is dead")

// notifyContext is swapped in tests to observe when handlers are installed.
var notifyContext = signal.NotifyContext

// Config represents the complete worker configuration
// Maps config file fields through YAML tags
type Config struct {
	Server struct {
		Host           string        `yaml:"host"`
		Port           int           `yaml:"port"`
		ReplicaPort    int           `yaml:"replica_port"`
		MaxMessageSize int64         `yaml:"max_message_size"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Failover struct {
		PrimaryAddr       string   `yaml:"primary_addr"`
		HeartbeatInterval float64  `yaml:"heartbeat_interval"` // seconds
		HeartbeatTimeout  float64  `yaml:"heartbeat_timeout"`  // seconds
		TerminateGrace    float64  `yaml:"terminate_grace"`    // seconds
		StandbyCommand    []string `yaml:"standby_command"`
	} `yaml:"failover"`

	Metrics struct {
		Port int `yaml:"port"` // 0 disables
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
	} `yaml:"log"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 12345
	cfg.Server.ReplicaPort = 12346
	cfg.Server.MaxMessageSize = protocol.DefaultMaxMessageSize
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Failover.HeartbeatInterval = 5.0
	cfg.Failover.HeartbeatTimeout = 1.0
	cfg.Failover.TerminateGrace = 2.0
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return &cfg
}

// options holds raw flag values; only flags the user set override the config
type options struct {
	configFile string
	logLevel   string
	logFormat  string
	metrics    int

	host        string
	port        int
	replicaPort int

	primaryAddr       string
	heartbeatInterval float64
	heartbeatTimeout  float64
	standbyCommand    string
}

func BuildCLI() *cobra.Command {
	o := &options{}

	rootCmd := &cobra.Command{
		Use:   "worker",
		Short: "Compute worker with primary/standby failover",
		Long: `worker serves liveness probes and compute tasks over line-delimited JSON,
and can monitor a primary, starting a standby process while the primary
does not answer and stopping it once the primary is back.`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&o.configFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().IntVar(&o.metrics, "metrics-port", 0, "serve Prometheus metrics on this port, 0 disables")

	rootCmd.AddCommand(buildRunCommand(o))
	rootCmd.AddCommand(buildServeCommand(o))
	rootCmd.AddCommand(buildMonitorCommand(o))
	rootCmd.AddCommand(buildProbeCommand(o))
	rootCmd.AddCommand(buildTaskCommand(o))

	return rootCmd
}

func addServerFlags(cmd *cobra.Command, o *options) {
	cmd.Flags().StringVar(&o.host, "host", "0.0.0.0", "address to listen on")
	cmd.Flags().IntVar(&o.port, "port", 12345, "port to listen on")
}

func addMonitorFlags(cmd *cobra.Command, o *options) {
	cmd.Flags().StringVar(&o.primaryAddr, "primary-addr", "", "primary to probe (default: this node's own address)")
	cmd.Flags().Float64Var(&o.heartbeatInterval, "heartbeat-interval", 5.0, "seconds between probes")
	cmd.Flags().Float64Var(&o.heartbeatTimeout, "heartbeat-timeout", 1.0, "seconds before a probe counts as failed")
	cmd.Flags().IntVar(&o.replicaPort, "replica-port", 12346, "port the default standby command serves on")
	cmd.Flags().StringVar(&o.standbyCommand, "standby-command", "", "command line started when the primary is dead (default: this binary in serve mode)")
}

func buildRunCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the primary server and the failover monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, o)
			if err != nil {
				return err
			}
			return runNode(cmd.Context(), cfg, true, true)
		},
	}
	addServerFlags(cmd, o)
	addMonitorFlags(cmd, o)
	return cmd
}

func buildServeCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the request server only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, o)
			if err != nil {
				return err
			}
			return runNode(cmd.Context(), cfg, true, false)
		},
	}
	addServerFlags(cmd, o)
	return cmd
}

func buildMonitorCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Probe a remote primary and manage the standby",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, o)
			if err != nil {
				return err
			}
			if cfg.Failover.PrimaryAddr == "" {
				return fmt.Errorf("--primary-addr is required in monitor mode")
			}
			return runNode(cmd.Context(), cfg, false, true)
		},
	}
	// host is the address the default standby binds
	cmd.Flags().StringVar(&o.host, "host", "0.0.0.0", "host the default standby listens on")
	addMonitorFlags(cmd, o)
	return cmd
}

func buildProbeCommand(o *options) *cobra.Command {
	var timeout float64

	cmd := &cobra.Command{
		Use:   "probe ADDR",
		Short: "Send one heartbeat and report alive or dead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(o.logLevel, o.logFormat); err != nil {
				return err
			}

			c := client.New(seconds(timeout))
			liveness, err := c.Probe(cmd.Context(), args[0])
			fmt.Fprintln(cmd.OutOrStdout(), liveness)
			if liveness != types.Alive {
				return fmt.Errorf("%w: %s: %v", ErrPrimaryDead, args[0], err)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&timeout, "timeout", 1.0, "seconds to wait for the heartbeat_ack")
	return cmd
}

func buildTaskCommand(o *options) *cobra.Command {
	var (
		data      string
		operation string
		taskID    string
		timeout   float64
	)

	cmd := &cobra.Command{
		Use:   "task ADDR",
		Short: "Submit one compute task and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(o.logLevel, o.logFormat); err != nil {
				return err
			}

			values, err := parseData(data)
			if err != nil {
				return err
			}
			if taskID == "" {
				taskID = uuid.NewString()
			}

			c := client.New(seconds(timeout))
			result, err := c.SubmitTask(cmd.Context(), args[0], protocol.Task{
				TaskID:    taskID,
				Data:      values,
				Operation: operation,
			})
			if err != nil {
				return err
			}

			out, err := protocol.Encode(result)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "comma separated numbers, e.g. 0,1,-1,3.1415")
	cmd.Flags().StringVar(&operation, "operation", "math_formula", "operation applied to each number")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id echoed in the result (default: random uuid)")
	cmd.Flags().Float64Var(&timeout, "timeout", 5.0, "seconds to wait for the result")
	return cmd
}

// ============================================================================
// Node wiring
// ============================================================================

func runNode(ctx context.Context, cfg *Config, withServer, withMonitor bool) error {
	if err := setupLogging(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	listenAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	nodeCfg := worker.Config{Logger: slog.Default()}

	if withServer {
		sc := server.DefaultConfig(listenAddr)
		sc.MaxMessageSize = cfg.Server.MaxMessageSize
		sc.ReadTimeout = cfg.Server.ReadTimeout
		sc.WriteTimeout = cfg.Server.WriteTimeout
		sc.Metrics = collector
		nodeCfg.Server = &sc
	}

	if withMonitor {
		primary := cfg.Failover.PrimaryAddr
		if primary == "" {
			primary = worker.ProbeAddr(listenAddr)
		}
		standby := cfg.Failover.StandbyCommand
		if len(standby) == 0 {
			var err error
			if standby, err = defaultStandbyCommand(cfg); err != nil {
				return err
			}
		}

		cc := controller.DefaultConfig(primary, standby)
		cc.HeartbeatInterval = seconds(cfg.Failover.HeartbeatInterval)
		cc.HeartbeatTimeout = seconds(cfg.Failover.HeartbeatTimeout)
		cc.TerminateGrace = seconds(cfg.Failover.TerminateGrace)
		cc.Metrics = collector
		nodeCfg.Controller = &cc
	}

	// Handlers go in before anything is spawned, so a signal during startup
	// still reaches Shutdown.
	ctx, stop := notifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := worker.NewNode(nodeCfg)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	if err := node.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Port > 0 {
		metricsSrv = metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), reg)
		go func() {
			slog.Info("Starting metrics server", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server error", "error", err)
			}
		}()
	}

	slog.Info("System started successfully")

	<-ctx.Done()
	slog.Info("Received shutdown signal, stopping gracefully...")

	shutdownErr := node.Shutdown()
	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(sctx); err != nil {
			slog.Warn("Metrics server shutdown", "error", err)
		}
	}

	slog.Info("System stopped")
	return shutdownErr
}

// defaultStandbyCommand re-runs this binary in serve mode on the replica port
func defaultStandbyCommand(cfg *Config) ([]string, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate own executable: %w", err)
	}
	return []string{
		self, "serve",
		"--host", cfg.Server.Host,
		"--port", strconv.Itoa(cfg.Server.ReplicaPort),
		"--log-level", cfg.Log.Level,
		"--log-format", cfg.Log.Format,
	}, nil
}

// ============================================================================
// Configuration
// ============================================================================

// resolveConfig layers defaults, the config file and explicitly set flags
func resolveConfig(cmd *cobra.Command, o *options) (*Config, error) {
	cfg, err := loadConfig(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	if changed("metrics-port") {
		cfg.Metrics.Port = o.metrics
	}
	if changed("host") {
		cfg.Server.Host = o.host
	}
	if changed("port") {
		cfg.Server.Port = o.port
	}
	if changed("replica-port") {
		cfg.Server.ReplicaPort = o.replicaPort
	}
	if changed("primary-addr") {
		cfg.Failover.PrimaryAddr = o.primaryAddr
	}
	if changed("heartbeat-interval") {
		cfg.Failover.HeartbeatInterval = o.heartbeatInterval
	}
	if changed("heartbeat-timeout") {
		cfg.Failover.HeartbeatTimeout = o.heartbeatTimeout
	}
	if changed("standby-command") {
		cfg.Failover.StandbyCommand = strings.Fields(o.standbyCommand)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Server.Port)
	case c.Server.ReplicaPort < 0 || c.Server.ReplicaPort > 65535:
		return fmt.Errorf("invalid replica port %d", c.Server.ReplicaPort)
	case c.Failover.HeartbeatInterval <= 0:
		return fmt.Errorf("heartbeat interval must be positive, got %v", c.Failover.HeartbeatInterval)
	case c.Failover.HeartbeatTimeout <= 0:
		return fmt.Errorf("heartbeat timeout must be positive, got %v", c.Failover.HeartbeatTimeout)
	}
	return nil
}

// loadConfig reads path over the built-in defaults; an empty path means
// defaults only
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func parseData(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --data value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
