package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kaori-seasons/edgesched/pkg/audit"
	"github.com/kaori-seasons/edgesched/pkg/balancer"
	"github.com/kaori-seasons/edgesched/pkg/config"
	"github.com/kaori-seasons/edgesched/pkg/executor"
	"github.com/kaori-seasons/edgesched/pkg/httpapi"
	"github.com/kaori-seasons/edgesched/pkg/learner"
	"github.com/kaori-seasons/edgesched/pkg/log"
	"github.com/kaori-seasons/edgesched/pkg/metrics"
	"github.com/kaori-seasons/edgesched/pkg/registry"
	"github.com/kaori-seasons/edgesched/pkg/runtime"
	"github.com/kaori-seasons/edgesched/pkg/scheduler"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "edgesched",
	Short:   "edgesched - a load-balanced scheduler for containerized compute plugins",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("edgesched version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "", "Path to edgesched.yaml config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("audit-log", "", "Path to a JSONL file recording every completed task (disabled if empty)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pluginCmd)
}

var loadedConfig config.File

func initLogging() {
	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	loadedConfig = cfg

	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logJSON {
		cfg.Log.JSON = true
	}
	log.Init(cfg.LogConfig())
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, load balancer and HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadedConfig
	logger := log.WithComponent("main")

	reg := registry.New()
	for _, p := range cfg.Plugins {
		if err := reg.Register(p.Descriptor(), p.Image()); err != nil {
			return fmt.Errorf("failed to register plugin %q from manifest: %w", p.Name, err)
		}
	}
	logger.Info().Int("count", len(cfg.Plugins)).Msg("registered plugins from manifest")

	mgr, err := runtime.New(cfg.RuntimeConfig())
	if err != nil {
		return fmt.Errorf("failed to create container manager: %w", err)
	}

	var lrn *learner.Selector
	var balLearner balancer.Learner
	if cfg.LoadBalancer.IntelligentSchedulingEnabled {
		lrn = learner.New(learner.DefaultConfig())
		lrn.Start()
		defer lrn.Stop()
		balLearner = lrn
	}

	bal := balancer.New(cfg.BalancerConfig(), balLearner)

	exec := executor.New(cfg.ExecutorConfig(), reg, mgr)

	sched := scheduler.New(cfg.SchedulerConfig(), reg, bal, exec, mgr)

	auditPath, _ := rootCmd.PersistentFlags().GetString("audit-log")
	if auditPath != "" {
		sink, err := audit.NewFileSink(auditPath)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer sink.Close()
		sched.SetAuditSink(sink)
	}

	sched.Start()
	defer sched.Stop()

	metrics.RegisterComponent("registry", true, "ready")
	metrics.RegisterComponent("runtime", true, "ready")
	metrics.RegisterComponent("scheduler", true, "ready")
	metrics.SetVersion(Version)

	deps := httpapi.Deps{
		Scheduler: sched,
		Registry:  reg,
		Balancer:  bal,
		Runtime:   mgr,
	}
	if lrn != nil {
		deps.Learner = lrn
	}
	router := httpapi.NewRouter(deps)

	collector := metrics.NewCollector(sched, bal, mgr, reg)
	collector.Start()
	defer collector.Stop()

	srv := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/healthz", metrics.HealthHandler())
	metricsMux.HandleFunc("/readyz", metrics.ReadyHandler())
	metricsMux.HandleFunc("/livez", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metricsMux}
	go func() {
		logger.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	defer metricsSrv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	_ = srv.Close()
	return nil
}

// Plugins are registered from the config file's plugins manifest at serve
// startup (see runServe), not through a separate running-instance API — the
// core is a single embedded process, so "plugin register/list" works against
// that manifest on disk rather than a live registry.

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Inspect or validate the plugins manifest used by `serve`",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the plugins declared in the config file's manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := rootCmd.PersistentFlags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if len(cfg.Plugins) == 0 {
			fmt.Println("no plugins declared")
			return nil
		}
		for _, p := range cfg.Plugins {
			fmt.Printf("%-20s %-10s tags=%v cpu=%.1f memory_mb=%d\n", p.Name, p.Version, p.Tags, p.CPUCores, p.MemoryMB)
		}
		return nil
	},
}

var pluginRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register every manifest entry against a scratch registry to confirm the manifest is valid",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := rootCmd.PersistentFlags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		reg := registry.New()
		for _, p := range cfg.Plugins {
			if err := reg.Register(p.Descriptor(), p.Image()); err != nil {
				return fmt.Errorf("plugin %q failed registration: %w", p.Name, err)
			}
		}
		fmt.Printf("✓ %d plugin(s) registered\n", len(cfg.Plugins))
		return nil
	},
}

func init() {
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginRegisterCmd)
}
