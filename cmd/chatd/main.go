package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatd/internal/common/fsutil"
	"chatd/internal/config"
	"chatd/internal/httpapi"
	"chatd/internal/manager"
	"chatd/internal/modelstore"
	"chatd/internal/probe"
	"chatd/internal/relay"
	"chatd/internal/store"
	"chatd/internal/supervisor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Chat control plane for hot-swappable inference backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

// Flags default from CHATD_* environment variables; a config file fills in
// anything the flags leave unset.
func newServeCmd() *cobra.Command {
	var (
		configPath      string
		addr            string
		dbPath          string
		modelsDir       string
		logPath         string
		adminToken      string
		logLevel        string
		backendBin      string
		backendHost     string
		basePort        int
		defaultModel    string
		defaultRevision string
		readyTimeoutSec int
		graceTimeoutSec int
		gpuMemUtil      float64
		maxNumSeqs      int
		tensorParallel  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{}
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("loading config %s: %w", configPath, err)
				}
				cfg = loaded
			}

			// flags win over the file when explicitly set
			set := func(name string, apply func()) {
				if cmd.Flags().Changed(name) {
					apply()
				}
			}
			applyDefault := func(dst *string, v string) {
				if *dst == "" {
					*dst = v
				}
			}
			set("addr", func() { cfg.Addr = addr })
			set("db", func() { cfg.DBPath = dbPath })
			set("models-dir", func() { cfg.ModelsDir = modelsDir })
			set("log-path", func() { cfg.LogPath = logPath })
			set("admin-token", func() { cfg.AdminToken = adminToken })
			set("log-level", func() { cfg.LogLevel = logLevel })
			set("backend-bin", func() { cfg.Backend.Bin = backendBin })
			set("backend-host", func() { cfg.Backend.Host = backendHost })
			set("base-port", func() { cfg.Backend.BasePort = basePort })
			set("default-model", func() { cfg.Backend.DefaultModel = defaultModel })
			set("revision", func() { cfg.Backend.DefaultRevision = defaultRevision })
			set("ready-timeout-sec", func() { cfg.Backend.ReadyTimeoutSec = readyTimeoutSec })
			set("grace-timeout-sec", func() { cfg.Backend.GraceTimeoutSec = graceTimeoutSec })
			set("gpu-mem-util", func() { cfg.Backend.GPUMemUtil = gpuMemUtil })
			set("max-num-seqs", func() { cfg.Backend.MaxNumSeqs = maxNumSeqs })
			set("tensor-parallel", func() { cfg.Backend.TensorParallel = tensorParallel })

			applyDefault(&cfg.Addr, addr)
			applyDefault(&cfg.DBPath, dbPath)
			applyDefault(&cfg.ModelsDir, modelsDir)
			applyDefault(&cfg.LogPath, logPath)
			applyDefault(&cfg.AdminToken, adminToken)
			applyDefault(&cfg.LogLevel, logLevel)
			applyDefault(&cfg.Backend.Bin, backendBin)
			applyDefault(&cfg.Backend.Host, backendHost)
			applyDefault(&cfg.Backend.DefaultModel, defaultModel)
			applyDefault(&cfg.Backend.DefaultRevision, defaultRevision)
			if cfg.Backend.BasePort == 0 {
				cfg.Backend.BasePort = basePort
			}
			if cfg.Backend.ReadyTimeoutSec == 0 {
				cfg.Backend.ReadyTimeoutSec = readyTimeoutSec
			}
			if cfg.Backend.GraceTimeoutSec == 0 {
				cfg.Backend.GraceTimeoutSec = graceTimeoutSec
			}
			if cfg.Backend.GPUMemUtil == 0 {
				cfg.Backend.GPUMemUtil = gpuMemUtil
			}
			if cfg.Backend.MaxNumSeqs == 0 {
				cfg.Backend.MaxNumSeqs = maxNumSeqs
			}
			if cfg.Backend.TensorParallel == 0 {
				cfg.Backend.TensorParallel = tensorParallel
			}

			return runServe(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", os.Getenv("CHATD_CONFIG"), "Config file (.yaml/.yml/.json/.toml)")
	f.StringVar(&addr, "addr", envOr("CHATD_ADDR", ":8090"), "HTTP listen address")
	f.StringVar(&dbPath, "db", envOr("CHATD_DB", "~/.chatd/chat.db"), "SQLite database path")
	f.StringVar(&modelsDir, "models-dir", envOr("CHATD_MODELS_DIR", "~/models"), "Local model artifacts directory")
	f.StringVar(&logPath, "log-path", envOr("CHATD_LOG_PATH", "~/.chatd/backend.log"), "Backend log sink path")
	f.StringVar(&adminToken, "admin-token", os.Getenv("CHATD_ADMIN_TOKEN"), "Shared admin secret (empty = open mode)")
	f.StringVar(&logLevel, "log-level", envOr("CHATD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	f.StringVar(&backendBin, "backend-bin", envOr("CHATD_BACKEND_BIN", "vllm"), "Inference backend binary")
	f.StringVar(&backendHost, "backend-host", envOr("CHATD_BACKEND_HOST", "127.0.0.1"), "Host backends bind to")
	f.IntVar(&basePort, "base-port", envOrInt("CHATD_BASE_PORT", 4321), "First backend port; reloads allocate upward")
	f.StringVar(&defaultModel, "default-model", os.Getenv("CHATD_DEFAULT_MODEL"), "Model to load at boot (empty = wait for reload)")
	f.StringVar(&defaultRevision, "revision", os.Getenv("CHATD_REVISION"), "Revision pin for the default model")
	f.IntVar(&readyTimeoutSec, "ready-timeout-sec", envOrInt("CHATD_READY_TIMEOUT_SEC", 600), "Seconds to wait for a backend to become ready")
	f.IntVar(&graceTimeoutSec, "grace-timeout-sec", envOrInt("CHATD_GRACE_TIMEOUT_SEC", 10), "Seconds a superseded backend may drain")
	f.Float64Var(&gpuMemUtil, "gpu-mem-util", 0, "GPU memory utilization passed to the backend (0 = backend default)")
	f.IntVar(&maxNumSeqs, "max-num-seqs", 0, "Max concurrent sequences passed to the backend (0 = backend default)")
	f.IntVar(&tensorParallel, "tensor-parallel", 0, "Tensor parallel size passed to the backend (0 = backend default)")
	return cmd
}

func runServe(cfg config.Config) error {
	log := newLogger(cfg.LogLevel)

	dbPath, err := fsutil.ExpandHome(cfg.DBPath)
	if err != nil {
		return err
	}
	logPath, err := fsutil.ExpandHome(cfg.LogPath)
	if err != nil {
		return err
	}

	st, err := store.OpenSQLite(dbPath, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// No hub fetcher is wired by default; POST /api/models/download reports
	// 503 until a deployment provides one.
	models, err := modelstore.New(cfg.ModelsDir, nil, log)
	if err != nil {
		return fmt.Errorf("opening model store: %w", err)
	}

	sup := supervisor.New(supervisor.Config{
		Bin:            cfg.Backend.Bin,
		Host:           cfg.Backend.Host,
		GPUMemUtil:     cfg.Backend.GPUMemUtil,
		MaxNumSeqs:     cfg.Backend.MaxNumSeqs,
		TensorParallel: cfg.Backend.TensorParallel,
		ExtraArgs:      cfg.Backend.ExtraArgs,
		LogPath:        logPath,
	}, log)

	mgr := manager.New(manager.Config{
		Host:            cfg.Backend.Host,
		BasePort:        cfg.Backend.BasePort,
		DefaultModel:    models.Resolve(cfg.Backend.DefaultModel),
		DefaultRevision: cfg.Backend.DefaultRevision,
		ReadyTimeout:    time.Duration(cfg.Backend.ReadyTimeoutSec) * time.Second,
		GraceTimeout:    time.Duration(cfg.Backend.GraceTimeoutSec) * time.Second,
	}, sup, probe.New(), log)
	sup.SetExitHandler(mgr.HandleExit)

	rly := relay.New(st, mgr, cfg.Backend.Host, log)

	srv := httpapi.NewServer(st, models, mgr, rly, httpapi.Options{
		AdminToken:         cfg.AdminToken,
		LogPath:            logPath,
		CORSEnabled:        cfg.CORS.Enabled,
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		CORSAllowedMethods: cfg.CORS.AllowedMethods,
		CORSAllowedHeaders: cfg.CORS.AllowedHeaders,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Boot the default backend in the background so session and template
	// routes serve while the first model loads.
	go func() {
		if err := mgr.StartInitial(ctx); err != nil {
			log.Error().Err(err).Msg("initial backend start failed")
		}
	}()

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: srv.NewMux()}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", models.Dir()).Msg("chatd listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	sup.StopAll(mgr.GraceTimeout())
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
