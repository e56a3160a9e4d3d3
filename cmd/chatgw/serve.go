package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatgw/internal/auth"
	"chatgw/internal/config"
	"chatgw/internal/gateway"
	"chatgw/internal/httpapi"
	"chatgw/internal/registry"
	"chatgw/internal/session"
	"chatgw/internal/version"
)

type serveFlags struct {
	addr         string
	backend      string
	model        string
	baseURL      string
	temperature  float64
	systemPrompt string
	verify       bool
	cors         bool
	corsOrigins  string
	authStore    string
	sqlitePath   string
	maxPending   int
}

func newServeCmd(root *rootOptions) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, root, f, os.Getenv)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f.bind(cmd)
	return cmd
}

func (f *serveFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", config.DefaultAddr, "HTTP listen address")
	fl.StringVar(&f.backend, "backend", config.DefaultBackend, "Backend kind: "+fmt.Sprint(registry.Kinds()))
	fl.StringVar(&f.model, "model", config.DefaultModel, "Model identifier (or .gguf path for llamacpp)")
	fl.StringVar(&f.baseURL, "base-url", "", "Backend base URL")
	fl.Float64Var(&f.temperature, "temperature", config.DefaultTemperature, "Sampling temperature")
	fl.StringVar(&f.systemPrompt, "system-prompt", "", "Override the system instruction")
	fl.BoolVar(&f.verify, "verify", false, "Check that the model is available before serving")
	fl.BoolVar(&f.cors, "cors", true, "Enable CORS")
	fl.StringVar(&f.corsOrigins, "cors-origins", "", "Comma-separated allowed origins (default *)")
	fl.StringVar(&f.authStore, "auth-store", "", "Credential store: memory|sqlite")
	fl.StringVar(&f.sqlitePath, "sqlite-path", "", "SQLite credential database path")
	fl.IntVar(&f.maxPending, "max-pending", 0, "Messages a streaming session may queue")
}

// buildConfig resolves settings with increasing precedence: config file,
// .env files and environment, then explicitly set flags.
func buildConfig(cmd *cobra.Command, root *rootOptions, f *serveFlags, getenv func(string) string) (config.Config, error) {
	var cfg config.Config
	if root.configPath != "" {
		c, err := config.Load(root.configPath)
		if err != nil {
			return cfg, fmt.Errorf("loading config: %w", err)
		}
		cfg = c
	}
	if err := config.LoadDotEnv(root.envFiles...); err != nil {
		return cfg, err
	}
	cfg, err := config.ApplyEnv(cfg, getenv)
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Addr = f.addr
	}
	if changed("backend") {
		cfg.Backend.Kind = f.backend
	}
	if changed("model") {
		cfg.Backend.Model = f.model
	}
	if changed("base-url") {
		cfg.Backend.BaseURL = f.baseURL
	}
	if changed("temperature") {
		t := f.temperature
		cfg.Backend.Temperature = &t
	}
	if changed("system-prompt") {
		cfg.Backend.SystemPrompt = f.systemPrompt
	}
	if changed("verify") {
		cfg.Backend.Verify = f.verify
	}
	if changed("cors") {
		on := f.cors
		cfg.HTTP.CORS.Enabled = &on
	}
	if changed("cors-origins") {
		cfg.HTTP.CORS.AllowedOrigins = splitCSV(f.corsOrigins)
	}
	if changed("auth-store") {
		cfg.Auth.Store = f.authStore
	}
	if changed("sqlite-path") {
		cfg.Auth.SQLitePath = f.sqlitePath
	}
	if changed("max-pending") {
		cfg.Session.MaxPending = f.maxPending
	}
	if root.logLevel != "" {
		cfg.LogLevel = root.logLevel
	}
	if root.logFormat != "" {
		cfg.LogFormat = root.logFormat
	}

	cfg = config.Defaults(cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func backendSpec(cfg config.Config) registry.Spec {
	b := cfg.Backend
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return registry.Spec{
		Kind:                b.Kind,
		Model:               b.Model,
		Temperature:         *b.Temperature,
		SystemPrompt:        b.SystemPrompt,
		BaseURL:             b.BaseURL,
		APIKey:              b.APIKey,
		Verify:              b.Verify,
		ConnectTimeout:      sec(b.ConnectTimeoutSec),
		HeaderTimeout:       sec(b.HeaderTimeoutSec),
		InvokeTimeout:       sec(b.InvokeTimeoutSec),
		FragmentIdleTimeout: sec(b.FragmentIdleTimeoutSec),
		ModelDir:            b.ModelDir,
		LlamaContext:        b.LlamaContext,
		LlamaThreads:        b.LlamaThreads,
		LlamaMaxTokens:      b.LlamaMaxTokens,
	}
}

func openAccounts(cfg config.Config) (*auth.Accounts, error) {
	var store auth.Store
	switch cfg.Auth.Store {
	case "sqlite":
		s, err := auth.OpenSQLite(cfg.Auth.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = auth.NewMemoryStore()
	}
	issuer, err := auth.NewIssuer(cfg.Auth.TokenSecret, time.Duration(cfg.Auth.TokenTTLSec)*time.Second)
	if err != nil {
		store.Close()
		return nil, err
	}
	return auth.NewAccounts(store, issuer), nil
}

func printBanner(w io.Writer, cfg config.Config) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintln(w, "chatgw")
	gray.Fprintf(w, "    version: %s\n\n", version.Get())
	row := func(k, v string) {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "%-9s %s\n", k+":", v)
	}
	row("HTTP", cfg.Addr)
	row("Backend", cfg.Backend.Kind)
	row("Model", cfg.Backend.Model)
	row("Accounts", cfg.Auth.Store)
	if cfg.CORSEnabled() {
		row("CORS", fmt.Sprint(cfg.HTTP.CORS.AllowedOrigins))
	}
	fmt.Fprintln(w)
}

func runServe(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	printBanner(stdout, cfg)

	p, err := registry.Build(ctx, backendSpec(cfg))
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	defer p.Close()

	accounts, err := openAccounts(cfg)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer accounts.Close()

	gw, err := gateway.New(p, gateway.Options{
		Session: session.Options{
			MaxPending: cfg.Session.MaxPending,
			Publisher:  httpapi.SessionMetrics{},
		},
		Logger: &logger,
	})
	if err != nil {
		return err
	}

	httpapi.SetLogger(logger)
	httpapi.SetMaxBodyBytes(cfg.HTTP.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSEnabled(), cfg.HTTP.CORS.AllowedOrigins, cfg.HTTP.CORS.AllowedMethods, cfg.HTTP.CORS.AllowedHeaders)
	if os.Getenv("CHATGW_REQUEST_LOG") == "" {
		httpapi.SetRequestLogLevel(cfg.LogLevel)
	}
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(gw, accounts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("backend", gw.Backend()).
		Str("model", gw.Model()).
		Msg("chatgw listening")

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	return shutdown(srv, gw, cancelBase, time.Duration(cfg.HTTP.ShutdownTimeoutSec)*time.Second, logger)
}

// shutdown stops accepting traffic, lets in-flight requests finish within
// timeout, then ends streaming sessions.
func shutdown(srv *http.Server, gw *gateway.Dispatcher, cancelBase context.CancelFunc, timeout time.Duration, logger zerolog.Logger) error {
	gw.Drain()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	cancelBase()

	// Upgraded connections are not tracked by Shutdown.
	deadline := time.Now().Add(2 * time.Second)
	for gw.ActiveSessions() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if n := gw.ActiveSessions(); n > 0 {
		logger.Warn().Int64("sessions", n).Msg("sessions still open at exit")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
