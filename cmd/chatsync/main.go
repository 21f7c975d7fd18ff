// ABOUTME: Entry point for the chatsync terminal client
// ABOUTME: Loads config and credentials, wires metrics and runs the interactive chat loop

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AryaPawar0402/chatsync/internal/auth"
	"github.com/AryaPawar0402/chatsync/internal/client"
	"github.com/AryaPawar0402/chatsync/internal/config"
	"github.com/AryaPawar0402/chatsync/internal/loopback"
	"github.com/AryaPawar0402/chatsync/internal/metrics"
	"github.com/AryaPawar0402/chatsync/internal/subscription"
	"github.com/AryaPawar0402/chatsync/internal/transport"
)

// Version is set at build time.
var version = "dev"

// getConfigPath returns the path to the client config file.
// Priority: CHATSYNC_CONFIG env var > XDG_CONFIG_HOME/chatsync/config.yaml > ~/.config/chatsync/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATSYNC_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatsync", "config.yaml")
}

func main() {
	_ = godotenv.Load(".env")

	configPath := flag.String("config", "", "Config file (default: $CHATSYNC_CONFIG or ~/.config/chatsync/config.yaml)")
	user := flag.String("user", "", "Your user id (default: the token subject)")
	with := flag.String("with", "", "Open a conversation with this user on start")
	loop := flag.Bool("loopback", false, "Run against an in-process server instead of the network")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("chatsync", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := runOptions{
		configPath: *configPath,
		user:       *user,
		with:       *with,
		loopback:   *loop,
	}
	if err := run(ctx, opts); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

type runOptions struct {
	configPath string
	user       string
	with       string
	loopback   bool
}

func run(ctx context.Context, opts runOptions) error {
	cfg, path, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.loopback {
		cfg.Broker.URL = "memory://loopback"
	}

	logger := setupLogger(cfg.Logging)

	var creds auth.Provider = auth.EnvFile{EnvVar: "CHATSYNC_TOKEN", Path: auth.DefaultTokenPath()}
	if opts.loopback {
		creds = fallbackProvider{primary: creds, fallback: auth.Static("loopback")}
	}

	self := opts.user
	if self == "" {
		cred, err := auth.Resolve(ctx, creds, "identify user")
		if err != nil {
			return fmt.Errorf("no -user given and no usable token: %w", err)
		}
		if cred.Subject == "" {
			return errors.New("token carries no subject, pass -user")
		}
		self = cred.Subject
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		go serveMetrics(ctx, cfg.Metrics, reg, logger)
	}

	clientOpts := client.Options{
		Credentials: creds,
		Logger:      logger,
		Metrics:     m,
	}
	if opts.loopback {
		broker := transport.NewMemoryBroker()
		server := loopback.New(broker, subscription.Destinations{
			Messages: cfg.Broker.Destinations.Messages,
			Status:   cfg.Broker.Destinations.Status,
		}, cfg.Broker.Destinations.Send, logger)
		if opts.with != "" {
			server.AutoReply(opts.with, func(in string) string { return "you said: " + in })
		}
		clientOpts.Dialer = broker
		clientOpts.API = server
	}

	c, err := client.New(cfg, clientOpts)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer c.Close()

	printBanner(path, cfg, self, opts.loopback)

	r := newREPL(c, self, os.Stdin, os.Stdout, logger)
	return r.Run(ctx, opts.with)
}

// loadConfig reads the config at path, or the default location. A missing
// default file falls back to built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	explicit := path != ""
	if !explicit {
		path = getConfigPath()
	}
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), "(defaults)", nil
	}
	return nil, "", fmt.Errorf("loading config: %w", err)
}

func printBanner(path string, cfg *config.Config, self string, loop bool) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)

	cyan.Println("chatsync")
	gray.Printf("    version: %s\n\n", version)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("Broker:  %s", cfg.Broker.URL)
	if loop {
		yellow.Print(" [loopback]")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("API:     %s\n", cfg.API.BaseURL)
	green.Print("    ▶ ")
	fmt.Print("User:    ")
	cyan.Println(self)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics: %s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	fmt.Println()
	fmt.Println("Type /help for commands. Ctrl+C to quit.")
	fmt.Println()
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", cfg.Addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

// fallbackProvider uses fallback when primary has no token.
type fallbackProvider struct {
	primary  auth.Provider
	fallback auth.Provider
}

func (p fallbackProvider) Token(ctx context.Context) (string, error) {
	token, err := p.primary.Token(ctx)
	if err == nil && token != "" {
		return token, nil
	}
	return p.fallback.Token(ctx)
}
