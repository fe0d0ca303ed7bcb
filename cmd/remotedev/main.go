package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"remotedev/internal/infra/config"
	"remotedev/internal/infra/logger"
	"remotedev/internal/infra/tracer"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "doctor":
			if err := runDoctor(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
				os.Exit(1)
			}
			return
		case "encrypt-secret":
			if err := runEncryptSecret(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt-secret: %v\n", err)
				os.Exit(1)
			}
			return
		case "version":
			fmt.Println("remotedev", version)
			return
		}
	}

	flags, err := parseServeFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%v\n\nRun 'remotedev --help' for usage information.\n", err)
		os.Exit(2)
	}
	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`remotedev - remote control backend for a local development machine

USAGE:
    remotedev [COMMAND] [FLAGS]

COMMANDS:
    doctor            Run health checks on your setup
    encrypt-secret    Encrypt a value for use in the config file
    version           Print the build version

    (no command) - Run the server

FLAGS:
    -h, --help           Show this help message
    -c, --config PATH    Config file path (default: ./remotedev.yaml)
    --host HOST          Override server.host
    -p, --port PORT      Override server.port
    --workspace DIR      Override workspace.root
    --log-level LEVEL    Override logger.level (debug, info, warn, error)

CONFIGURATION:
    Config file: ./remotedev.yaml
    Environment: REMOTEDEV_* variables override config
    Secrets:     values prefixed "enc:" are decrypted with REMOTEDEV_CONFIG_KEY

EXAMPLES:
    remotedev                                 # Run with remotedev.yaml
    remotedev --config /etc/remotedev.yaml    # Run with a custom config
    remotedev --port 4000 --workspace ~/code  # Override on the command line
    remotedev doctor                          # Check system health`)
}

// serveFlags are the command-line overrides for the server.
type serveFlags struct {
	ConfigPath string
	Host       string
	Port       int
	Workspace  string
	LogLevel   string
}

func parseServeFlags(args []string) (serveFlags, error) {
	var f serveFlags
	fs := pflag.NewFlagSet("remotedev", pflag.ContinueOnError)
	fs.Usage = showUsage
	fs.StringVarP(&f.ConfigPath, "config", "c", defaultConfigPath(), "config file path")
	fs.StringVar(&f.Host, "host", "", "listen host")
	fs.IntVarP(&f.Port, "port", "p", 0, "listen port")
	fs.StringVar(&f.Workspace, "workspace", "", "workspace root")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unknown command: %s", fs.Arg(0))
	}
	return f, nil
}

// apply writes the non-empty overrides into cfg and revalidates it.
func (f serveFlags) apply(cfg *config.Config) error {
	if f.Host != "" {
		cfg.Server.Host = f.Host
	}
	if f.Port != 0 {
		cfg.Server.Port = f.Port
	}
	if f.Workspace != "" {
		cfg.Workspace.Root = f.Workspace
	}
	if f.LogLevel != "" {
		cfg.Logger.Level = f.LogLevel
	}
	return config.Validate(cfg)
}

func defaultConfigPath() string {
	if p := os.Getenv("REMOTEDEV_CONFIG"); p != "" {
		return p
	}
	return "remotedev.yaml"
}

func run(flags serveFlags) error {
	// 1. Config
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := flags.apply(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, os.Stderr)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Components
	comp, err := initComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		comp.shutdown(shutdownCtx)
	}()

	// 4. HTTP surface
	handler, err := comp.router(ctx, cfg)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	lis, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 5. Background services
	if err := comp.startBackground(ctx, cfg, listenPort(lis.Addr(), cfg.Server.Port)); err != nil {
		lis.Close()
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	log.Info("remotedev started",
		"addr", lis.Addr().String(),
		"version", version,
		"workspace", cfg.Workspace.Root,
		"projects", len(comp.projects.List()),
		"cli_available", comp.cli.Available(),
	)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Close websocket sessions first so Shutdown is not held open by them.
	comp.gateway.Shutdown()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	return nil
}

func listenPort(addr net.Addr, fallback int) int {
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return fallback
	}
	return n
}
