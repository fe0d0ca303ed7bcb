package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"remotedev/internal/adapter/cli"
	"remotedev/internal/adapter/discovery"
	"remotedev/internal/adapter/files"
	"remotedev/internal/adapter/gateway"
	"remotedev/internal/adapter/git"
	"remotedev/internal/adapter/history"
	"remotedev/internal/adapter/httpapi"
	"remotedev/internal/adapter/projects"
	"remotedev/internal/adapter/rpc"
	"remotedev/internal/infra/config"
	"remotedev/internal/usecase/devserver"
	"remotedev/internal/usecase/eventbus"
	"remotedev/internal/usecase/hub"
	"remotedev/internal/usecase/job"
	"remotedev/internal/usecase/portprobe"
	"remotedev/internal/usecase/process"
	"remotedev/internal/usecase/scheduling"
	"remotedev/internal/usecase/watcher"
)

// historyKeepFactor times history.limit is how many archived jobs survive
// a prune.
const historyKeepFactor = 10

// components holds every long-lived service of the server.
type components struct {
	bus        *eventbus.Bus
	hub        *hub.Hub
	bridge     *hub.Bridge
	runner     *process.Runner
	prober     *portprobe.Prober
	history    *history.SQLiteStore // nil when disabled
	jobs       *job.Registry
	cli        *cli.Tool
	devservers *devserver.Manager
	watcher    *watcher.Watcher
	files      *files.Service
	git        *git.Service
	projects   *projects.Service
	gateway    *gateway.Server
	scheduler  *scheduling.Scheduler
	logger     *slog.Logger
}

func initComponents(ctx context.Context, cfg *config.Config, log *slog.Logger) (*components, error) {
	c := &components{logger: log}

	c.bus = eventbus.New(log)
	c.hub = hub.New(hub.Config{}, log)
	c.bridge = hub.NewBridge(c.bus, c.hub)

	c.runner = process.NewRunner(process.RunnerConfig{}, log)
	c.prober = portprobe.New()

	var opts []job.Option
	if cfg.Jobs.History.Enabled {
		store, err := history.NewSQLiteStore(cfg.Jobs.History.Path)
		if err != nil {
			c.bridge.Close()
			c.bus.Close()
			return nil, fmt.Errorf("history: %w", err)
		}
		c.history = store
		opts = append(opts, job.WithArchive(store))
	}
	c.jobs = job.NewRegistry(job.Config{Retention: cfg.Jobs.Retention}, c.runner, c.bus, log, opts...)

	c.cli = cli.New(cli.Config{
		Path:        cfg.CLI.Path,
		MaxFailures: uint32(cfg.CLI.Breaker.Failures),
		Timeout:     cfg.CLI.Breaker.Timeout,
	}, c.runner, log)

	c.devservers = devserver.NewManager(devserver.Config{
		Ports:         cfg.DevServer.Ports,
		PreviewPorts:  cfg.DevServer.PreviewPorts,
		ReadyTimeout:  cfg.DevServer.ReadyTimeout,
		ReadyPatterns: cfg.DevServer.ReadyPatterns,
	}, c.runner, c.prober, c.bus, log)

	c.watcher = watcher.New(c.bus, log)
	c.files = files.New(cfg.Files.MaxSize, log)
	c.git = git.New(git.Config{}, c.bus, log)
	c.projects = projects.New(cfg.Workspace.Root, c.bus, log)

	found, err := c.projects.Scan(ctx)
	if err != nil {
		log.Warn("workspace scan failed", "root", cfg.Workspace.Root, "error", err)
	} else {
		log.Info("workspace scanned", "root", cfg.Workspace.Root, "projects", len(found))
	}

	c.gateway = gateway.NewServer(c.hub, gateway.NewAPIKeyAuth(cfg.Auth.APIKey), gateway.Options{
		OriginPatterns: cfg.Server.CORSOrigins,
	}, log)
	gateway.RegisterDefaultHandlers(c.gateway, gateway.HandlerDeps{
		Jobs:       c.jobs,
		DevServers: c.devservers,
	})

	c.scheduler = scheduling.NewScheduler(log)
	return c, nil
}

// router builds the HTTP handler over every service.
func (c *components) router(ctx context.Context, cfg *config.Config) (http.Handler, error) {
	deps := httpapi.Deps{
		Jobs:       c.jobs,
		CLI:        c.cli,
		Processes:  c.runner,
		DevServers: c.devservers,
		Ports:      c.prober,
		Files:      c.files,
		Git:        c.git,
		Projects:   c.projects,
		Watcher:    c.watcher,
		Scheduler:  c.scheduler,
		WebSocket:  c.gateway,
	}
	if c.history != nil {
		deps.History = c.history
	}
	return httpapi.NewRouter(ctx, deps, httpapi.Options{
		APIKey:         cfg.Auth.APIKey,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimitRPM:   cfg.Server.RateLimit.RPM,
		RateLimitBurst: cfg.Server.RateLimit.Burst,
		MaxBody:        cfg.Files.MaxSize + 1<<20,
		Version:        version,
	}, c.logger)
}

// startBackground starts the scheduler, the optional watchers, the gRPC
// listener and mDNS advertisement. All of them stop when ctx ends.
func (c *components) startBackground(ctx context.Context, cfg *config.Config, httpPort int) error {
	if err := c.schedule(cfg); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if cfg.Workspace.WatchOnStart {
		n := c.watcher.WatchAll(ctx, c.projects.Paths())
		c.logger.Info("watching workspace", "projects", n)
	}

	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		srv := rpc.NewServer(rpc.NewService(c.jobs, c.cli, c.logger), cfg.Auth.APIKey)
		go func() {
			if err := rpc.Serve(ctx, srv, lis); err != nil {
				c.logger.Error("grpc server error", "error", err)
			}
		}()
		c.logger.Info("grpc listening", "addr", lis.Addr().String())
	}

	if cfg.Discovery.Enabled {
		mdns := discovery.New(discovery.Config{
			Instance: cfg.Discovery.Instance,
			Service:  cfg.Discovery.Service,
			Domain:   cfg.Discovery.Domain,
		}, c.logger)
		meta := map[string]string{
			"version": version,
			"auth":    strconv.FormatBool(cfg.Auth.APIKey != ""),
		}
		if cfg.GRPC.Enabled {
			meta["grpc"] = cfg.GRPC.Addr
		}
		go func() {
			if err := mdns.Advertise(ctx, httpPort, meta); err != nil {
				c.logger.Warn("mdns advertisement failed", "error", err)
			}
		}()
	}
	return nil
}

func (c *components) schedule(cfg *config.Config) error {
	c.scheduler.RegisterAction(scheduling.ActionJobReap, func(ctx context.Context) error {
		if n := c.jobs.Reap(ctx); n > 0 {
			c.logger.Debug("reaped jobs", "count", n)
		}
		return nil
	})
	c.scheduler.RegisterAction(scheduling.ActionProjectRescan, func(ctx context.Context) error {
		_, err := c.projects.RefreshAll(ctx)
		return err
	})
	c.scheduler.RegisterAction(scheduling.ActionHistoryPrune, func(ctx context.Context) error {
		if c.history == nil {
			return nil
		}
		limit := cfg.Jobs.History.Limit
		if limit <= 0 {
			limit = history.DefaultLimit
		}
		n, err := c.history.Prune(ctx, limit*historyKeepFactor)
		if err == nil && n > 0 {
			c.logger.Debug("pruned job history", "count", n)
		}
		return err
	})

	if cfg.Jobs.ReapSchedule != "" {
		if err := c.scheduler.AddTask(scheduling.ScheduledTask{
			Name: "job-reap", Schedule: cfg.Jobs.ReapSchedule, Action: scheduling.ActionJobReap,
		}); err != nil {
			return err
		}
		if c.history != nil {
			if err := c.scheduler.AddTask(scheduling.ScheduledTask{
				Name: "history-prune", Schedule: cfg.Jobs.ReapSchedule, Action: scheduling.ActionHistoryPrune,
			}); err != nil {
				return err
			}
		}
	}
	if cfg.Workspace.RescanSchedule != "" {
		if err := c.scheduler.AddTask(scheduling.ScheduledTask{
			Name: "project-rescan", Schedule: cfg.Workspace.RescanSchedule, Action: scheduling.ActionProjectRescan,
		}); err != nil {
			return err
		}
	}
	return nil
}

// shutdown stops everything in reverse dependency order.
func (c *components) shutdown(ctx context.Context) {
	if err := c.scheduler.Stop(); err != nil {
		c.logger.Warn("scheduler stop error", "error", err)
	}
	c.watcher.StopAll()
	c.devservers.StopAll(ctx)
	c.runner.Shutdown(ctx)
	if err := c.jobs.Close(ctx); err != nil {
		c.logger.Warn("job registry close error", "error", err)
	}
	c.bridge.Close()
	c.hub.Close()
	c.bus.Close()
	if c.history != nil {
		if err := c.history.Close(); err != nil {
			c.logger.Warn("history close error", "error", err)
		}
	}
}
