// Package server assembles the components and runs the HTTP server.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/paularlott/cli"

	"github.com/netfabd/netfabd/internal/access"
	"github.com/netfabd/netfabd/internal/api"
	"github.com/netfabd/netfabd/internal/config"
	"github.com/netfabd/netfabd/internal/drivers"
	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/mcp"
	"github.com/netfabd/netfabd/internal/pool"
	"github.com/netfabd/netfabd/internal/runner"
	"github.com/netfabd/netfabd/internal/snmp"
	"github.com/netfabd/netfabd/internal/storage"
	"github.com/netfabd/netfabd/internal/worker"
)

// Components holds the assembled application parts.
type Components struct {
	Config     *config.Config
	Store      storage.Store
	Engine     *pool.Engine
	Resolver   *access.Resolver
	Runner     *runner.Runner
	WorkerPool *worker.WorkerPool
	Scheduler  *worker.Scheduler
	Poller     *snmp.Poller
	APIHandler *api.Handler
	MCPServer  *mcp.Server
}

// Assemble wires the whole stack over the configured store.
func Assemble(cfg *config.Config) (*Components, error) {
	store, err := storage.NewStore(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	log.Info("Storage initialized", "backend", cfg.StorageBackend, "path", cfg.DataDir)

	engine := pool.NewEngine(store)
	engine.OnAccessChange(func(userID string) {
		log.Info("Credential scope changed", "user", userID)
	})

	registry := drivers.GetRegistry()
	registry.Register("default", drivers.NewSSHDialer())

	workerPool := worker.NewWorkerPool(cfg.Workers)
	scheduler := worker.NewScheduler()
	resolver := access.NewResolver(store)
	svcRunner := runner.NewRunner(store, resolver, registry, workerPool)
	poller := snmp.NewPoller(cfg.SNMPCommunity)

	return &Components{
		Config:     cfg,
		Store:      store,
		Engine:     engine,
		Resolver:   resolver,
		Runner:     svcRunner,
		WorkerPool: workerPool,
		Scheduler:  scheduler,
		Poller:     poller,
		APIHandler: api.NewHandler(store, engine, resolver, svcRunner, scheduler, poller),
		MCPServer:  mcp.NewServer(store, engine, svcRunner, cfg.BearerToken),
	}, nil
}

// scheduleStoredServices restores the cron triggers of services that
// were scheduled before the last shutdown.
func scheduleStoredServices(c *Components) {
	services, err := c.Store.ListServices()
	if err != nil {
		log.Error("Failed to list services for scheduling", "error", err)
		return
	}
	for i := range services {
		service := services[i]
		if service.CronSchedule == "" {
			continue
		}
		serviceID := service.ID
		err := c.Scheduler.Schedule(serviceID, service.CronSchedule, func() {
			scheduled, err := c.Store.GetService(serviceID)
			if err != nil {
				log.Error("Scheduled service vanished", "service_id", serviceID, "error", err)
				return
			}
			report, err := c.Runner.Run(context.Background(), scheduled, "scheduler")
			if err != nil {
				log.Error("Scheduled run failed", "service", scheduled.Name, "error", err)
				return
			}
			log.Info("Scheduled run finished", "service", scheduled.Name, "success", report.Success)
		})
		if err != nil {
			log.Warn("Failed to restore schedule",
				"service", service.Name, "cron", service.CronSchedule, "error", err)
		} else {
			log.Info("Schedule restored", "service", service.Name, "cron", service.CronSchedule)
		}
	}
}

// RunServer starts the HTTP server over the assembled components and
// blocks until shutdown.
func RunServer(c *Components) error {
	c.WorkerPool.Start()
	defer c.WorkerPool.Stop()
	c.Scheduler.Start()
	defer c.Scheduler.Stop()
	defer c.Store.Close()

	if err := c.Engine.ComputeAll(); err != nil {
		log.Error("Initial pool recomputation failed", "error", err)
	}
	scheduleStoredServices(c)

	mux := http.NewServeMux()
	c.APIHandler.RegisterRoutes(mux)
	mux.HandleFunc("/mcp", c.MCPServer.GetHTTPHandler())

	var handler http.Handler = mux
	handler = api.AuthMiddleware(c.Config.BearerToken, handler)
	handler = api.SecurityHeadersMiddleware(handler)

	server := &http.Server{
		Addr:    c.Config.ListenAddr,
		Handler: handler,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down server...")
		server.Close()
	}()

	log.Info("Starting netfabd server", "addr", c.Config.ListenAddr)
	log.Info("API available", "url", "http://localhost"+c.Config.ListenAddr+"/api/")
	log.Info("MCP available", "url", "http://localhost"+c.Config.ListenAddr+"/mcp")
	if c.Config.IsMCPEnabled() {
		log.Info("Bearer token authentication enabled")
	}
	c.MCPServer.LogStartup()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server error", "error", err)
		return err
	}

	log.Info("Server stopped")
	return nil
}

// Command returns the server CLI command.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "Start the netfabd server",
		Description: "Start the HTTP server with the inventory API, service runner and MCP endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Data directory path",
				EnvVars: []string{"NETFABD_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Server listen address (e.g. :8080)",
				EnvVars: []string{"NETFABD_LISTEN_ADDR"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token for API and MCP authentication",
				EnvVars: []string{"NETFABD_BEARER_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "storage",
				Usage:   "Storage backend (sqlite, memory)",
				EnvVars: []string{"NETFABD_STORAGE_BACKEND"},
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Concurrent device operations",
				EnvVars: []string{"NETFABD_WORKERS"},
			},
			&cli.StringFlag{
				Name:    "snmp-community",
				Usage:   "SNMP community for device fact polling",
				EnvVars: []string{"NETFABD_SNMP_COMMUNITY"},
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(&config.Config{
				DataDir:        cmd.GetString("data-dir"),
				ListenAddr:     cmd.GetString("addr"),
				BearerToken:    cmd.GetString("token"),
				StorageBackend: cmd.GetString("storage"),
				Workers:        cmd.GetInt("workers"),
				SNMPCommunity:  cmd.GetString("snmp-community"),
			})
			log.Info("Configuration loaded", "source", cfg.String(),
				"data_dir", cfg.DataDir, "listen_addr", cfg.ListenAddr)

			components, err := Assemble(cfg)
			if err != nil {
				log.Error("Failed to assemble server", "error", err)
				return err
			}
			return RunServer(components)
		},
	}
}
