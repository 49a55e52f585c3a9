package main

import (
	"context"
	"os"

	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"

	"github.com/netfabd/netfabd/cmd/client"
	"github.com/netfabd/netfabd/cmd/credential"
	"github.com/netfabd/netfabd/cmd/device"
	"github.com/netfabd/netfabd/cmd/pool"
	"github.com/netfabd/netfabd/cmd/server"
	"github.com/netfabd/netfabd/cmd/service"
	"github.com/netfabd/netfabd/internal/log"
)

var version = "dev"

func main() {
	// Load .env file if it exists
	env.Load()

	// Initialize structured logging
	log.Configure("info", "console")

	rootCmd := &cli.Command{
		Name:        "netfabd",
		Version:     version,
		Usage:       "Network inventory and automation server",
		Description: "Pool-based network inventory with credential scoping, NETCONF service runs and an MCP endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "log-level",
				Usage:        "Log level (trace, debug, info, warn, error)",
				DefaultValue: "info",
				EnvVars:      []string{"NETFABD_LOG_LEVEL"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:         "log-format",
				Usage:        "Log format (console, json)",
				DefaultValue: "console",
				EnvVars:      []string{"NETFABD_LOG_FORMAT"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:         "server",
				Aliases:      []string{"s"},
				Usage:        "Server URL for the client commands",
				DefaultValue: client.ServerURL,
				EnvVars:      []string{"NETFABD_SERVER_URL"},
				AssignTo:     &client.ServerURL,
				Global:       true,
			},
			&cli.StringFlag{
				Name:     "auth-token",
				Usage:    "Bearer token for the client commands",
				EnvVars:  []string{"NETFABD_BEARER_TOKEN"},
				AssignTo: &client.Token,
				Global:   true,
			},
		},
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Configure(cmd.GetString("log-level"), cmd.GetString("log-format"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			server.Command(),
			{
				Name:        "device",
				Usage:       "Device management commands",
				Description: "Manage devices in the inventory",
				Commands:    device.Commands(),
			},
			{
				Name:        "pool",
				Usage:       "Pool management commands",
				Description: "Manage pools and their membership",
				Commands:    pool.Commands(),
			},
			{
				Name:        "credential",
				Usage:       "Credential management commands",
				Description: "Manage device credentials and their scoping",
				Commands:    credential.Commands(),
			},
			{
				Name:        "service",
				Usage:       "Service commands",
				Description: "Manage, run and schedule NETCONF services",
				Commands:    service.Commands(),
			},
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
