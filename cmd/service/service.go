// Package service provides the service CLI commands.
package service

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/paularlott/cli"

	"github.com/netfabd/netfabd/cmd/client"
	"github.com/netfabd/netfabd/internal/model"
)

// report mirrors the runner's run report.
type report struct {
	ServiceName string    `json:"service_name"`
	User        string    `json:"user"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Success     bool      `json:"success"`
	Devices     map[string]struct {
		Success bool        `json:"success"`
		Result  interface{} `json:"result"`
		Error   string      `json:"error,omitempty"`
	} `json:"devices"`
}

// Commands returns the service subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		listCommand(),
		getCommand(),
		runCommand(),
		scheduleCommand(),
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List services",
		Description: "List all services with their operation and schedule",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var services []model.Service
			if err := client.Get("/api/services", &services); err != nil {
				return err
			}
			if len(services) == 0 {
				fmt.Println("No services found")
				return nil
			}
			for _, s := range services {
				schedule := s.CronSchedule
				if schedule == "" {
					schedule = "-"
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Netconf.Operation, schedule)
			}
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:        "get",
		Usage:       "Get a service",
		Description: "Get a service by ID or name",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var service model.Service
			if err := client.Get("/api/services/"+url.PathEscape(cmd.GetStringArg("id")), &service); err != nil {
				return err
			}
			fmt.Printf("ID:        %s\n", service.ID)
			fmt.Printf("Name:      %s\n", service.Name)
			fmt.Printf("Operation: %s\n", service.Netconf.Operation)
			fmt.Printf("Target:    %s\n", service.Netconf.Target)
			fmt.Printf("Devices:   %d explicit, %d pools\n", len(service.TargetDeviceIDs), len(service.TargetPoolIDs))
			if service.CronSchedule != "" {
				fmt.Printf("Schedule:  %s\n", service.CronSchedule)
			}
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:        "run",
		Usage:       "Run a service",
		Description: "Run a service against its targets and print the per-device results",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "User to run as", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			query := url.Values{}
			query.Set("user", cmd.GetString("user"))

			var result report
			path := "/api/services/" + url.PathEscape(cmd.GetStringArg("id")) + "/run?" + query.Encode()
			if err := client.Post(path, nil, &result); err != nil {
				return err
			}

			status := "succeeded"
			if !result.Success {
				status = "FAILED"
			}
			fmt.Printf("Run of %s %s in %s (%d devices)\n",
				result.ServiceName, status,
				result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond),
				len(result.Devices))

			names := make([]string, 0, len(result.Devices))
			for name := range result.Devices {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				device := result.Devices[name]
				if device.Success {
					fmt.Printf("  %s: ok\n", name)
				} else {
					fmt.Printf("  %s: %s\n", name, device.Error)
				}
			}
			if !result.Success {
				return fmt.Errorf("service run failed")
			}
			return nil
		},
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:        "schedule",
		Usage:       "Schedule a service",
		Description: "Set or clear the cron schedule of a service",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cron", Usage: "Cron expression, empty to unschedule"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var service model.Service
			id := url.PathEscape(cmd.GetStringArg("id"))
			if err := client.Get("/api/services/"+id, &service); err != nil {
				return err
			}
			service.CronSchedule = cmd.GetString("cron")
			if err := client.Put("/api/services/"+service.ID, service, &service); err != nil {
				return err
			}
			if service.CronSchedule == "" {
				fmt.Printf("Service %s unscheduled\n", service.Name)
			} else {
				fmt.Printf("Service %s scheduled: %s\n", service.Name, service.CronSchedule)
			}
			return nil
		},
	}
}
