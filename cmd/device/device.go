// Package device provides the device CLI commands.
package device

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/paularlott/cli"

	"github.com/netfabd/netfabd/cmd/client"
	"github.com/netfabd/netfabd/internal/model"
)

// Commands returns the device subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		addCommand(),
		listCommand(),
		getCommand(),
		deleteCommand(),
		neighborsCommand(),
		searchConfigCommand(),
		factsCommand(),
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:        "add",
		Usage:       "Add a new device",
		Description: "Add a new device to the inventory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Device name", Required: true},
			&cli.StringFlag{Name: "description", Usage: "Device description"},
			&cli.StringFlag{Name: "vendor", Usage: "Vendor"},
			&cli.StringFlag{Name: "model", Usage: "Hardware model"},
			&cli.StringFlag{Name: "os", Usage: "Operating system"},
			&cli.StringFlag{Name: "os-version", Usage: "Operating system version"},
			&cli.StringFlag{Name: "ip", Usage: "Management IP address"},
			&cli.IntFlag{Name: "port", Usage: "NETCONF port"},
			&cli.StringFlag{Name: "location", Usage: "Physical location"},
			&cli.StringFlag{Name: "subtype", Usage: "Device subtype (e.g. router, switch)"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			device := model.NewDevice(cmd.GetString("name"))
			device.Description = cmd.GetString("description")
			device.Vendor = cmd.GetString("vendor")
			device.Model = cmd.GetString("model")
			device.OperatingSystem = cmd.GetString("os")
			device.OSVersion = cmd.GetString("os-version")
			device.IPAddress = cmd.GetString("ip")
			device.Location = cmd.GetString("location")
			device.Subtype = cmd.GetString("subtype")
			if port := cmd.GetInt("port"); port > 0 {
				device.Port = port
			}

			if err := client.Post("/api/devices", device, device); err != nil {
				return err
			}
			fmt.Printf("Device created: %s (ID: %s)\n", device.Name, device.ID)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List all devices",
		Description: "List all devices in the inventory",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var devices []model.Device
			if err := client.Get("/api/devices", &devices); err != nil {
				return err
			}
			printDevices(devices)
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:        "get",
		Usage:       "Get a device",
		Description: "Get a device by ID or name",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var device model.Device
			if err := client.Get("/api/devices/"+url.PathEscape(cmd.GetStringArg("id")), &device); err != nil {
				return err
			}
			printDevice(&device)
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:        "delete",
		Usage:       "Delete a device",
		Description: "Delete a device, its links and its sessions",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			if err := client.Delete("/api/devices/" + url.PathEscape(cmd.GetStringArg("id"))); err != nil {
				return err
			}
			fmt.Println("Device deleted")
			return nil
		},
	}
}

func neighborsCommand() *cli.Command {
	return &cli.Command{
		Name:        "neighbors",
		Usage:       "Show device neighbors",
		Description: "List the devices adjacent to a device through its links",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "direction", Usage: "Link direction (source, destination, both)", DefaultValue: "both"},
			&cli.StringFlag{Name: "subtype", Usage: "Only traverse links of this subtype"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			query := url.Values{}
			query.Set("direction", cmd.GetString("direction"))
			if subtype := cmd.GetString("subtype"); subtype != "" {
				query.Set("subtype", subtype)
			}
			var neighbors []model.Device
			path := "/api/devices/" + url.PathEscape(cmd.GetStringArg("id")) + "/neighbors?" + query.Encode()
			if err := client.Get(path, &neighbors); err != nil {
				return err
			}
			printDevices(neighbors)
			return nil
		},
	}
}

func searchConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "search-config",
		Usage:       "Search a device configuration",
		Description: "Search the device's cached configuration for matching lines",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
			&cli.StringArg{Name: "query", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Usage: "Search mode (substring, regex)", DefaultValue: "substring"},
			&cli.IntFlag{Name: "window", Usage: "Context lines around each match", DefaultValue: 2},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			query := url.Values{}
			query.Set("q", cmd.GetStringArg("query"))
			query.Set("mode", cmd.GetString("mode"))
			query.Set("window", fmt.Sprintf("%d", cmd.GetInt("window")))

			var result struct {
				Matches []string `json:"matches"`
			}
			path := "/api/devices/" + url.PathEscape(cmd.GetStringArg("id")) + "/configuration/search?" + query.Encode()
			if err := client.Get(path, &result); err != nil {
				return err
			}
			if len(result.Matches) == 0 {
				fmt.Println("No matches")
				return nil
			}
			fmt.Println(strings.Join(result.Matches, "\n"))
			return nil
		},
	}
}

func factsCommand() *cli.Command {
	return &cli.Command{
		Name:        "facts",
		Usage:       "Refresh device facts over SNMP",
		Description: "Poll the device's SNMP system table and update the inventory record",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var device model.Device
			path := "/api/devices/" + url.PathEscape(cmd.GetStringArg("id")) + "/facts"
			if err := client.Post(path, nil, &device); err != nil {
				return err
			}
			printDevice(&device)
			return nil
		},
	}
}

func printDevices(devices []model.Device) {
	if len(devices) == 0 {
		fmt.Println("No devices found")
		return
	}
	for _, d := range devices {
		fmt.Printf("%s\t%s\t%s\t%s\n", d.ID, d.Name, d.IPAddress, d.Location)
	}
}

func printDevice(device *model.Device) {
	fmt.Printf("ID:          %s\n", device.ID)
	fmt.Printf("Name:        %s\n", device.Name)
	fmt.Printf("Description: %s\n", device.Description)
	fmt.Printf("Vendor:      %s\n", device.Vendor)
	fmt.Printf("Model:       %s\n", device.Model)
	fmt.Printf("OS:          %s %s\n", device.OperatingSystem, device.OSVersion)
	fmt.Printf("Address:     %s:%d\n", device.IPAddress, device.Port)
	fmt.Printf("Location:    %s\n", device.Location)
	fmt.Printf("Driver:      %s\n", device.NetconfDriver)
	fmt.Printf("Last config: %s (%s)\n", device.LastConfigUpdate, device.LastConfigStatus)
}
