// Package credential provides the credential CLI commands.
package credential

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/paularlott/cli"
	"golang.org/x/term"

	"github.com/netfabd/netfabd/cmd/client"
	"github.com/netfabd/netfabd/internal/model"
)

// Commands returns the credential subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		addCommand(),
		listCommand(),
		deleteCommand(),
		resolveCommand(),
	}
}

// promptSecret reads a secret from the terminal without echo.
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return string(secret), nil
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:        "add",
		Usage:       "Add a credential",
		Description: "Add a device credential scoped to user and device pools. The password is prompted for unless --password is given.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Credential name", Required: true},
			&cli.StringFlag{Name: "username", Usage: "Login username", Required: true},
			&cli.StringFlag{Name: "password", Usage: "Login password (prompted when omitted)"},
			&cli.StringFlag{Name: "private-key", Usage: "Path to an SSH private key file"},
			&cli.StringFlag{Name: "role", Usage: "Credential role (read-only, read-write)", DefaultValue: model.RoleReadWrite},
			&cli.IntFlag{Name: "priority", Usage: "Resolution priority, higher wins", DefaultValue: 1},
			&cli.StringFlag{Name: "device-pools", Usage: "Comma-separated device pool IDs", Required: true},
			&cli.StringFlag{Name: "user-pools", Usage: "Comma-separated user pool IDs", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			credential := model.NewCredential(cmd.GetString("name"))
			credential.Username = cmd.GetString("username")
			credential.Role = cmd.GetString("role")
			credential.Priority = cmd.GetInt("priority")
			credential.DevicePoolIDs = splitList(cmd.GetString("device-pools"))
			credential.UserPoolIDs = splitList(cmd.GetString("user-pools"))

			if keyPath := cmd.GetString("private-key"); keyPath != "" {
				key, err := os.ReadFile(keyPath)
				if err != nil {
					return fmt.Errorf("reading private key: %w", err)
				}
				credential.PrivateKey = string(key)
				credential.Subtype = "key"
			}

			credential.Password = cmd.GetString("password")
			if credential.Password == "" && credential.PrivateKey == "" {
				password, err := promptSecret("Password")
				if err != nil {
					return err
				}
				credential.Password = password
			}

			if err := client.Post("/api/credentials", credential, credential); err != nil {
				return err
			}
			fmt.Printf("Credential created: %s (ID: %s)\n", credential.Name, credential.ID)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List credentials",
		Description: "List all credentials without their secrets",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var credentials []model.Credential
			if err := client.Get("/api/credentials", &credentials); err != nil {
				return err
			}
			if len(credentials) == 0 {
				fmt.Println("No credentials found")
				return nil
			}
			for _, c := range credentials {
				fmt.Printf("%s\t%s\t%s\tpriority=%d\n", c.ID, c.Name, c.Role, c.Priority)
			}
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:        "delete",
		Usage:       "Delete a credential",
		Description: "Delete a credential by ID or name",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			if err := client.Delete("/api/credentials/" + url.PathEscape(cmd.GetStringArg("id"))); err != nil {
				return err
			}
			fmt.Println("Credential deleted")
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:        "resolve",
		Usage:       "Resolve the credential for a device",
		Description: "Show which credential a user would get for a device",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "device", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "Requesting user ID or name", Required: true},
			&cli.StringFlag{Name: "role", Usage: "Required role (read-only, read-write, any)", DefaultValue: model.RoleAny},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			query := url.Values{}
			query.Set("user", cmd.GetString("user"))
			query.Set("role", cmd.GetString("role"))

			var credential model.Credential
			path := "/api/devices/" + url.PathEscape(cmd.GetStringArg("device")) + "/credentials?" + query.Encode()
			if err := client.Get(path, &credential); err != nil {
				return err
			}
			fmt.Printf("Credential:  %s (ID: %s)\n", credential.Name, credential.ID)
			fmt.Printf("Role:        %s\n", credential.Role)
			fmt.Printf("Username:    %s\n", credential.Username)
			fmt.Printf("Priority:    %d\n", credential.Priority)
			return nil
		},
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
