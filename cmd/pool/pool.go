// Package pool provides the pool CLI commands.
package pool

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/paularlott/cli"

	"github.com/netfabd/netfabd/cmd/client"
	"github.com/netfabd/netfabd/internal/model"
)

// Commands returns the pool subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		createCommand(),
		listCommand(),
		getCommand(),
		deleteCommand(),
		membersCommand(),
		recomputeCommand(),
	}
}

// parseFilter parses "kind:property:match:value" with an optional
// trailing ":invert".
func parseFilter(raw string) (model.Kind, string, model.FilterSpec, error) {
	parts := strings.SplitN(raw, ":", 5)
	if len(parts) < 4 {
		return "", "", model.FilterSpec{}, fmt.Errorf("filter %q must be kind:property:match:value", raw)
	}
	spec := model.FilterSpec{
		Match: model.MatchMode(parts[2]),
		Value: parts[3],
	}
	if len(parts) == 5 {
		if parts[4] != "invert" {
			return "", "", model.FilterSpec{}, fmt.Errorf("unknown filter modifier %q", parts[4])
		}
		spec.Invert = true
	}
	return model.Kind(parts[0]), parts[1], spec, nil
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:        "create",
		Usage:       "Create a pool",
		Description: "Create a computed or manually defined pool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Pool name", Required: true},
			&cli.StringFlag{Name: "description", Usage: "Pool description"},
			&cli.StringFlag{Name: "operator", Usage: "Filter combination (all, any)", DefaultValue: model.OperatorAll},
			&cli.BoolFlag{Name: "manual", Usage: "Manually defined membership"},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "Filter as kind:property:match:value[:invert], comma-separated for several",
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			pool := model.NewPool(cmd.GetString("name"))
			pool.Description = cmd.GetString("description")
			pool.Operator = cmd.GetString("operator")
			pool.ManuallyDefined = cmd.GetBool("manual")

			if raw := cmd.GetString("filter"); raw != "" {
				for _, item := range strings.Split(raw, ",") {
					kind, property, spec, err := parseFilter(strings.TrimSpace(item))
					if err != nil {
						return err
					}
					pool.SetFilter(kind, property, spec)
				}
			}

			if err := client.Post("/api/pools", pool, pool); err != nil {
				return err
			}
			fmt.Printf("Pool created: %s (ID: %s)\n", pool.Name, pool.ID)
			printCounts(pool)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List all pools",
		Description: "List all pools with their membership counts",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var pools []model.Pool
			if err := client.Get("/api/pools", &pools); err != nil {
				return err
			}
			if len(pools) == 0 {
				fmt.Println("No pools found")
				return nil
			}
			for i := range pools {
				p := &pools[i]
				mode := "computed"
				if p.ManuallyDefined {
					mode = "manual"
				}
				fmt.Printf("%s\t%s\t%s\t", p.ID, p.Name, mode)
				printCounts(p)
			}
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:        "get",
		Usage:       "Get a pool",
		Description: "Get a pool by ID or name",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var pool model.Pool
			if err := client.Get("/api/pools/"+url.PathEscape(cmd.GetStringArg("id")), &pool); err != nil {
				return err
			}
			fmt.Printf("ID:       %s\n", pool.ID)
			fmt.Printf("Name:     %s\n", pool.Name)
			fmt.Printf("Operator: %s\n", pool.Operator)
			fmt.Printf("Manual:   %v\n", pool.ManuallyDefined)
			fmt.Printf("Counts:   ")
			printCounts(&pool)
			for kind, specs := range pool.Filters {
				for property, spec := range specs {
					if spec.Value == "" {
						continue
					}
					invert := ""
					if spec.Invert {
						invert = " (inverted)"
					}
					fmt.Printf("Filter:   %s.%s %s %q%s\n", kind, property, spec.Match, spec.Value, invert)
				}
			}
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:        "delete",
		Usage:       "Delete a pool",
		Description: "Delete a pool and its membership rows",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			if err := client.Delete("/api/pools/" + url.PathEscape(cmd.GetStringArg("id"))); err != nil {
				return err
			}
			fmt.Println("Pool deleted")
			return nil
		},
	}
}

func membersCommand() *cli.Command {
	return &cli.Command{
		Name:        "members",
		Usage:       "List pool members",
		Description: "List the member IDs of a pool for one kind",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Usage: "Member kind (device, link, service, user)", DefaultValue: string(model.KindDevice)},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			var result struct {
				Members []string `json:"members"`
				Count   int      `json:"count"`
			}
			path := "/api/pools/" + url.PathEscape(cmd.GetStringArg("id")) +
				"/members/" + url.PathEscape(cmd.GetString("kind"))
			if err := client.Get(path, &result); err != nil {
				return err
			}
			fmt.Printf("%d members\n", result.Count)
			for _, member := range result.Members {
				fmt.Println(member)
			}
			return nil
		},
	}
}

func recomputeCommand() *cli.Command {
	return &cli.Command{
		Name:        "recompute",
		Usage:       "Recompute pool membership",
		Description: "Recompute one pool from its filters, or every pool when no ID is given",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.GetStringArg("id")
			if id == "" {
				if err := client.Post("/api/pools/recompute", nil, nil); err != nil {
					return err
				}
				fmt.Println("All pools recomputed")
				return nil
			}
			var pool model.Pool
			if err := client.Post("/api/pools/"+url.PathEscape(id)+"/recompute", nil, &pool); err != nil {
				return err
			}
			fmt.Printf("Recomputed %s: ", pool.Name)
			printCounts(&pool)
			return nil
		},
	}
}

func printCounts(pool *model.Pool) {
	var parts []string
	for _, kind := range model.Kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, pool.Count(kind)))
	}
	fmt.Println(strings.Join(parts, " "))
}
