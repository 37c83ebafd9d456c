package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/urfave/cli/v3"
)

func createCallCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Run any operation with a raw JSON payload",
		ArgsUsage: "<operation> [json-payload]",
		Action: func(ctx context.Context, command *cli.Command) error {
			name := command.Args().Get(0)
			if name == "" {
				return fmt.Errorf("operation name is required")
			}
			payload := map[string]any{}
			if raw := command.Args().Get(1); raw != "" {
				if err := json.Unmarshal([]byte(raw), &payload); err != nil {
					log.Fatalf("invalid payload: %v", err)
				}
			}
			res := call(ctx, command, name, payload)
			output := command.String("output")
			if output == encodeColumn || output == encodeNoHeader {
				// results have no fixed shape
				output = encodeJsonPretty
			}
			showTo(os.Stdout, output, nil, nil, res)
			return nil
		},
	}
}

func createFeatureFlagsCommand() *cli.Command {
	return &cli.Command{
		Name:  "fflags",
		Usage: "List the server's feature flags",
		Action: func(ctx context.Context, command *cli.Command) error {
			flags, err := mustCreateClient(command).FeatureFlags(ctx)
			if err != nil {
				log.Fatal(err)
			}
			names := make([]string, 0, len(flags))
			for name := range flags {
				names = append(names, name)
			}
			sort.Strings(names)
			rows := make([]map[string]any, 0, len(names))
			for _, name := range names {
				rows = append(rows, map[string]any{"name": name, "enabled": flags[name]})
			}
			show(command, []TableField{
				{Header: "NAME", Field: "name"},
				{Header: "ENABLED", Field: "enabled"},
			}, rows, flags)
			return nil
		},
	}
}
