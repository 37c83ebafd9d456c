package main

import (
	"context"
	"sort"

	"github.com/urfave/cli/v3"
)

func createReportCommand() *cli.Command {
	periodFlag := &cli.StringFlag{
		Name:  "period",
		Value: "daily",
		Usage: "daily or monthly",
	}
	return &cli.Command{
		Name:  "report",
		Usage: "Commands relating to daily and monthly reports",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Generate the report for the current period (admin only)",
				Flags: []cli.Flag{periodFlag},
				Action: func(ctx context.Context, command *cli.Command) error {
					res := call(ctx, command, "generateReport", map[string]any{"period": command.String("period")})
					showReport(command, res)
					return nil
				},
			},
			{
				Name:  "get",
				Usage: "Show a stored report",
				Flags: []cli.Flag{
					periodFlag,
					&cli.StringFlag{Name: "key", Usage: "YYYY-MM-DD or YYYY-MM, defaults to the current period"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := setFlags(command, map[string]any{"period": command.String("period")}, "key")
					res := call(ctx, command, "getReport", payload)
					showReport(command, res)
					return nil
				},
			},
		},
	}
}

// showReport prints a report as metric/value rows.
func showReport(command *cli.Command, res map[string]any) {
	report, _ := res["report"].(map[string]any)
	names := make([]string, 0, len(report))
	for name := range report {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([]map[string]any, 0, len(names))
	for _, name := range names {
		rows = append(rows, map[string]any{"metric": name, "value": report[name]})
	}
	show(command, []TableField{
		{Header: "METRIC", Field: "metric"},
		{Header: "VALUE", Field: "value"},
	}, rows, res)
}
