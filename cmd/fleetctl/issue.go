package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

func createIssueCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue",
		Usage: "Commands relating to reported issues",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List issues",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status"},
					&cli.StringFlag{Name: "severity"},
					&cli.StringFlag{Name: "assigned-to"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := setFlags(command, map[string]any{}, "status", "severity", "assigned-to")
					res := call(ctx, command, "listIssues", payload)
					show(command, issueTableFields(), items(res), res["items"])
					return nil
				},
			},
			{
				Name:  "report",
				Usage: "Report an equipment issue",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Required: true},
					&cli.StringFlag{Name: "equipment-type"},
					&cli.StringFlag{Name: "equipment-id"},
					&cli.StringFlag{Name: "severity"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := setFlags(command, map[string]any{}, "description", "equipment-type", "equipment-id", "severity")
					res := call(ctx, command, "reportIssue", payload)
					show(command, idTableFields(), []map[string]any{res}, res)
					showSuccessfully(command, "reported")
					return nil
				},
			},
			{
				Name:  "assign",
				Usage: "Assign an issue to a technician",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "technician-id", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					res := call(ctx, command, "assignIssue", map[string]any{
						"id":            command.String("id"),
						"technician_id": command.String("technician-id"),
					})
					show(command, idTableFields(), []map[string]any{res}, res)
					showSuccessfully(command, "assigned")
					return nil
				},
			},
			{
				Name:  "set-status",
				Usage: "Move an issue to a new status",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "status", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					res := call(ctx, command, "setIssueStatus", map[string]any{
						"id":     command.String("id"),
						"status": command.String("status"),
					})
					show(command, idTableFields(), []map[string]any{res}, res)
					showSuccessfully(command, "updated")
					return nil
				},
			},
		},
	}
}

func issueTableFields() []TableField {
	var fields []TableField
	fields = append(fields, TableField{Header: "ID", Field: "id"})
	fields = append(fields, TableField{Header: "EQUIPMENT", Field: "equipment_id"})
	fields = append(fields, TableField{Header: "SEVERITY", Formatter: statusField("severity")})
	fields = append(fields, TableField{Header: "STATUS", Formatter: statusField("status")})
	fields = append(fields, TableField{Header: "ASSIGNED TO", Field: "assigned_to"})
	fields = append(fields, TableField{Header: "REPORTED", Formatter: agoField("createdAt")})
	fields = append(fields, TableField{Header: "DESCRIPTION", Field: "description"})
	return fields
}
