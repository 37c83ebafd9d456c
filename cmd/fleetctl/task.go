package main

import (
	"context"
	"log"
	"time"

	"github.com/urfave/cli/v3"
)

func createTaskCommand() *cli.Command {
	return &cli.Command{
		Name:  "task",
		Usage: "Commands relating to maintenance tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status"},
					&cli.StringFlag{Name: "assigned-to"},
					&cli.StringFlag{Name: "generator-id"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := setFlags(command, map[string]any{}, "status", "assigned-to", "generator-id")
					res := call(ctx, command, "listTasks", payload)
					show(command, taskTableFields(), items(res), res["items"])
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create a task and notify its assignee",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "assigned-to", Required: true},
					&cli.StringFlag{Name: "generator-id"},
					&cli.StringFlag{Name: "battery-id"},
					&cli.StringFlag{Name: "priority"},
					&cli.StringFlag{Name: "due-date", Usage: "YYYY-MM-DD"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := setFlags(command, map[string]any{}, "description", "assigned-to", "generator-id", "battery-id", "priority")
					if command.IsSet("due-date") {
						payload["due_date"] = mustParseDate(command.String("due-date"))
					}
					res := call(ctx, command, "createTask", payload)
					show(command, idTableFields(), []map[string]any{res}, res)
					showSuccessfully(command, "created")
					return nil
				},
			},
			{
				Name:  "set-status",
				Usage: "Move a task to a new status",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "status", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					res := call(ctx, command, "setTaskStatus", map[string]any{
						"id":     command.String("id"),
						"status": command.String("status"),
					})
					show(command, idTableFields(), []map[string]any{res}, res)
					showSuccessfully(command, "updated")
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a task",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					res := call(ctx, command, "deleteTask", map[string]any{"id": command.String("id")})
					show(command, idTableFields(), []map[string]any{res}, res)
					showSuccessfully(command, "deleted")
					return nil
				},
			},
		},
	}
}

// mustParseDate turns YYYY-MM-DD into epoch milliseconds at local midnight.
func mustParseDate(s string) int64 {
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		log.Fatalf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t.UnixMilli()
}

func taskTableFields() []TableField {
	var fields []TableField
	fields = append(fields, TableField{Header: "ID", Field: "id"})
	fields = append(fields, TableField{Header: "ASSIGNED TO", Field: "assigned_to"})
	fields = append(fields, TableField{Header: "STATUS", Formatter: statusField("status")})
	fields = append(fields, TableField{Header: "PRIORITY", Formatter: statusField("priority")})
	fields = append(fields, TableField{Header: "GENERATOR", Field: "generator_id"})
	fields = append(fields, TableField{Header: "BATTERY", Field: "battery_id"})
	fields = append(fields, TableField{Header: "DUE", Formatter: dateField("due_date")})
	fields = append(fields, TableField{Header: "DESCRIPTION", Field: "description"})
	return fields
}
