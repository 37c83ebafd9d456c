package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"
)

func createNotificationCommand() *cli.Command {
	return &cli.Command{
		Name:  "notification",
		Usage: "Commands relating to your notification inbox",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List notifications, newest first",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "unread", Usage: "only unread notifications"},
					&cli.IntFlag{Name: "limit"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := map[string]any{"unread": command.Bool("unread")}
					if command.IsSet("limit") {
						payload["limit"] = command.Int("limit")
					}
					res := call(ctx, command, "listNotifications", payload)
					show(command, notificationTableFields(), items(res), res["items"])
					return nil
				},
			},
			{
				Name:  "read",
				Usage: "Mark a notification read",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					call(ctx, command, "markNotificationRead", map[string]any{"id": command.String("id")})
					showSuccessfully(command, "marked read")
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a notification",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					call(ctx, command, "deleteNotification", map[string]any{"id": command.String("id")})
					showSuccessfully(command, "deleted")
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Delete every notification in an inbox",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "target-uid", Usage: "another user's inbox (admin only)"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := map[string]any{}
					if command.IsSet("target-uid") {
						payload["targetUid"] = command.String("target-uid")
					}
					res := call(ctx, command, "clearNotifications", payload)
					show(command, []TableField{{Header: "CLEARED", Field: "cleared"}}, []map[string]any{res}, res)
					return nil
				},
			},
			{
				Name:  "send",
				Usage: "Send a notification to a user (admin only)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uid", Required: true},
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringFlag{Name: "body"},
					&cli.StringFlag{Name: "type"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := setFlags(command, map[string]any{}, "uid", "title", "body", "type")
					res := call(ctx, command, "sendNotification", payload)
					show(command, idTableFields(), []map[string]any{res}, res)
					showSuccessfully(command, "sent")
					return nil
				},
			},
			{
				Name:  "watch",
				Usage: "Print new notifications as they arrive",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "timeout", Usage: "long-poll timeout per request"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					return watchNotifications(ctx, command)
				},
			},
		},
	}
}

func watchNotifications(ctx context.Context, command *cli.Command) error {
	c := mustCreateClient(command)
	output := command.String("output")

	// only for human readable output, not when generating parseable output
	var s *spinner.Spinner
	if output == encodeColumn {
		s = spinner.New(spinner.CharSets[70], 100*time.Millisecond)
		s.Suffix = " Waiting for notifications..."
		s.Writer = os.Stderr
		s.Start()
		defer s.Stop()
	}

	var since int64
	var seen []string
	header := output
	for {
		res, err := c.WatchNotifications(ctx, since, seen, command.Duration("timeout"))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if s != nil {
				s.Stop()
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				log.Fatal(apiErr)
			}
			return fmt.Errorf("watch failed: %w", err)
		}
		if res.Cursor >= since {
			since, seen = res.Cursor, res.Seen
		}
		if !res.Changed || len(res.Items) == 0 {
			continue
		}
		if s != nil {
			s.Stop()
		}
		showTo(os.Stdout, header, notificationTableFields(), res.Items, res.Items)
		// print the header once
		if header == encodeColumn {
			header = encodeNoHeader
		}
		if s != nil {
			s.Start()
		}
	}
}

func notificationTableFields() []TableField {
	var fields []TableField
	fields = append(fields, TableField{Header: "ID", Field: "id"})
	fields = append(fields, TableField{Header: "TYPE", Field: "type"})
	fields = append(fields, TableField{Header: "TITLE", Field: "title"})
	fields = append(fields, TableField{Header: "RELATED", Formatter: func(item map[string]any) string {
		if item["related_id"] == nil {
			return ""
		}
		return fmt.Sprintf("%s/%s", fieldFormatter(item["related_kind"]), fieldFormatter(item["related_id"]))
	}})
	fields = append(fields, TableField{Header: "READ", Field: "read"})
	fields = append(fields, TableField{Header: "CREATED", Formatter: agoField("createdAt")})
	return fields
}
