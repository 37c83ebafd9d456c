package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

func createGeneratorCommand() *cli.Command {
	return &cli.Command{
		Name:  "generator",
		Usage: "Commands relating to generators",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List generators",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status"},
					&cli.StringFlag{Name: "location"},
					&cli.StringFlag{Name: "shop-id"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := setFlags(command, map[string]any{}, "status", "location", "shop-id")
					res := call(ctx, command, "listGenerators", payload)
					show(command, generatorTableFields(), items(res), res["items"])
					return nil
				},
			},
			{
				Name:  "get",
				Usage: "Show a generator",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					res := call(ctx, command, "getGenerator", map[string]any{"id": command.String("id")})
					show(command, generatorTableFields(), item(res), res["item"])
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Register a generator",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "serial-no", Required: true},
					&cli.StringFlag{Name: "brand"},
					&cli.StringFlag{Name: "model"},
					&cli.FloatFlag{Name: "size-kw"},
					&cli.StringFlag{Name: "shop-id"},
					&cli.StringFlag{Name: "status", Value: "Active"},
					&cli.StringFlag{Name: "location", Value: "UP"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := setFlags(command, map[string]any{
						"status":   command.String("status"),
						"location": command.String("location"),
					}, "serial-no", "brand", "model", "shop-id")
					if command.IsSet("size-kw") {
						payload["size_kw"] = command.Float("size-kw")
					}
					res := call(ctx, command, "createGenerator", payload)
					show(command, idTableFields(), []map[string]any{res}, res)
					showSuccessfully(command, "created")
					return nil
				},
			},
			{
				Name:  "set-status",
				Usage: "Change a generator's status",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "status", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					res := call(ctx, command, "setGeneratorStatus", map[string]any{
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
				Usage: "Delete a generator",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					res := call(ctx, command, "deleteGenerator", map[string]any{"id": command.String("id")})
					show(command, idTableFields(), []map[string]any{res}, res)
					showSuccessfully(command, "deleted")
					return nil
				},
			},
		},
	}
}

func idTableFields() []TableField {
	return []TableField{{Header: "ID", Field: "id"}}
}

func generatorTableFields() []TableField {
	var fields []TableField
	fields = append(fields, TableField{Header: "ID", Field: "id"})
	fields = append(fields, TableField{Header: "SERIAL NO", Field: "serial_no"})
	fields = append(fields, TableField{Header: "BRAND", Field: "brand"})
	fields = append(fields, TableField{Header: "KW", Field: "size_kw"})
	fields = append(fields, TableField{Header: "STATUS", Formatter: statusField("status")})
	fields = append(fields, TableField{Header: "LOCATION", Field: "location"})
	fields = append(fields, TableField{Header: "SHOP", Field: "shop_id"})
	fields = append(fields, TableField{Header: "BATTERY", Field: "battery_id"})
	fields = append(fields, TableField{Header: "LAST SERVICE", Formatter: dateField("last_service_date")})
	return fields
}
