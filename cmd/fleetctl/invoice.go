package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/urfave/cli/v3"
)

func createInvoiceCommand() *cli.Command {
	return &cli.Command{
		Name:  "invoice",
		Usage: "Commands relating to invoices",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List invoices, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status"},
					&cli.IntFlag{Name: "limit"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := setFlags(command, map[string]any{}, "status")
					if command.IsSet("limit") {
						payload["limit"] = command.Int("limit")
					}
					res := call(ctx, command, "listInvoices", payload)
					show(command, invoiceTableFields(), items(res), res["items"])
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create a pending invoice",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "company-name"},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "due-date", Usage: "YYYY-MM-DD"},
					&cli.StringFlag{Name: "line-items", Usage: `JSON array, e.g. [{"description":"filter","qty":2,"unit_price":12.5}]`},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					payload := setFlags(command, map[string]any{}, "id", "company-name", "description")
					if command.IsSet("due-date") {
						payload["due_date"] = mustParseDate(command.String("due-date"))
					}
					if command.IsSet("line-items") {
						var lines []any
						if err := json.Unmarshal([]byte(command.String("line-items")), &lines); err != nil {
							log.Fatalf("invalid --line-items: %v", err)
						}
						payload["line_items"] = lines
					}
					res := call(ctx, command, "createInvoice", payload)
					show(command, []TableField{
						{Header: "ID", Field: "id"},
						{Header: "AMOUNT", Formatter: moneyField("amount")},
					}, []map[string]any{res}, res)
					showSuccessfully(command, "created")
					return nil
				},
			},
			{
				Name:  "mark-paid",
				Usage: "Mark an invoice paid",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					res := call(ctx, command, "markInvoicePaid", map[string]any{"id": command.String("id")})
					show(command, idTableFields(), []map[string]any{res}, res)
					showSuccessfully(command, "updated")
					return nil
				},
			},
			{
				Name:  "mark-overdue",
				Usage: "Mark every pending invoice past its due date overdue",
				Action: func(ctx context.Context, command *cli.Command) error {
					res := call(ctx, command, "markOverdueInvoices", nil)
					show(command, []TableField{{Header: "UPDATED", Field: "updated"}}, []map[string]any{res}, res)
					return nil
				},
			},
		},
	}
}

func invoiceTableFields() []TableField {
	var fields []TableField
	fields = append(fields, TableField{Header: "ID", Field: "id"})
	fields = append(fields, TableField{Header: "COMPANY", Field: "company_name"})
	fields = append(fields, TableField{Header: "DATE", Formatter: dateField("date")})
	fields = append(fields, TableField{Header: "DUE", Formatter: dateField("due_date")})
	fields = append(fields, TableField{Header: "AMOUNT", Formatter: moneyField("amount")})
	fields = append(fields, TableField{Header: "STATUS", Formatter: statusField("status")})
	return fields
}
