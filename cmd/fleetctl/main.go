package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/ghodss/yaml"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

const (
	encodeJsonRaw    = "json-raw"
	encodeJsonPretty = "json"
	encodeYaml       = "yaml"
	encodeNoHeader   = "no-header"
	encodeColumn     = "column"
)

// Version is set using ldflags at build time.
var Version = "dev"

// DefaultServiceURL is optionally set at build time using ldflags
var DefaultServiceURL = "http://localhost:8080"

func main() {
	// Override usage to capitalize "Show"
	cli.HelpFlag.(*cli.BoolFlag).Usage = "Show help"
	app := &cli.Command{
		Name:  "fleetctl",
		Usage: "controls the generator fleet maintenance service",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Value:   false,
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("FLEETCTL_DEBUG"),
			},
			&cli.StringFlag{
				Name:    "service-url",
				Value:   DefaultServiceURL,
				Usage:   "Api server URL",
				Sources: cli.EnvVars("FLEETCTL_SERVICE_URL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token sent with every request",
				Sources: cli.EnvVars("FLEETCTL_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "token-file",
				Value:   defaultTokenFile(),
				Usage:   "Where login saves its token, used when --token is not set",
				Sources: cli.EnvVars("FLEETCTL_TOKEN_FILE"),
			},
			&cli.StringFlag{
				Name:     "output",
				Value:    encodeColumn,
				Required: false,
				Usage:    "Output format: json, json-raw, yaml, no-header, column (default columns)",
			},
			&cli.BoolFlag{
				Name:     "insecure-skip-tls-verify",
				Value:    false,
				Usage:    "If true, server certificates will not be checked for validity. This will make your HTTPS connections insecure",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Get the version of fleetctl",
				Action: func(ctx context.Context, command *cli.Command) error {
					fmt.Printf("version: %s\n", Version)
					return nil
				},
			},
			createTokenCommand(),
			createLoginCommand(),
			createLogoutCommand(),
			createGeneratorCommand(),
			createTaskCommand(),
			createIssueCommand(),
			createInvoiceCommand(),
			createNotificationCommand(),
			createReportCommand(),
			createCallCommand(),
			createFeatureFlagsCommand(),
		},
	}

	sort.Slice(app.Commands, func(i, j int) bool {
		return app.Commands[i].Name < app.Commands[j].Name
	})

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func mustCreateClient(command *cli.Command) *Client {
	var options []ClientOption
	token := command.String("token")
	if token == "" {
		saved, err := loadToken(command.String("token-file"), time.Now())
		if err != nil {
			log.Fatal(err)
		}
		token = saved
	}
	if token != "" {
		options = append(options, WithToken(token))
	}
	if command.Bool("insecure-skip-tls-verify") { // #nosec G402
		options = append(options, WithTLSConfig(&tls.Config{
			InsecureSkipVerify: true,
		}))
	}
	c, err := NewClient(command.String("service-url"), options...)
	if err != nil {
		log.Fatalf("invalid '--service-url=%s' flag provided. error: %v", command.String("service-url"), err)
	}
	return c
}

// call runs an operation and exits on failure.
func call(ctx context.Context, command *cli.Command, name string, payload map[string]any) map[string]any {
	c := mustCreateClient(command)
	result, err := c.Call(ctx, name, payload)
	if err != nil {
		log.Fatal(err)
	}
	if command.Bool("debug") {
		log.Printf("%s -> %v", name, result)
	}
	return result
}

// setFlags copies the named string flags that were set into payload.
func setFlags(command *cli.Command, payload map[string]any, names ...string) map[string]any {
	for _, name := range names {
		if command.IsSet(name) {
			payload[strings.ReplaceAll(name, "-", "_")] = command.String(name)
		}
	}
	return payload
}

type TableField struct {
	Header    string
	Field     string
	Formatter func(item map[string]any) string
}

func items(result map[string]any) []map[string]any {
	raw, _ := result["items"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func item(result map[string]any) []map[string]any {
	if m, ok := result["item"].(map[string]any); ok {
		return []map[string]any{m}
	}
	return nil
}

func show(command *cli.Command, fields []TableField, rows []map[string]any, raw any) {
	showTo(os.Stdout, command.String("output"), fields, rows, raw)
}

func showTo(w io.Writer, output string, fields []TableField, rows []map[string]any, raw any) {
	switch output {
	case encodeJsonPretty:
		bytes, err := json.MarshalIndent(raw, "", "  ")
		if err != nil {
			log.Fatalf("failed to encode the ctl output: %v", err)
		}
		fmt.Fprintln(w, string(bytes))

	case encodeJsonRaw:
		bytes, err := json.Marshal(raw)
		if err != nil {
			log.Fatalf("failed to encode the ctl output: %v", err)
		}
		fmt.Fprintln(w, string(bytes))

	case encodeYaml:
		bytes, err := yaml.Marshal(raw)
		if err != nil {
			log.Fatalf("failed to encode the ctl output: %v", err)
		}
		fmt.Fprint(w, string(bytes))

	case encodeColumn, encodeNoHeader:
		table := tablewriter.NewWriter(w)
		table.SetBorders(tablewriter.Border{
			Left:   true,
			Right:  true,
			Top:    false,
			Bottom: false,
		})
		table.SetAutoWrapText(false)

		if output != encodeNoHeader {
			var headers []string
			for _, field := range fields {
				headers = append(headers, field.Header)
			}
			table.SetHeader(headers)
		}
		for _, row := range rows {
			var line []string
			for _, field := range fields {
				switch {
				case field.Formatter != nil:
					line = append(line, field.Formatter(row))
				case field.Field != "":
					line = append(line, fieldFormatter(row[field.Field]))
				default:
					panic("TableField.Formatter or TableField.Field must be set")
				}
			}
			table.Append(line)
		}
		table.Render()
	default:
		log.Fatalf("unknown --output option: %s", output)
	}
}

func fieldFormatter(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return fmt.Sprintf("%v", v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.2f", v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fieldFormatter(p))
		}
		return strings.Join(parts, ",")
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		return string(bytes)
	}
}

// dateField renders an epoch millisecond field as a calendar date.
func dateField(name string) func(map[string]any) string {
	return func(row map[string]any) string {
		ms, ok := row[name].(float64)
		if !ok {
			return ""
		}
		return time.UnixMilli(int64(ms)).Format("2006-01-02")
	}
}

// agoField renders an epoch millisecond field relative to now.
func agoField(name string) func(map[string]any) string {
	return func(row map[string]any) string {
		ms, ok := row[name].(float64)
		if !ok {
			return ""
		}
		return humanize.Time(time.UnixMilli(int64(ms)))
	}
}

func moneyField(name string) func(map[string]any) string {
	return func(row map[string]any) string {
		v, ok := row[name].(float64)
		if !ok {
			return ""
		}
		return humanize.CommafWithDigits(v, 2)
	}
}

var (
	good = color.New(color.FgGreen).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
	warn = color.New(color.FgYellow).SprintFunc()
)

// statusField colours a status by how much attention it needs.
func statusField(name string) func(map[string]any) string {
	return func(row map[string]any) string {
		s := fieldFormatter(row[name])
		switch s {
		case "Active", "Completed", "Paid", "resolved", "closed", "active":
			return good(s)
		case "Unusable", "Overdue", "Cancelled", "open", "critical", "high", "High", "disabled":
			return bad(s)
		case "":
			return ""
		default:
			return warn(s)
		}
	}
}

func showSuccessfully(command *cli.Command, action string) {
	if command.String("output") == encodeColumn {
		fmt.Println(good("\nsuccessfully " + action))
	}
}
