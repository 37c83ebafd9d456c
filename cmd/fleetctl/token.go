package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nexodus-io/fleetops/internal/auth"
	"github.com/urfave/cli/v3"
)

const defaultTokenTTL = 12 * time.Hour

func createTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an HS256 token for a server started with --jwt-key",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "jwt-key",
				Usage:    "Shared signing key",
				Required: true,
				Sources:  cli.EnvVars("FLEET_JWT_KEY"),
			},
			&cli.StringFlag{
				Name:    "jwt-issuer",
				Value:   "fleetops",
				Sources: cli.EnvVars("FLEET_JWT_ISSUER"),
			},
			&cli.StringFlag{Name: "uid", Required: true},
			&cli.StringFlag{Name: "role"},
			&cli.StringFlag{Name: "email"},
			&cli.DurationFlag{Name: "ttl", Value: defaultTokenTTL},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			role := command.String("role")
			if role != "" && !auth.IsRole(role) {
				log.Fatalf("unknown role %q", role)
			}
			token, err := auth.IssueToken([]byte(command.String("jwt-key")), command.String("jwt-issuer"), auth.CallerIdentity{
				UID:   command.String("uid"),
				Role:  role,
				Email: command.String("email"),
			}, command.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
