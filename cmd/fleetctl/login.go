package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/natefinch/atomic"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
	"golang.org/x/term"
)

// savedToken is what `fleetctl login` leaves on disk for later commands.
type savedToken struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry,omitempty"`
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "fleetctl", "token.json")
}

func storeToken(file string, t savedToken) error {
	dir := filepath.Dir(file)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	buf := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return err
	}
	if err := atomic.WriteFile(file, buf); err != nil {
		return err
	}
	return os.Chmod(file, 0600)
}

// loadToken returns the saved token, or "" when there is none or it has
// expired.
func loadToken(file string, now time.Time) (string, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	var t savedToken
	if err := json.Unmarshal(data, &t); err != nil {
		return "", fmt.Errorf("corrupt token file %s: %w", file, err)
	}
	if !t.Expiry.IsZero() && now.After(t.Expiry) {
		return "", nil
	}
	return t.Token, nil
}

func createLoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in with a password grant against the OIDC provider and save the token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "oidc-issuer",
				Required: true,
				Sources:  cli.EnvVars("FLEET_OIDC_ISSUER"),
			},
			&cli.StringFlag{
				Name:    "client-id",
				Value:   "fleetops-cli",
				Sources: cli.EnvVars("FLEET_OIDC_CLIENT_ID"),
			},
			&cli.StringFlag{
				Name:    "client-secret",
				Sources: cli.EnvVars("FLEETCTL_CLIENT_SECRET"),
			},
			&cli.StringFlag{
				Name:     "username",
				Required: true,
				Sources:  cli.EnvVars("FLEETCTL_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "prompted for when not set",
				Sources: cli.EnvVars("FLEETCTL_PASSWORD"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			password := command.String("password")
			if password == "" {
				fmt.Print("Enter password: ")
				input, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Println()
				if err != nil {
					return fmt.Errorf("login aborted: %w", err)
				}
				password = string(input)
			}

			if command.Bool("insecure-skip-tls-verify") {
				ctx = oidc.ClientContext(ctx, &http.Client{Transport: &http.Transport{
					// #nosec -- G402: TLS InsecureSkipVerify set true.
					TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				}})
			}
			provider, err := oidc.NewProvider(ctx, command.String("oidc-issuer"))
			if err != nil {
				return err
			}
			config := &oauth2.Config{
				ClientID:     command.String("client-id"),
				ClientSecret: command.String("client-secret"),
				Endpoint:     provider.Endpoint(),
				Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			}
			token, err := config.PasswordCredentialsToken(ctx, command.String("username"), password)
			if err != nil {
				return err
			}
			rawIdToken, ok := token.Extra("id_token").(string)
			if !ok {
				return fmt.Errorf("no id_token in response")
			}
			if _, err := provider.Verifier(&oidc.Config{ClientID: config.ClientID}).Verify(ctx, rawIdToken); err != nil {
				return err
			}

			file := command.String("token-file")
			if err := storeToken(file, savedToken{Token: rawIdToken, Expiry: token.Expiry}); err != nil {
				return err
			}
			showSuccessfully(command, "logged in, token saved to "+file)
			return nil
		},
	}
}

func createLogoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Remove the token saved by login",
		Action: func(ctx context.Context, command *cli.Command) error {
			err := os.Remove(command.String("token-file"))
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			showSuccessfully(command, "logged out")
			return nil
		},
	}
}
