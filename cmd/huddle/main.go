// Command huddle runs the real-time messaging server.
//
//	huddle [-config path]              serve
//	huddle [-config path] token <user> print a handshake token for user
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"huddle/internal/app"
	"huddle/internal/auth"
	"huddle/internal/config"
	"huddle/internal/logging"
)

var errUsage = errors.New("usage: huddle [-config path] [token <user-id>]")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logger := logging.Logger()
		logger.Error().Err(err).Msg("huddle exited")
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("huddle", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file (defaults to $"+config.ConfigPathEnvVar+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging)

	switch rest := fs.Args(); {
	case len(rest) == 0:
		return serve(cfg)
	case rest[0] == "token" && len(rest) == 2:
		return printToken(cfg, rest[1], stdout)
	default:
		return errUsage
	}
}

func serve(cfg *config.Config) error {
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}

func printToken(cfg *config.Config, userID string, stdout io.Writer) error {
	tokens, err := auth.NewTokenManager(cfg.Auth)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(userID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
