package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/SaiMyBB/Matter-Gateway/internal/auth"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/logging"
	"github.com/SaiMyBB/Matter-Gateway/internal/persistence"
)

// printState writes the persisted device state to out as indented JSON.
func printState(ctx context.Context, opts *options, out io.Writer) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := persistence.Open(cfg.Persistence, logging.New(cfg.Logging, version))
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close() //nolint:errcheck // read-only use

	data, err := json.MarshalIndent(store.LoadAll(ctx), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// issueToken signs an access token with the configured JWT secret.
func issueToken(opts *options, subject string, ttl time.Duration, out io.Writer) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := auth.IssueToken(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, subject, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
