package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"huddle/internal/auth"
	"huddle/internal/config"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "huddle.yaml")
	body := "auth:\n  jwt_secret: cmd-test-secret-value\nlogging:\n  level: disabled\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRun_Token(t *testing.T) {
	path := writeConfig(t)

	var out bytes.Buffer
	if err := run([]string{"-config", path, "token", "alice"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tokens, err := auth.NewTokenManager(cfg.Auth)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	userID, err := tokens.Authenticate(strings.TrimSpace(out.String()))
	if err != nil || userID != "alice" {
		t.Fatalf("Authenticate = %q, %v", userID, err)
	}
}

func TestRun_Errors(t *testing.T) {
	path := writeConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"unknown subcommand", []string{"-config", path, "migrate"}, errUsage},
		{"token without user", []string{"-config", path, "token"}, errUsage},
		{"invalid user", []string{"-config", path, "token", "bad id"}, nil},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}, nil},
		{"bad flag", []string{"-nope"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(tt.args, &out)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if out.Len() != 0 {
				t.Errorf("unexpected output %q", out.String())
			}
		})
	}
}
