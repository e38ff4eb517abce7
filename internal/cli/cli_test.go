// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jeranaias/promptlab/internal/config"
	"github.com/jeranaias/promptlab/internal/export"
	"github.com/jeranaias/promptlab/internal/orchestrator"
	"github.com/jeranaias/promptlab/internal/prompt"
	"github.com/jeranaias/promptlab/internal/storage"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		bools    []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"list"},
			wantSub: "list",
		},
		{
			name:    "subcommand with flag",
			args:    []string{"list", "--limit", "50"},
			wantSub: "list",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("limit") != "50" {
					t.Errorf("Flag(limit) = %q, want %q", p.Flag("limit"), "50")
				}
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"--format=csv"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("format") != "csv" {
					t.Errorf("Flag(format) = %q, want %q", p.Flag("format"), "csv")
				}
			},
		},
		{
			name:    "declared bool does not consume next arg",
			args:    []string{"--global", "extra"},
			bools:   []string{"global"},
			wantSub: "extra",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("global") {
					t.Error("BoolFlag(global) should be true")
				}
			},
		},
		{
			name:    "bool with explicit value",
			args:    []string{"--open=false"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.BoolFlag("open") {
					t.Error("BoolFlag(open) should be false")
				}
				if !p.HasFlag("open") {
					t.Error("HasFlag(open) should be true")
				}
			},
		},
		{
			name:    "short alias",
			args:    []string{"-c", "abc", "hello", "world"},
			wantSub: "hello",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("conversation", "c") != "abc" {
					t.Errorf("Flag(conversation, c) = %q, want abc", p.Flag("conversation", "c"))
				}
				if got := JoinPositionalArgs(p, 0); got != "hello world" {
					t.Errorf("JoinPositionalArgs = %q, want %q", got, "hello world")
				}
			},
		},
		{
			name:    "double dash ends flags",
			args:    []string{"--provider", "groq", "--", "--not-a-flag", "text"},
			wantSub: "--not-a-flag",
			validate: func(t *testing.T, p *ArgParser) {
				if p.PositionalCount() != 2 {
					t.Errorf("PositionalCount() = %d, want 2", p.PositionalCount())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args, tt.bools...)
			if p.Subcommand() != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", p.Subcommand(), tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestArgParser_FlagInt(t *testing.T) {
	p := NewArgParser([]string{"--days", "7", "--limit", "ten"})

	if n, err := p.FlagInt("days", 30); err != nil || n != 7 {
		t.Errorf("FlagInt(days) = %d, %v; want 7, nil", n, err)
	}
	if n, err := p.FlagInt("missing", 30); err != nil || n != 30 {
		t.Errorf("FlagInt(missing) = %d, %v; want 30, nil", n, err)
	}

	_, err := p.FlagInt("limit", 20)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("FlagInt(limit) error = %v, want *ValidationError", err)
	}
	if verr.Field != "limit" {
		t.Errorf("Field = %q, want limit", verr.Field)
	}
}

func TestArgParser_FlagOrDefault(t *testing.T) {
	p := NewArgParser([]string{"--format", "csv"})
	if got := p.FlagOrDefault("format", "json"); got != "csv" {
		t.Errorf("FlagOrDefault(format) = %q, want csv", got)
	}
	if got := p.FlagOrDefault("type", "summary"); got != "summary" {
		t.Errorf("FlagOrDefault(type) = %q, want summary", got)
	}
}

func TestArgParser_EmptyArgs(t *testing.T) {
	p := NewArgParser([]string{})
	if p.Subcommand() != "" || p.PositionalCount() != 0 || p.Positional(3) != "" {
		t.Error("empty parser should have no subcommand or positionals")
	}
	if len(p.PositionalFrom(1)) != 0 {
		t.Error("PositionalFrom past the end should be empty")
	}
}

func TestParseBoolString(t *testing.T) {
	tests := []struct {
		input   string
		want    bool
		wantErr bool
	}{
		{"true", true, false},
		{"YES", true, false},
		{"on", true, false},
		{"1", true, false},
		{"false", false, false},
		{"n", false, false},
		{" off ", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBoolString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBoolString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBoolString(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// =============================================================================
// COMMAND PARSING TESTS (cli.go)
// =============================================================================

func TestParse_Integration(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		wantCmd Command
		check   func(*testing.T, Args)
	}{
		{
			name:    "no args shows help",
			argv:    nil,
			wantCmd: CmdHelp,
		},
		{
			name:    "ask with message",
			argv:    []string{"ask", "what", "is", "go"},
			wantCmd: CmdAsk,
			check: func(t *testing.T, a Args) {
				if !reflect.DeepEqual(a.Raw, []string{"what", "is", "go"}) {
					t.Errorf("Raw = %v", a.Raw)
				}
			},
		},
		{
			name:    "global flags anywhere",
			argv:    []string{"--json", "summary", "--user", "alice", "--days", "7", "-v"},
			wantCmd: CmdSummary,
			check: func(t *testing.T, a Args) {
				if !a.JSON || !a.Verbose {
					t.Errorf("JSON=%v Verbose=%v, want both true", a.JSON, a.Verbose)
				}
				if a.UserID != "alice" {
					t.Errorf("UserID = %q, want alice", a.UserID)
				}
				if !reflect.DeepEqual(a.Raw, []string{"--days", "7"}) {
					t.Errorf("Raw = %v, want [--days 7]", a.Raw)
				}
			},
		},
		{
			name:    "config path with equals",
			argv:    []string{"--config=/tmp/p.toml", "status"},
			wantCmd: CmdStatus,
			check: func(t *testing.T, a Args) {
				if a.ConfigPath != "/tmp/p.toml" {
					t.Errorf("ConfigPath = %q", a.ConfigPath)
				}
			},
		},
		{
			name:    "alias",
			argv:    []string{"conv", "show", "abc"},
			wantCmd: CmdConversations,
		},
		{
			name:    "case insensitive command",
			argv:    []string{"VERSION"},
			wantCmd: CmdVersion,
		},
		{
			name:    "unknown command",
			argv:    []string{"frobnicate"},
			wantCmd: CmdUnknown,
			check: func(t *testing.T, a Args) {
				if a.Name != "frobnicate" {
					t.Errorf("Name = %q", a.Name)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args := Parse(tt.argv)
			if cmd != tt.wantCmd {
				t.Errorf("Parse(%v) command = %v, want %v", tt.argv, cmd, tt.wantCmd)
			}
			if tt.check != nil {
				tt.check(t, args)
			}
		})
	}
}

func TestArgs_UserFallsBackToEnv(t *testing.T) {
	t.Setenv("PROMPTLAB_USER", "env-user")
	if got := (Args{}).User(); got != "env-user" {
		t.Errorf("User() = %q, want env-user", got)
	}
	if got := (Args{UserID: "flag-user"}).User(); got != "flag-user" {
		t.Errorf("User() = %q, want flag-user", got)
	}
}

func TestRun_UnknownCommandIsUsageError(t *testing.T) {
	if code := Run([]string{"--quiet", "frobnicate"}); code != ExitUsageError {
		t.Errorf("Run(frobnicate) = %d, want %d", code, ExitUsageError)
	}
}

// =============================================================================
// HELPER TESTS (helpers.go)
// =============================================================================

func TestRepeatedFlag(t *testing.T) {
	raw := []string{"--template", "tutor", "--var", "topic=go", "--var=level=beginner", "--", "--var", "x=y"}
	got := repeatedFlag(raw, "var")
	want := []string{"topic=go", "level=beginner"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("repeatedFlag = %v, want %v", got, want)
	}
}

func TestParseVariables(t *testing.T) {
	vars, err := parseVariables([]string{"topic=go", "eq=a=b", "topic=rust"})
	if err != nil {
		t.Fatalf("parseVariables error: %v", err)
	}
	if vars["topic"] != "rust" {
		t.Errorf("later pair should win, got %q", vars["topic"])
	}
	if vars["eq"] != "a=b" {
		t.Errorf("value may contain '=', got %q", vars["eq"])
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseVariables([]string{bad}); err == nil {
			t.Errorf("parseVariables(%q) should fail", bad)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[int]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-45000:   "-45,000",
		12345678: "12,345,678",
	}
	for in, want := range tests {
		if got := formatNumber(in); got != want {
			t.Errorf("formatNumber(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestPadRightAndTruncate(t *testing.T) {
	if got := padRight("go", 5); got != "go   " {
		t.Errorf("padRight = %q", got)
	}
	// Wide runes take two columns each.
	if got := padRight("日本", 6); got != "日本  " {
		t.Errorf("padRight wide = %q", got)
	}
	if got := truncate("hello\nworld, this is long", 10); got != "hello w..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestWrapText(t *testing.T) {
	got := WrapText("the quick brown fox jumps over the lazy dog", 17)
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 15 {
			t.Errorf("line %q exceeds 15 columns", line)
		}
	}
	if strings.Join(strings.Fields(got), " ") != "the quick brown fox jumps over the lazy dog" {
		t.Errorf("WrapText lost words: %q", got)
	}
}

func TestValidateOutputDir(t *testing.T) {
	dir := t.TempDir()
	abs, err := ValidateOutputDir(dir)
	if err != nil {
		t.Fatalf("ValidateOutputDir(%s) error: %v", dir, err)
	}
	if !filepath.IsAbs(abs) {
		t.Errorf("expected absolute path, got %s", abs)
	}

	if _, err := ValidateOutputDir("../../etc"); err == nil {
		t.Error("traversal should be rejected")
	}
}

func TestIsPathWithinDir(t *testing.T) {
	sep := string(filepath.Separator)
	base := sep + filepath.Join("home", "user")
	if !isPathWithinDir(filepath.Join(base, "exports"), base) {
		t.Error("child should be within dir")
	}
	if isPathWithinDir(base+"EVIL", base) {
		t.Error("sibling with shared prefix should not be within dir")
	}
}

// =============================================================================
// ERROR TESTS (errors.go)
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", NewValidationError("days", "x", "bad"), ExitUsageError},
		{"invalid request", fmt.Errorf("wrap: %w", orchestrator.ErrInvalidRequest), ExitUsageError},
		{"unsupported format", fmt.Errorf("%w: pdf", export.ErrUnsupportedFormat), ExitUsageError},
		{"forbidden", orchestrator.ErrForbidden, ExitForbidden},
		{"not found", storage.ErrNotFound, ExitNotFoundError},
		{"unknown template", fmt.Errorf("%w: x", prompt.ErrUnknownTemplate), ExitNotFoundError},
		{"exhausted", orchestrator.ErrAllProvidersExhausted, ExitProviderError},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"configuration", &orchestrator.ConfigurationError{Reason: "no providers configured"}, ExitGeneralError},
		{"config file", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "server.port", Message: "bad"}}), ExitConfigError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestCommandError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := NewCommandError("export", "write", "/tmp", inner)
	if !errors.Is(err, inner) {
		t.Error("CommandError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "export write failed") {
		t.Errorf("Error() = %q", err.Error())
	}
}

// =============================================================================
// WIRING TESTS (wire.go)
// =============================================================================

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	return cfg
}

func TestNewApp_WithoutKeys(t *testing.T) {
	app, err := NewApp(memoryConfig())
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	defer app.Close()

	if app.Aggregator == nil || app.Convs == nil || app.Metrics == nil {
		t.Fatal("stores and aggregator should be built without providers")
	}
	if _, err := app.RequireOrchestrator(); !errors.Is(err, orchestrator.ErrConfiguration) {
		t.Errorf("RequireOrchestrator error = %v, want ErrConfiguration", err)
	}
	if len(app.Skipped) != 4 {
		t.Errorf("Skipped = %v, want all four default providers", app.Skipped)
	}
}

func TestNewApp_WithKey(t *testing.T) {
	cfg := memoryConfig()
	for i := range cfg.Providers {
		if cfg.Providers[i].Name == "groq" {
			cfg.Providers[i].APIKey = "gsk-test"
		}
	}

	app, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	defer app.Close()

	orch, err := app.RequireOrchestrator()
	if err != nil {
		t.Fatalf("RequireOrchestrator error: %v", err)
	}
	if got := orch.Priority(); !reflect.DeepEqual(got, []string{"groq"}) {
		t.Errorf("Priority = %v, want [groq]", got)
	}
	if got := effectivePriority(cfg); !reflect.DeepEqual(got, []string{"groq"}) {
		t.Errorf("effectivePriority = %v, want [groq]", got)
	}
}

func TestProviderRows(t *testing.T) {
	cfg := memoryConfig()
	off := false
	cfg.Providers[0].Enabled = &off
	cfg.Providers[1].APIKey = "key"

	rows := providerRows(cfg)
	if len(rows) != len(cfg.Providers) {
		t.Fatalf("rows = %d, want %d", len(rows), len(cfg.Providers))
	}
	want := []string{"disabled", "enabled", "skipped", "skipped"}
	for i, r := range rows {
		if r.Status != want[i] {
			t.Errorf("row %d (%s) status = %s, want %s", i, r.Name, r.Status, want[i])
		}
	}
}

func TestResolveStoragePath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "lab.db")
	if got, err := resolveStoragePath(abs); err != nil || got != abs {
		t.Errorf("absolute path changed: %q, %v", got, err)
	}
	if got, _ := resolveStoragePath(":memory:"); got != ":memory:" {
		t.Errorf(":memory: changed to %q", got)
	}
}
