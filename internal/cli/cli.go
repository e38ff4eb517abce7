// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdServe
	CmdChat
	CmdAsk
	CmdSummary
	CmdReport
	CmdExport
	CmdProviders
	CmdTemplates
	CmdValidate
	CmdConversations
	CmdConfig
	CmdStatus
	CmdVersion
	CmdUnknown
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	JSON       bool
	Quiet      bool
	Verbose    bool
	UserID     string

	// Name is the command word as typed, kept for error messages.
	Name string

	// Raw holds everything after the command word, for NewArgParser.
	Raw []string
}

// User returns the --user flag, falling back to the environment.
func (a Args) User() string {
	if a.UserID != "" {
		return a.UserID
	}
	return getCurrentUserID()
}

const usageText = `promptlab - multi-provider AI chat with conversation analytics

Usage:
  promptlab <command> [arguments] [flags]

Commands:
  serve                          Start the HTTP API server
  chat [conversation-id]         Interactive chat session
  ask "message"                  Send one message (reads stdin when no message)
    --conversation ID            Continue an existing conversation
    --provider NAME              Try this provider first
  summary                        Analytics summary for the current user
    --days N                     Window in days (default 30, max 365)
    --conversation ID            Summarize one conversation
    --global                     Summarize every user
  report                         Build an analytics report
    --type summary|detailed|export
    --days N
    --no-conversations           Omit per-conversation breakdowns
    --no-recommendations         Omit recommendations
    --format json|csv|markdown   Output format (default: json)
    --output DIR                 Write to a file in DIR instead of stdout
  export                         Export conversations, metrics and summary
    --format json|csv|markdown
    --days N
    --output DIR
  providers                      List configured providers and fallback order
  templates [--category NAME]    List prompt templates
  validate                       Validate a prompt template
    --template ID                Built-in template id
    --content TEXT               Inline template text
    --var name=value             Variable binding (repeatable)
  conversations list [--limit N] List conversations
  conversations show <id>        Show a conversation with messages
  conversations delete <id>      Delete a conversation and its metrics
  config [show]                  Show configuration (secrets redacted)
  config get <key>               Print one setting
  config set <key> <value>       Update one setting
  config keys                    List settable keys
  config path                    Print the config file location
  config init                    Write a default config file
  status                         Show local status
  version                        Show version information
  help                           Show this help

Global Flags:
  --config PATH                  Config file (default: ~/.promptlab/config.toml)
  --user ID                      User id (default: $PROMPTLAB_USER or $USER)
  --json                         Output in JSON format
  -q, --quiet                    Suppress decorative output
  -v, --verbose                  Log to stderr

Environment:
  PROMPTLAB_USER                 Default user id
  GEMINI_API_KEY, GROQ_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY
  NO_COLOR                       Disable colors

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("promptlab version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// commandNames maps command words, including aliases, to commands.
var commandNames = map[string]Command{
	"serve":         CmdServe,
	"server":        CmdServe,
	"chat":          CmdChat,
	"ask":           CmdAsk,
	"summary":       CmdSummary,
	"report":        CmdReport,
	"export":        CmdExport,
	"providers":     CmdProviders,
	"templates":     CmdTemplates,
	"validate":      CmdValidate,
	"conversations": CmdConversations,
	"conv":          CmdConversations,
	"config":        CmdConfig,
	"status":        CmdStatus,
	"s":             CmdStatus,
	"version":       CmdVersion,
	"--version":     CmdVersion,
	"help":          CmdHelp,
	"-h":            CmdHelp,
	"--help":        CmdHelp,
}

// Parse parses command-line arguments (without the program name) and
// returns the command and args.
func Parse(argv []string) (Command, Args) {
	remaining, parsed := parseGlobalFlags(argv)
	if len(remaining) == 0 {
		return CmdHelp, parsed
	}

	parsed.Name = strings.ToLower(remaining[0])
	parsed.Raw = remaining[1:]

	cmd, ok := commandNames[parsed.Name]
	if !ok {
		return CmdUnknown, parsed
	}
	return cmd, parsed
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
// Global flags may appear anywhere on the line.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsed Args

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-q", "--quiet":
			parsed.Quiet = true
		case "-v", "--verbose":
			parsed.Verbose = true
		case "--json":
			parsed.JSON = true
		case "--config", "--user":
			if i+1 < len(args) {
				i++
				setGlobalValue(&parsed, arg, args[i])
			}
		case "--":
			remaining = append(remaining, args[i:]...)
			return remaining, parsed
		default:
			if name, value, ok := strings.Cut(arg, "="); ok && (name == "--config" || name == "--user") {
				setGlobalValue(&parsed, name, value)
				continue
			}
			remaining = append(remaining, arg)
		}
	}
	return remaining, parsed
}

func setGlobalValue(a *Args, name, value string) {
	switch name {
	case "--config":
		a.ConfigPath = value
	case "--user":
		a.UserID = value
	}
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// HandleVersion handles the "version" command with JSON output support.
func HandleVersion(args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print()
	}
	PrintVersion()
	return nil
}

// HandleUnknown reports an unknown command word as a usage error.
func HandleUnknown(args Args) error {
	return NewValidationErrorWithExample("command", args.Name, "unknown command", "promptlab help")
}

// handlers maps each command to its implementation.
var handlers = map[Command]func(Args) error{
	CmdServe:         HandleServe,
	CmdChat:          HandleChat,
	CmdAsk:           HandleAsk,
	CmdSummary:       HandleSummary,
	CmdReport:        HandleReport,
	CmdExport:        HandleExport,
	CmdProviders:     HandleProviders,
	CmdTemplates:     HandleTemplates,
	CmdValidate:      HandleValidate,
	CmdConversations: HandleConversations,
	CmdConfig:        HandleConfig,
	CmdStatus:        HandleStatus,
	CmdVersion:       HandleVersion,
	CmdUnknown:       HandleUnknown,
}

// Run parses argv (without the program name), runs the command and returns
// the process exit code.
func Run(argv []string) int {
	cmd, args := Parse(argv)
	setupLogging(args)

	handler, ok := handlers[cmd]
	if !ok {
		PrintUsage()
		return ExitSuccess
	}
	if err := handler(args); err != nil {
		DisplayError(err, args.JSON)
		return GetExitCode(err)
	}
	return ExitSuccess
}
