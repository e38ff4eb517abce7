// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptlab/internal/config"
	"github.com/jeranaias/promptlab/internal/orchestrator"
	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives in the config directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlash)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists history with 0600 permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

var slashCommands = []string{"/help", "/new", "/history", "/summary", "/provider", "/providers", "/quit"}

func completeSlash(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession holds the state for an interactive chat session.
type ChatSession struct {
	App          *App
	Orchestrator *orchestrator.Orchestrator
	UserID       string
	Quiet        bool

	// ConversationID is empty until the first exchange of a new
	// conversation returns.
	ConversationID string
	Preferred      string

	StartTime   time.Time
	Exchanges   int
	TotalTokens int
	TotalCost   decimal.Decimal

	mu     sync.Mutex
	cancel context.CancelFunc
}

// setCancel records the cancel func of the in-flight exchange.
func (s *ChatSession) setCancel(c context.CancelFunc) {
	s.mu.Lock()
	s.cancel = c
	s.mu.Unlock()
}

// interrupt cancels the in-flight exchange, if any.
func (s *ChatSession) interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// record folds one exchange into the session totals.
func (s *ChatSession) record(r *orchestrator.ExchangeResult) {
	s.ConversationID = r.ConversationID
	s.Exchanges++
	s.TotalTokens += r.Record.Tokens
	s.TotalCost = s.TotalCost.Add(r.Record.CostUSD)
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the interactive chat loop. An optional positional
// conversation id resumes that conversation.
func HandleChat(args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}
	p := NewArgParser(args.Raw)

	app, err := OpenApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	orch, err := app.RequireOrchestrator()
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	app.StartWorkers(ctx)

	session := &ChatSession{
		App:            app,
		Orchestrator:   orch,
		UserID:         args.User(),
		Quiet:          args.Quiet,
		ConversationID: p.Positional(0),
		Preferred:      p.Flag("provider", "p"),
		StartTime:      time.Now(),
	}
	if session.ConversationID != "" {
		if _, err := orch.GetConversation(ctx, session.UserID, session.ConversationID); err != nil {
			return err
		}
	}

	input := NewChatCLI()
	defer input.Close()

	// Ctrl+C during an exchange cancels it; at the prompt liner aborts.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if session.interrupt() {
				fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	if !session.Quiet {
		printWelcome(session)
	}

	for {
		line, err := input.ReadInput(PromptStyle.Render("promptlab> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed terminal
			fmt.Println()
			printExitSummary(session)
			return nil
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
			printExitSummary(session)
			return nil
		case strings.HasPrefix(line, "/"):
			keepGoing, err := handleSlashCommand(ctx, line, session)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !keepGoing {
				printExitSummary(session)
				return nil
			}
			continue
		}

		if err := processMessage(ctx, session, line); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	}
}

// processMessage runs one exchange, cancellable with Ctrl+C.
func processMessage(parent context.Context, session *ChatSession, text string) error {
	ctx, cancel := context.WithCancel(parent)
	session.setCancel(cancel)
	defer func() {
		session.setCancel(nil)
		cancel()
	}()

	result, err := session.Orchestrator.SendMessage(ctx, orchestrator.Request{
		UserID:            session.UserID,
		Text:              text,
		ConversationID:    session.ConversationID,
		PreferredProvider: session.Preferred,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		printAttemptFailures(err)
		return err
	}

	session.record(result)
	fmt.Println()
	printExchange(result, session.Quiet)
	fmt.Println()
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand returns false when the session should end.
func handleSlashCommand(ctx context.Context, line string, session *ChatSession) (bool, error) {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	rest := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		printChatHelp()
	case "/new", "/n":
		session.ConversationID = ""
		fmt.Println(SuccessStyle.Render("[New conversation]"))
	case "/history":
		return true, printHistory(ctx, session)
	case "/summary", "/stats":
		return true, printConversationSummary(ctx, session)
	case "/provider", "/p":
		return true, setPreferredProvider(session, rest)
	case "/providers":
		fmt.Println(strings.Join(session.Orchestrator.Priority(), " -> "))
	case "/quit", "/q", "/exit":
		return false, nil
	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

func setPreferredProvider(session *ChatSession, rest []string) error {
	if len(rest) == 0 {
		current := session.Preferred
		if current == "" {
			current = "(priority order)"
		}
		fmt.Printf("%s %s\n", DimStyle.Render("Preferred provider:"), current)
		return nil
	}
	name := provider.NormalizeName(rest[0])
	if name == "auto" || name == "none" {
		session.Preferred = ""
		fmt.Println(SuccessStyle.Render("[OK]") + " using priority order")
		return nil
	}
	for _, known := range session.Orchestrator.Priority() {
		if known == name {
			session.Preferred = name
			fmt.Printf("%s preferring %s\n", SuccessStyle.Render("[OK]"), name)
			return nil
		}
	}
	return fmt.Errorf("provider %q is not configured", rest[0])
}

func printHistory(ctx context.Context, session *ChatSession) error {
	if session.ConversationID == "" {
		fmt.Println(DimStyle.Render("No messages yet."))
		return nil
	}
	conv, err := session.Orchestrator.GetConversation(ctx, session.UserID, session.ConversationID)
	if err != nil {
		return err
	}
	printMessages(conv.Messages)
	return nil
}

func printMessages(msgs []storage.Message) {
	for _, m := range msgs {
		role := DimStyle.Render("you")
		if m.Role == storage.RoleAssistant {
			role = ProviderStyle.Render("assistant")
		}
		fmt.Printf("%s %s %s\n", DimStyle.Render(m.Timestamp.Local().Format("15:04")), role,
			truncate(m.Content, GetTerminalWidth()-20))
	}
}

func printConversationSummary(ctx context.Context, session *ChatSession) error {
	if session.ConversationID == "" {
		fmt.Println(DimStyle.Render("No messages yet."))
		return nil
	}
	s, err := session.App.Aggregator.Summarize(ctx, telemetry.ConversationScope(session.ConversationID), 0)
	if err != nil {
		return err
	}
	printSummary(s)
	return nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func printWelcome(session *ChatSession) {
	fmt.Println()
	fmt.Println(TitleStyle.Render("promptlab chat"))
	printField("User:", session.UserID)
	printField("Providers:", strings.Join(session.Orchestrator.Priority(), " -> "))
	if session.ConversationID != "" {
		printField("Conversation:", session.ConversationID)
	}
	if len(session.App.Skipped) > 0 {
		printField("Skipped:", strings.Join(session.App.Skipped, ", ")+" (no API key)")
	}
	fmt.Println()
	fmt.Println(DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

func printChatHelp() {
	fmt.Println()
	fmt.Println(SectionStyle.Render("Available Commands"))
	commands := []struct{ cmd, desc string }{
		{"/help, /h", "Show this help"},
		{"/new, /n", "Start a new conversation"},
		{"/history", "Show messages of this conversation"},
		{"/summary", "Analytics for this conversation"},
		{"/provider [name|auto]", "Show or set the preferred provider"},
		{"/providers", "Show the fallback order"},
		{"/quit, /q", "Exit chat"},
	}
	for _, c := range commands {
		fmt.Printf("  %s %s\n", HighlightStyle.Render(padRight(c.cmd, 24)), DimStyle.Render(c.desc))
	}
	fmt.Println()
}

func printExitSummary(session *ChatSession) {
	if session.Quiet || session.Exchanges == 0 {
		return
	}
	fmt.Println(SectionStyle.Render("Session"))
	printField("Exchanges:", session.Exchanges)
	printField("Tokens:", formatNumber(session.TotalTokens))
	printField("Cost:", "$"+session.TotalCost.StringFixed(4))
	printField("Duration:", formatDurationShort(time.Since(session.StartTime)))
	if session.ConversationID != "" {
		printField("Resume with:", "promptlab chat "+session.ConversationID)
	}
}
