// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/promptlab/internal/orchestrator"
)

// MaxStdinSize is the most piped input ask reads (64KB).
const MaxStdinSize = 64 * 1024

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer is nil when glamour cannot initialize; replies then print
// as plain text.
var markdownRenderer *glamour.TermRenderer

func init() {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err == nil {
		markdownRenderer = r
	}
}

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails or renderer is unavailable.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayResponse renders markdown only when stdout is a TTY so piped output
// stays byte-exact.
func displayResponse(response string) {
	if IsStdoutTTY() {
		fmt.Print(renderMarkdown(response))
		return
	}
	fmt.Println(response)
}

// =============================================================================
// ASK
// =============================================================================

// HandleAsk sends one message and prints the reply.
//
//	promptlab ask "explain context cancellation"
//	echo "summarize this" | promptlab ask --provider groq
//	promptlab ask --conversation 6f1c... "and in Rust?"
func HandleAsk(args Args) error {
	p := NewArgParser(args.Raw)

	message := JoinPositionalArgs(p, 0)
	if message == "" {
		piped, err := readStdin(MaxStdinSize)
		if err != nil {
			return err
		}
		message = piped
	}
	if strings.TrimSpace(message) == "" {
		return ErrMissingArgument("message", `promptlab ask "what is a goroutine?"`)
	}

	app, err := OpenApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	orch, err := app.RequireOrchestrator()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orch.SendMessage(ctx, orchestrator.Request{
		UserID:            args.User(),
		Text:              message,
		ConversationID:    p.Flag("conversation", "c"),
		PreferredProvider: p.Flag("provider", "p"),
	})
	if err != nil {
		if !args.JSON {
			printAttemptFailures(err)
		}
		return err
	}

	if args.JSON {
		return NewJSONResponse("ask", newAskData(result)).Print()
	}
	printExchange(result, args.Quiet)
	return nil
}

// newAskData flattens an exchange for --json output.
func newAskData(r *orchestrator.ExchangeResult) AskData {
	rec := r.Record
	data := AskData{
		ConversationID: r.ConversationID,
		Response:       r.AssistantMessage.Content,
		Provider:       rec.Provider,
		Model:          rec.Model,
		InputTokens:    rec.TokensInput,
		OutputTokens:   rec.TokensOutput,
		CostUSD:        rec.CostUSD.StringFixed(6),
		LatencyMs:      rec.LatencyMs,
		Warnings:       r.WarningMessages(),
	}
	if rec.Sentiment != nil {
		data.Sentiment = string(rec.Sentiment.Label)
	}
	for _, a := range r.Attempts {
		data.FailedAttempts = append(data.FailedAttempts, a.Error())
	}
	return data
}

// printExchange prints the reply followed by a one-line footer.
func printExchange(r *orchestrator.ExchangeResult, quiet bool) {
	displayResponse(r.AssistantMessage.Content)
	if quiet {
		return
	}

	for _, a := range r.Attempts {
		fmt.Fprintf(os.Stderr, "%s %s failed (%s), fell back\n",
			WarningStyle.Render("[fallback]"), a.Provider, a.Kind)
	}
	for _, w := range r.WarningMessages() {
		fmt.Fprintf(os.Stderr, "%s %s\n", WarningStyle.Render("[warning]"), w)
	}

	rec := r.Record
	footer := fmt.Sprintf("%s %s | %s in / %s out | $%s | %dms",
		ProviderStyle.Render(rec.Provider),
		DimStyle.Render(rec.Model),
		formatNumber(rec.TokensInput),
		formatNumber(rec.TokensOutput),
		rec.CostUSD.StringFixed(6),
		rec.LatencyMs,
	)
	if rec.Sentiment != nil {
		footer += " | " + RenderSentiment(string(rec.Sentiment.Label))
	}
	fmt.Fprintln(os.Stderr, DimStyle.Render("-- ")+footer)
	fmt.Fprintln(os.Stderr, DimStyle.Render("conversation "+r.ConversationID))
}

// printAttemptFailures lists each provider failure of an exhausted exchange.
func printAttemptFailures(err error) {
	var ex *orchestrator.ExhaustedError
	if !errors.As(err, &ex) {
		return
	}
	for _, a := range ex.Attempts {
		fmt.Fprintf(os.Stderr, "  %s %s: %s\n", RenderStatus("fail"), a.Provider, a.Message)
	}
}
