// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/promptlab/internal/config"
	"github.com/jeranaias/promptlab/internal/orchestrator"
	"github.com/jeranaias/promptlab/internal/prompt"
	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/storage"
)

// =============================================================================
// PROVIDERS
// =============================================================================

// ProviderRow is one configured provider as listed by the providers command.
type ProviderRow struct {
	provider.Descriptor
	Status string `json:"status"`
}

// HandleProviders lists every configured provider with its status and the
// effective fallback order. It needs no API keys.
func HandleProviders(args Args) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}

	rows := providerRows(cfg)
	priority := effectivePriority(cfg)

	if args.JSON {
		return NewJSONResponse("providers", map[string]interface{}{
			"providers": rows,
			"priority":  priority,
		}).Print()
	}

	fmt.Println(TitleStyle.Render("Providers"))
	fmt.Printf("  %s %s %s %s\n", padRight("NAME", 10), padRight("MODEL", 28), padRight("PRICE IN/OUT per 1M", 22), "STATUS")
	for _, r := range rows {
		price := fmt.Sprintf("$%s / $%s", r.InputPricePerMillion.StringFixed(2), r.OutputPricePerMillion.StringFixed(2))
		fmt.Printf("  %s %s %s %s\n",
			ProviderStyle.Render(padRight(r.Name, 10)),
			padRight(r.Model, 28),
			padRight(price, 22),
			RenderStatus(r.Status)+" "+DimStyle.Render(r.Status))
	}
	fmt.Println()
	printField("Fallback order:", strings.Join(priority, " -> "))
	return nil
}

func providerRows(cfg *config.Config) []ProviderRow {
	rows := make([]ProviderRow, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		status := "enabled"
		switch {
		case !p.IsEnabled():
			status = "disabled"
		case p.APIKey == "":
			status = "skipped"
		}
		rows = append(rows, ProviderRow{Descriptor: p.Settings().Describe(), Status: status})
	}
	return rows
}

// effectivePriority is the order exchanges try usable providers in.
func effectivePriority(cfg *config.Config) []string {
	priority := cfg.Orchestrator.Priority
	if len(priority) == 0 {
		priority = provider.DefaultPriority
	}
	usable := make(map[string]bool)
	var configured []string
	for _, p := range cfg.UsableProviders() {
		name := provider.NormalizeName(p.Name)
		usable[name] = true
		configured = append(configured, name)
	}

	out := []string{}
	seen := make(map[string]bool)
	for _, name := range append(append([]string{}, priority...), configured...) {
		name = provider.NormalizeName(name)
		if usable[name] && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// =============================================================================
// TEMPLATES
// =============================================================================

// HandleTemplates lists the built-in prompt templates, optionally filtered
// by --category.
func HandleTemplates(args Args) error {
	p := NewArgParser(args.Raw)

	templates := prompt.Builtins()
	if name := p.Flag("category", "c"); name != "" {
		category := prompt.Category(strings.ToLower(name))
		if !prompt.ValidCategory(category) {
			return NewValidationErrorWithExample("category", name,
				"must be one of "+categoryList(), "--category technical")
		}
		templates = prompt.ByCategory(category)
	}

	if args.JSON {
		return NewJSONResponse("templates", map[string]interface{}{
			"templates":  templates,
			"categories": prompt.Categories,
		}).Print()
	}

	fmt.Println(TitleStyle.Render("Prompt Templates"))
	for _, t := range templates {
		fmt.Printf("  %s %s %s\n",
			HighlightStyle.Render(padRight(t.ID, 22)),
			padRight(string(t.Category), 12),
			DimStyle.Render(t.Name))
		if args.Verbose {
			fmt.Printf("  %s %s\n", padRight("", 22), DimStyle.Render(strings.Join(t.RequiredVariables(), ", ")))
		}
	}
	return nil
}

func categoryList() string {
	names := make([]string, len(prompt.Categories))
	for i, c := range prompt.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// =============================================================================
// VALIDATE
// =============================================================================

// HandleValidate checks a template and renders it when every variable is
// bound.
//
//	promptlab validate --template technical-analysis --var subject=raft --var technical_level=advanced
//	promptlab validate --content "Summarize {text}"
func HandleValidate(args Args) error {
	p := NewArgParser(args.Raw)

	vars, err := parseVariables(repeatedFlag(args.Raw, "var"))
	if err != nil {
		return err
	}
	req := prompt.Request{
		TemplateID: p.Flag("template", "t"),
		Content:    p.Flag("content"),
		Variables:  vars,
		Category:   prompt.Category(p.Flag("category")),
	}
	if req.TemplateID == "" && req.Content == "" {
		req.Content = JoinPositionalArgs(p, 0)
	}
	if req.TemplateID == "" && req.Content == "" {
		return ErrMissingArgument("template", `promptlab validate --content "Explain {topic}"`)
	}

	res, err := prompt.Validate(req)
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("validate", res).Print()
	}

	if res.Valid {
		fmt.Println(SuccessStyle.Render("[VALID]"))
	} else {
		fmt.Println(ErrorStyle.Render("[INVALID]"))
	}
	if res.Template != nil && res.Template.ID != "" {
		printField("Template:", res.Template.ID+" ("+res.Template.Name+")")
	}
	printField("Variables:", strings.Join(res.RequiredVariables, ", "))
	if len(res.MissingVariables) > 0 {
		printField("Missing:", WarningStyle.Render(strings.Join(res.MissingVariables, ", ")))
	}
	printField("Est. tokens:", res.EstimatedTokens)
	for _, e := range res.Errors {
		fmt.Printf("  %s %s\n", ErrorStyle.Render("-"), e)
	}
	if res.RenderedPrompt != "" {
		fmt.Println(SectionStyle.Render("Rendered"))
		fmt.Println(WrapText(res.RenderedPrompt, 0))
	}
	return nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// HandleConversations lists, shows or deletes the current user's
// conversations.
func HandleConversations(args Args) error {
	p := NewArgParser(args.Raw)

	app, err := OpenApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()
	user := args.User()

	switch sub := p.Subcommand(); sub {
	case "", "list", "ls":
		limit, err := p.FlagInt("limit", storage.DefaultListLimit)
		if err != nil {
			return err
		}
		if limit < 1 || limit > storage.MaxListLimit {
			return NewValidationError("limit", fmt.Sprint(limit),
				fmt.Sprintf("must be between 1 and %d", storage.MaxListLimit))
		}
		offset, err := p.FlagInt("offset", 0)
		if err != nil {
			return err
		}
		list, err := app.Convs.ListByUser(ctx, user, limit, offset)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("conversations", list).Print()
		}
		printConversationList(list)
		return nil

	case "show", "get":
		id := p.Positional(1)
		if id == "" {
			return ErrMissingArgument("id", "promptlab conversations show <id>")
		}
		conv, err := ownedConversation(ctx, app, user, id)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("conversations", conv).Print()
		}
		fmt.Println(TitleStyle.Render(conv.Title))
		printField("ID:", conv.ID)
		printField("Updated:", conv.UpdatedAt.Local().Format("2006-01-02 15:04"))
		fmt.Println()
		printMessages(conv.Messages)
		return nil

	case "delete", "rm":
		id := p.Positional(1)
		if id == "" {
			return ErrMissingArgument("id", "promptlab conversations delete <id>")
		}
		if err := deleteConversation(ctx, app, user, id); err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("conversations", map[string]string{"deleted": id}).Print()
		}
		fmt.Printf("%s deleted %s\n", SuccessStyle.Render("[OK]"), id)
		return nil

	default:
		return NewValidationErrorWithExample("subcommand", sub, "unknown conversations subcommand",
			"promptlab conversations list")
	}
}

// ownedConversation loads a conversation through the orchestrator, which
// enforces ownership. Without providers it checks ownership itself.
func ownedConversation(ctx context.Context, app *App, user, id string) (*storage.Conversation, error) {
	if app.Orchestrator != nil {
		return app.Orchestrator.GetConversation(ctx, user, id)
	}
	conv, err := app.Convs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != user {
		return nil, fmt.Errorf("%w: conversation %s", orchestrator.ErrForbidden, id)
	}
	return conv, nil
}

func deleteConversation(ctx context.Context, app *App, user, id string) error {
	if app.Orchestrator != nil {
		return app.Orchestrator.DeleteConversation(ctx, user, id)
	}
	if _, err := ownedConversation(ctx, app, user, id); err != nil {
		return err
	}
	if err := app.Convs.Delete(ctx, id); err != nil {
		return err
	}
	return app.Metrics.DeleteConversation(ctx, id)
}

func printConversationList(list []storage.ConversationSummary) {
	if len(list) == 0 {
		fmt.Println(DimStyle.Render("No conversations."))
		return
	}
	width := GetTerminalWidth() - 70
	if width < 20 {
		width = 20
	}
	for _, c := range list {
		fmt.Printf("  %s %s %s %s\n",
			DimStyle.Render(c.ID[:min(8, len(c.ID))]),
			padRight(c.Title, 30),
			DimStyle.Render(fmt.Sprintf("%3d msgs  %s", c.MessageCount, c.UpdatedAt.Local().Format("01-02 15:04"))),
			truncate(c.LastMessage, width))
	}
}
