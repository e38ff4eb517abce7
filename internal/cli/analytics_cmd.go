// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/promptlab/internal/analytics"
	"github.com/jeranaias/promptlab/internal/export"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// =============================================================================
// SUMMARY
// =============================================================================

// HandleSummary prints the analytics summary of the current user, one
// conversation (--conversation) or the whole platform (--global).
//
//	promptlab summary --days 7
//	promptlab summary --conversation 6f1c...
//	promptlab summary --global --json
func HandleSummary(args Args) error {
	p := NewArgParser(args.Raw, "global")
	days, err := windowDays(p)
	if err != nil {
		return err
	}

	app, err := OpenApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()
	scope := telemetry.UserScope(args.User())
	switch {
	case p.BoolFlag("global"):
		scope = telemetry.GlobalScope()
	case p.Flag("conversation", "c") != "":
		id := p.Flag("conversation", "c")
		// Only the owner may summarize a conversation.
		if app.Orchestrator != nil {
			if _, err := app.Orchestrator.GetConversation(ctx, args.User(), id); err != nil {
				return err
			}
		}
		scope = telemetry.ConversationScope(id)
	}

	s, err := app.Aggregator.Summarize(ctx, scope, days)
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("summary", struct {
			*analytics.Summary
			Insights analytics.Insights `json:"insights"`
		}{s, analytics.NewInsights(s)}).Print()
	}
	printSummary(s)
	return nil
}

// windowDays reads --days; 0 lets the aggregator pick its default.
func windowDays(p *ArgParser) (int, error) {
	days, err := p.FlagInt("days", 0)
	if err != nil {
		return 0, err
	}
	if days < 0 || days > analytics.MaxWindowDays {
		return 0, NewValidationErrorWithExample("days", fmt.Sprint(days),
			fmt.Sprintf("must be between 1 and %d", analytics.MaxWindowDays), "--days 30")
	}
	return days, nil
}

func printSummary(s *analytics.Summary) {
	in := analytics.NewInsights(s)

	fmt.Println(TitleStyle.Render(fmt.Sprintf("Analytics: %s (last %d days)", s.Scope, s.WindowDays)))
	printField("Conversations:", formatNumber(s.TotalConversations))
	printField("Exchanges:", formatNumber(s.TotalExchanges))
	printField("Messages:", formatNumber(s.TotalMessages))
	printField("Tokens:", formatNumber(s.TotalTokens))
	printField("Cost:", "$"+s.TotalCost.String())
	printField("Avg response:", fmt.Sprintf("%.0fms", s.AvgResponseTimeMs))
	printField("Efficiency:", fmt.Sprintf("%.1f / 100", in.EfficiencyScore))

	if len(s.Providers) > 0 {
		fmt.Println(SectionStyle.Render("Providers"))
		for _, ps := range s.Providers {
			fmt.Printf("  %s %6.2f%%  %s exchanges  $%s  %.0fms\n",
				ProviderStyle.Render(padRight(ps.Provider, 10)), ps.Percentage,
				padRight(formatNumber(ps.Count), 6), ps.Cost.String(), ps.AvgLatencyMs)
		}
	}

	fmt.Println(SectionStyle.Render("Sentiment"))
	if s.Sentiment.Analyzed == 0 {
		fmt.Println("  " + DimStyle.Render("no analyzed messages"))
	} else {
		for _, l := range s.Sentiment.Labels {
			label := string(l.Label)
			fmt.Printf("  %s%s %6.2f%%  %d\n", RenderSentiment(label), strings.Repeat(" ", 10-len(label)), l.Percentage, l.Count)
		}
		printField("Trend:", s.Sentiment.Trend)
	}

	if s.Activity != nil {
		fmt.Println(SectionStyle.Render("Activity"))
		printField("Level:", s.Activity.Level)
		printField("Trend:", s.Activity.Trend)
		printField("Messages/day:", fmt.Sprintf("%.2f", s.Activity.MessagesPerDay))
	}
	if s.Platform != nil {
		fmt.Println(SectionStyle.Render("Platform"))
		printField("Users:", s.Platform.TotalUsers)
		printField("Health:", s.Platform.Health)
		printField("Utilization:", fmt.Sprintf("%.2f", s.Platform.Utilization))
	}
}

// =============================================================================
// REPORT
// =============================================================================

// HandleReport builds a report for the current user, or every user with
// --global, and writes it to stdout or into --output DIR.
func HandleReport(args Args) error {
	p := NewArgParser(args.Raw, "global", "no-conversations", "no-recommendations", "open")
	days, err := windowDays(p)
	if err != nil {
		return err
	}
	typ, err := analytics.ParseReportType(p.Flag("type", "t"))
	if err != nil {
		return NewValidationErrorWithExample("type", p.Flag("type", "t"),
			"must be one of "+reportTypes, "--type detailed")
	}
	format, err := export.ParseFormat(p.Flag("format", "f"))
	if err != nil {
		return err
	}

	app, err := OpenApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	req := analytics.ReportRequest{
		UserID:                 args.User(),
		Type:                   typ,
		Days:                   days,
		IncludeConversations:   !p.BoolFlag("no-conversations"),
		IncludeRecommendations: !p.BoolFlag("no-recommendations"),
	}
	if p.BoolFlag("global") {
		req.UserID = ""
	}

	rep, err := app.Aggregator.Report(context.Background(), req)
	if err != nil {
		return err
	}

	exporter, err := export.New(format, export.DefaultOptions())
	if err != nil {
		return err
	}
	content, err := exporter.Report(rep)
	if err != nil {
		return NewCommandError("report", "render", string(format), err)
	}
	return emit(args, p, "report", "promptlab", rep.ID, content, exporter)
}

// =============================================================================
// EXPORT
// =============================================================================

// HandleExport writes everything stored for the current user.
func HandleExport(args Args) error {
	p := NewArgParser(args.Raw, "open")
	days, err := windowDays(p)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(p.Flag("format", "f"))
	if err != nil {
		return err
	}

	app, err := OpenApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	data, err := export.CollectUser(context.Background(), export.Sources{
		Conversations: app.Convs,
		Metrics:       app.Metrics,
		Aggregator:    app.Aggregator,
	}, args.User(), days)
	if err != nil {
		return err
	}

	exporter, err := export.New(format, export.DefaultOptions())
	if err != nil {
		return err
	}
	content, err := exporter.User(data)
	if err != nil {
		return NewCommandError("export", "render", string(format), err)
	}
	return emit(args, p, "export", "promptlab_export", data.UserID, content, exporter)
}

// emit prints content, or writes it into --output DIR and reports the path.
// --open launches the written file.
func emit(args Args, p *ArgParser, command, prefix, name string, content []byte, exporter export.Exporter) error {
	dir := p.Flag("output", "o")
	if dir == "" {
		_, err := os.Stdout.Write(content)
		return err
	}

	dir, err := ValidateOutputDir(dir)
	if err != nil {
		return NewValidationError("output", p.Flag("output", "o"), err.Error())
	}
	path, err := export.WriteFile(dir, prefix, name, content, exporter)
	if err != nil {
		return NewCommandError(command, "write", dir, err)
	}

	if args.JSON {
		return NewJSONResponse(command, map[string]interface{}{
			"path":      path,
			"bytes":     len(content),
			"mime_type": exporter.MimeType(),
		}).Print()
	}
	if !args.Quiet {
		fmt.Printf("%s wrote %s (%d bytes)\n", SuccessStyle.Render("[OK]"), path, len(content))
	}
	if p.BoolFlag("open") {
		if err := export.OpenFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s could not open %s: %v\n", WarningStyle.Render("[warning]"), path, err)
		}
	}
	return nil
}

// reportTypes is shown in usage errors.
var reportTypes = strings.Join([]string{
	string(analytics.ReportSummary), string(analytics.ReportDetailed), string(analytics.ReportExport),
}, ", ")
