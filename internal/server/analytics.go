// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/promptlab/internal/analytics"
	"github.com/jeranaias/promptlab/internal/export"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// ============================================================================
// SUMMARIES
// ============================================================================

// handleSummary serves GET /analytics/summary. conversation_id wins over
// user_id; when both are given the conversation must belong to the user.
// Neither selects the global scope.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	convID := strings.TrimSpace(q.Get("conversation_id"))

	scope := telemetry.GlobalScope()
	switch {
	case convID != "":
		if userID != "" {
			if _, err := s.deps.Orchestrator.GetConversation(r.Context(), userID, convID); err != nil {
				writeErr(w, r, err)
				return
			}
		}
		scope = telemetry.ConversationScope(convID)
	case userID != "":
		scope = telemetry.UserScope(userID)
	}

	s.writeSummary(w, r, scope, days)
}

// handleScopedSummary serves the /analytics/{user,conversation,global}
// shortcuts.
func (s *Server) handleScopedSummary(kind telemetry.ScopeKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := daysParam(r)
		if err != nil {
			badRequest(w, "%v", err)
			return
		}
		scope := telemetry.Scope{Kind: kind}
		if kind != telemetry.ScopeKindGlobal {
			scope.ID = r.PathValue("id")
		}
		s.writeSummary(w, r, scope, days)
	}
}

// SummaryResponse is a summary with its derived insights.
type SummaryResponse struct {
	*analytics.Summary
	Insights analytics.Insights `json:"insights"`
}

func (s *Server) writeSummary(w http.ResponseWriter, r *http.Request, scope telemetry.Scope, days int) {
	sum, err := s.deps.Aggregator.Summarize(r.Context(), scope, days)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{
		Summary:  sum,
		Insights: analytics.NewInsights(sum),
	})
}

// ============================================================================
// REPORTS AND EXPORTS
// ============================================================================

// ReportBody is the body of POST /analytics/report.
type ReportBody struct {
	analytics.ReportRequest
	Format string `json:"format,omitempty"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var body ReportBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Days < 0 || body.Days > analytics.MaxWindowDays {
		badRequest(w, "days must be between 0 and %d", analytics.MaxWindowDays)
		return
	}
	format, err := export.ParseFormat(body.Format)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	rep, err := s.deps.Aggregator.Report(r.Context(), body.ReportRequest)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if format == export.FormatJSON {
		writeJSON(w, http.StatusOK, rep)
		return
	}

	exp, err := export.New(format, export.DefaultOptions())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	doc, err := exp.Report(rep)
	if err != nil {
		writeErr(w, r, fmt.Errorf("render report %s: %w", rep.ID, err))
		return
	}
	writeDocument(w, exp, rep.ID, doc)
}

// handleExport serves GET /analytics/export/{user_id}?days=&format=.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		badRequest(w, "user_id is required")
		return
	}
	days, err := daysParam(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeErr(w, r, err)
		return
	}

	data, err := export.CollectUser(r.Context(), export.Sources{
		Conversations: s.deps.Conversations,
		Metrics:       s.deps.Metrics,
		Aggregator:    s.deps.Aggregator,
	}, userID, days)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if format == export.FormatJSON {
		writeJSON(w, http.StatusOK, data)
		return
	}

	exp, err := export.New(format, export.DefaultOptions())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	doc, err := exp.User(data)
	if err != nil {
		writeErr(w, r, fmt.Errorf("render export of %s: %w", userID, err))
		return
	}
	writeDocument(w, exp, "promptlab_export_"+userID, doc)
}
