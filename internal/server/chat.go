// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"strings"

	"github.com/jeranaias/promptlab/internal/orchestrator"
	"github.com/jeranaias/promptlab/internal/prompt"
	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/storage"
)

// ============================================================================
// SEND MESSAGE
// ============================================================================

// MessageResponse is the body of a successful POST /chat/message. Warnings
// lists non-fatal problems such as a failed sentiment analysis or a write
// queued for reconciliation.
type MessageResponse struct {
	*orchestrator.ExchangeResult
	Response string   `json:"response"`
	Warnings []string `json:"warnings"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.deps.Orchestrator.SendMessage(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		ExchangeResult: res,
		Response:       res.AssistantMessage.Content,
		Warnings:       res.WarningMessages(),
	})
}

// ============================================================================
// CONVERSATIONS
// ============================================================================

// ConversationList is the body of GET /chat/conversations/{user_id}.
type ConversationList struct {
	UserID        string                        `json:"user_id"`
	Conversations []storage.ConversationSummary `json:"conversations"`
	Limit         int                           `json:"limit"`
	Offset        int                           `json:"offset"`
	Count         int                           `json:"count"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	limit, err := intParam(r, "limit", DefaultListLimit)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if limit == 0 || limit > storage.MaxListLimit {
		badRequest(w, "limit must be between 1 and %d", storage.MaxListLimit)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	convs, err := s.deps.Orchestrator.ListConversations(r.Context(), userID, limit, offset)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if convs == nil {
		convs = []storage.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, ConversationList{
		UserID:        userID,
		Conversations: convs,
		Limit:         limit,
		Offset:        offset,
		Count:         len(convs),
	})
}

// requireUser reads the mandatory ?user_id= parameter.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		badRequest(w, "user_id query parameter is required")
		return "", false
	}
	return userID, true
}

func (s *Server) handleConversationDetail(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conv, err := s.deps.Orchestrator.GetConversation(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Orchestrator.DeleteConversation(r.Context(), userID, id); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": id,
		"deleted":         true,
	})
}

// ============================================================================
// PROVIDERS, PROMPTS AND TEMPLATES
// ============================================================================

// ProviderList is the body of GET /chat/providers.
type ProviderList struct {
	Providers []provider.Descriptor `json:"providers"`
	Priority  []string              `json:"priority"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProviderList{
		Providers: s.deps.Orchestrator.Providers(),
		Priority:  s.deps.Orchestrator.Priority(),
	})
}

func (s *Server) handleValidatePrompt(w http.ResponseWriter, r *http.Request) {
	var req prompt.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TemplateID == "" && strings.TrimSpace(req.Content) == "" {
		badRequest(w, "either template_id or content is required")
		return
	}

	res, err := prompt.Validate(req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	category := prompt.Category(strings.ToLower(r.URL.Query().Get("category")))
	if category != "" && !prompt.ValidCategory(category) {
		badRequest(w, "unknown category %q", category)
		return
	}
	templates := prompt.ByCategory(category)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates":  templates,
		"categories": prompt.Categories,
		"count":      len(templates),
	})
}
