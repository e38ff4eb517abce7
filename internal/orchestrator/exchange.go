// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/reconcile"
	"github.com/jeranaias/promptlab/internal/sentiment"
	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
	"github.com/jeranaias/promptlab/internal/util"
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// Request is one user message to send.
type Request struct {
	UserID            string `json:"user_id"`
	Text              string `json:"message"`
	ConversationID    string `json:"conversation_id,omitempty"`
	PreferredProvider string `json:"preferred_provider,omitempty"`
}

// ExchangeResult is a successful exchange. Warnings hold non-fatal problems:
// ErrAnalysisDegraded and at most one *PersistenceError.
type ExchangeResult struct {
	ConversationID   string                   `json:"conversation_id"`
	NewConversation  bool                     `json:"new_conversation"`
	UserMessage      storage.Message          `json:"user_message"`
	AssistantMessage storage.Message          `json:"assistant_message"`
	Record           telemetry.ExchangeRecord `json:"record"`
	Attempts         []AttemptError           `json:"failed_attempts,omitempty"`
	Warnings         []error                  `json:"-"`
}

// PersistenceWarning returns the persistence failure, if any.
func (r *ExchangeResult) PersistenceWarning() *PersistenceError {
	for _, w := range r.Warnings {
		var pe *PersistenceError
		if errors.As(w, &pe) {
			return pe
		}
	}
	return nil
}

// WarningMessages renders Warnings as strings.
func (r *ExchangeResult) WarningMessages() []string {
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.Error()
	}
	return out
}

func (r Request) validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidRequest)
	}
	if n := util.RuneLen(r.Text); n > storage.MaxMessageRunes {
		return fmt.Errorf("%w: message is %d characters, limit %d", ErrInvalidRequest, n, storage.MaxMessageRunes)
	}
	return nil
}

// =============================================================================
// SEND MESSAGE
// =============================================================================

// SendMessage runs one exchange: providers are tried in order until one
// answers, then the user message, the reply and an ExchangeRecord are
// persisted. Exchanges on the same conversation are serialized.
//
// Pending reconciliation writes of the conversation are replayed first; if
// they still fail the exchange is refused with ErrPendingWrites before any
// provider is called. If every provider fails nothing is persisted and the
// error matches ErrAllProvidersExhausted. Once a provider has answered, the
// exchange is reported as a success even if persistence fails or the caller
// cancels.
func (o *Orchestrator) SendMessage(ctx context.Context, req Request) (*ExchangeResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	convID := req.ConversationID
	isNew := convID == ""
	if isNew {
		convID = storage.NewConversationID()
	}

	release, err := o.locks.Acquire(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("wait for conversation %s: %w", convID, err)
	}
	defer release()

	var history []storage.Message
	if !isNew {
		// Earlier writes that did not land go first, or the new messages
		// would overtake them.
		if o.queue != nil {
			if err := o.queue.Settle(ctx, convID); err != nil {
				log.Printf("EXCHANGE_REFUSED | conversation=%s reason=pending_writes error=%v", convID, err)
				return nil, fmt.Errorf("%w: conversation %s: %w", ErrPendingWrites, convID, err)
			}
		}
		conv, err := o.GetConversation(ctx, req.UserID, convID)
		if err != nil {
			return nil, err
		}
		history = conv.Messages
	}

	received := o.now()
	preq := o.buildRequest(req.Text, history)

	reply, name, attempts, err := o.attempt(ctx, req.PreferredProvider, preq)
	if err != nil {
		return nil, err
	}
	answered := o.now()
	latency := answered.Sub(received).Milliseconds()
	if latency < 0 {
		latency = 0
	}

	// The provider has answered; nothing below may be cut short by the caller.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.PersistTimeout)
	defer cancel()

	result := &ExchangeResult{
		ConversationID:  convID,
		NewConversation: isNew,
		Attempts:        attempts,
	}

	mood, warn := o.analyze(persistCtx, reply.Text, convID)
	if warn != nil {
		result.Warnings = append(result.Warnings, warn)
	}

	cost := reply.CostUSD
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	tokensIn, tokensOut := nonNegative(reply.TokensInput), nonNegative(reply.TokensOutput)
	model := reply.Model
	if model == "" {
		model = o.providers[name].Descriptor().Model
	}

	result.UserMessage = storage.NewMessage(storage.RoleUser, req.Text, received)
	result.AssistantMessage = storage.NewMessage(storage.RoleAssistant, reply.Text, answered)
	result.AssistantMessage.Metadata = map[string]any{
		"provider":         name,
		"model":            model,
		"response_time_ms": latency,
		"tokens_used":      tokensIn + tokensOut,
		"tokens_input":     tokensIn,
		"tokens_output":    tokensOut,
		"cost_usd":         cost.String(),
	}
	if mood != nil {
		result.AssistantMessage.Metadata["sentiment"] = sentimentMetadata(*mood)
	}

	result.Record = telemetry.ExchangeRecord{
		ID:             telemetry.NewRecordID(),
		ConversationID: convID,
		UserID:         req.UserID,
		Provider:       name,
		Model:          model,
		LatencyMs:      latency,
		TokensInput:    tokensIn,
		TokensOutput:   tokensOut,
		Tokens:         tokensIn + tokensOut,
		CostUSD:        cost,
		Sentiment:      mood,
		Timestamp:      answered,
	}

	var conv *storage.Conversation
	if isNew {
		conv = &storage.Conversation{
			ID:        convID,
			UserID:    req.UserID,
			Title:     util.Title(req.Text, o.opts.TitleRunes, DefaultTitle),
			CreatedAt: received,
			UpdatedAt: received,
		}
	}
	if perr := o.persist(persistCtx, req.UserID, conv, result); perr != nil {
		result.Warnings = append(result.Warnings, perr)
	}

	log.Printf("EXCHANGE_COMPLETE | conversation=%s user=%s provider=%s latency_ms=%d tokens=%d cost=%s fallbacks=%d warnings=%d",
		convID, req.UserID, name, latency, result.Record.Tokens, cost.StringFixed(6), len(attempts), len(result.Warnings))
	return result, nil
}

// buildRequest assembles the provider request from recent history.
func (o *Orchestrator) buildRequest(text string, history []storage.Message) provider.Request {
	if n := len(history); n > o.opts.HistoryMessages {
		history = history[n-o.opts.HistoryMessages:]
	}
	msgs := make([]provider.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, provider.Message{Role: m.Role, Content: m.Content})
	}
	return provider.Request{
		Prompt:      text,
		History:     msgs,
		System:      o.opts.SystemPrompt,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
	}
}

// attempt tries candidates in order and returns the first reply.
func (o *Orchestrator) attempt(ctx context.Context, preferred string, req provider.Request) (*provider.Reply, string, []AttemptError, error) {
	var failed []AttemptError

	for _, name := range o.candidates(preferred) {
		client := o.providers[name]
		start := o.now()

		actx, cancel := context.WithTimeout(ctx, o.timeoutFor(name))
		reply, err := client.Generate(actx, req)
		cancel()

		if err == nil && (reply == nil || strings.TrimSpace(reply.Text) == "") {
			err = &provider.Error{Provider: name, Kind: provider.KindUnavailable, Message: "empty response", Err: provider.ErrEmptyResponse}
		}
		if err == nil {
			return reply, name, failed, nil
		}

		if ctx.Err() != nil {
			log.Printf("EXCHANGE_CANCELLED | provider=%s error=%v", name, ctx.Err())
			return nil, "", failed, fmt.Errorf("send message: %w", ctx.Err())
		}

		ae := AttemptError{
			Provider: name,
			Kind:     provider.KindOf(err),
			Message:  err.Error(),
			Duration: o.now().Sub(start),
			Err:      err,
		}
		failed = append(failed, ae)
		log.Printf("PROVIDER_FALLBACK | provider=%s kind=%s duration_ms=%d error=%v",
			name, ae.Kind, ae.Duration.Milliseconds(), err)
	}

	log.Printf("PROVIDER_EXHAUSTED | attempts=%d", len(failed))
	return nil, "", nil, &ExhaustedError{Attempts: failed}
}

// analyze runs sentiment analysis. A failure yields nil and a warning.
func (o *Orchestrator) analyze(ctx context.Context, text, convID string) (*sentiment.Result, error) {
	if o.analyzer == nil {
		return nil, nil
	}
	res, err := o.analyzer.Analyze(ctx, text)
	if err == nil {
		err = res.Validate()
	}
	if err != nil {
		log.Printf("ANALYSIS_DEGRADED | conversation=%s error=%v", convID, err)
		return nil, fmt.Errorf("%w: %v", ErrAnalysisDegraded, err)
	}
	return &res, nil
}

// persist writes the exchange. On the first failing write, that write and
// everything after it are queued for reconciliation.
func (o *Orchestrator) persist(ctx context.Context, userID string, conv *storage.Conversation, r *ExchangeResult) error {
	steps := []reconcile.Step{reconcile.StepUserMessage, reconcile.StepAssistantMessage, reconcile.StepRecord}
	if conv != nil {
		steps = append([]reconcile.Step{reconcile.StepCreateConversation}, steps...)
	}

	for i, step := range steps {
		var err error
		switch step {
		case reconcile.StepCreateConversation:
			_, err = o.convs.Create(ctx, conv.Clone())
		case reconcile.StepUserMessage:
			err = o.convs.AppendMessage(ctx, r.ConversationID, r.UserMessage)
		case reconcile.StepAssistantMessage:
			err = o.convs.AppendMessage(ctx, r.ConversationID, r.AssistantMessage)
		case reconcile.StepRecord:
			err = o.metrics.Append(ctx, r.Record)
		}
		if err == nil {
			continue
		}

		job := reconcile.NewJob(r.ConversationID, userID, steps[i:])
		job.Conversation = conv
		job.UserMessage = &r.UserMessage
		job.AssistantMessage = &r.AssistantMessage
		job.Record = &r.Record

		perr := &PersistenceError{Stage: step, Err: err}
		if o.queue != nil {
			if qerr := o.queue.Enqueue(job); qerr != nil {
				log.Printf("RECONCILE_ENQUEUE_FAILED | conversation=%s error=%v", r.ConversationID, qerr)
			} else {
				perr.JobID = job.ID
			}
		}
		log.Printf("PERSISTENCE_FAILURE | conversation=%s stage=%s job=%s error=%v",
			r.ConversationID, step, perr.JobID, err)
		return perr
	}
	return nil
}

func sentimentMetadata(r sentiment.Result) map[string]any {
	return map[string]any{
		"label":        string(r.Label),
		"polarity":     r.Polarity,
		"subjectivity": r.Subjectivity,
		"confidence":   r.Confidence,
	}
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
