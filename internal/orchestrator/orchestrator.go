// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/reconcile"
	"github.com/jeranaias/promptlab/internal/sentiment"
	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Defaults applied by New for zero Options fields.
const (
	DefaultProviderTimeout = 30 * time.Second
	DefaultPersistTimeout  = 10 * time.Second
	DefaultHistoryMessages = 10
	DefaultMaxTokens       = 2048
	DefaultTemperature     = 0.7
	DefaultTitleRunes      = 50
)

// DefaultTitle is used when a new conversation's text has no printable
// content for a title.
const DefaultTitle = "New conversation"

// Options configure an Orchestrator. The value is copied by New and never
// modified afterwards.
type Options struct {
	// Priority orders providers by name. Configured providers not named here
	// follow in configuration order. Empty means provider.DefaultPriority.
	Priority []string

	ProviderTimeout time.Duration

	// ProviderTimeouts overrides ProviderTimeout per provider name.
	ProviderTimeouts map[string]time.Duration

	PersistTimeout  time.Duration
	HistoryMessages int
	MaxTokens       int
	Temperature     float64
	SystemPrompt    string
	TitleRunes      int
}

func (o Options) withDefaults() Options {
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = DefaultProviderTimeout
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = DefaultPersistTimeout
	}
	if o.HistoryMessages <= 0 {
		o.HistoryMessages = DefaultHistoryMessages
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature <= 0 {
		o.Temperature = DefaultTemperature
	}
	if o.TitleRunes <= 0 {
		o.TitleRunes = DefaultTitleRunes
	}
	if len(o.Priority) == 0 {
		o.Priority = provider.DefaultPriority
	}
	timeouts := make(map[string]time.Duration, len(o.ProviderTimeouts))
	for name, d := range o.ProviderTimeouts {
		if d > 0 {
			timeouts[provider.NormalizeName(name)] = d
		}
	}
	o.ProviderTimeouts = timeouts
	o.Priority = append([]string(nil), o.Priority...)
	return o
}

// Reconciler accepts writes that failed after a provider answered and
// replays them. *reconcile.Runner implements it.
type Reconciler interface {
	Enqueue(job *reconcile.Job) error

	// Settle replays a conversation's pending writes; the caller holds the
	// conversation's lock.
	Settle(ctx context.Context, conversationID string) error

	// Locks is the per-conversation lock the replayer also takes.
	Locks() *reconcile.Locks
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs exchanges: provider fallback, sentiment analysis and
// persistence of the result.
type Orchestrator struct {
	opts      Options
	providers map[string]provider.Client
	order     []string

	analyzer sentiment.Analyzer
	convs    storage.ConversationStore
	metrics  telemetry.MetricsStore
	queue    Reconciler

	locks *reconcile.Locks
	now   func() time.Time
}

// New builds an Orchestrator. It fails with a *ConfigurationError when no
// providers are given, names repeat, or a store is missing. A nil analyzer
// disables sentiment; a nil queue drops failed writes after logging them.
func New(opts Options, providers []provider.Client, analyzer sentiment.Analyzer,
	convs storage.ConversationStore, metrics telemetry.MetricsStore, queue Reconciler) (*Orchestrator, error) {

	if len(providers) == 0 {
		return nil, &ConfigurationError{Reason: "no providers configured"}
	}
	if convs == nil || metrics == nil {
		return nil, &ConfigurationError{Reason: "conversation and metrics stores are required"}
	}

	opts = opts.withDefaults()
	byName := make(map[string]provider.Client, len(providers))
	var configured []string
	for _, c := range providers {
		if c == nil {
			return nil, &ConfigurationError{Reason: "nil provider"}
		}
		name := provider.NormalizeName(c.Descriptor().Name)
		if name == "" {
			return nil, &ConfigurationError{Reason: "provider with empty name"}
		}
		if _, dup := byName[name]; dup {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("duplicate provider %q", name)}
		}
		byName[name] = c
		configured = append(configured, name)
	}

	o := &Orchestrator{
		opts:      opts,
		providers: byName,
		order:     priorityOrder(opts.Priority, configured),
		analyzer:  analyzer,
		convs:     convs,
		metrics:   metrics,
		queue:     queue,
		locks:     reconcile.NewLocks(),
		now:       time.Now,
	}
	if queue != nil && queue.Locks() != nil {
		o.locks = queue.Locks()
	}
	log.Printf("ORCHESTRATOR_READY | providers=%s", strings.Join(o.order, ","))
	return o, nil
}

// priorityOrder lists configured names in priority order, then the rest in
// configuration order.
func priorityOrder(priority, configured []string) []string {
	known := make(map[string]bool, len(configured))
	for _, name := range configured {
		known[name] = true
	}

	order := make([]string, 0, len(configured))
	seen := make(map[string]bool, len(configured))
	for _, name := range priority {
		name = provider.NormalizeName(name)
		if !known[name] {
			if name != "" && !seen[name] {
				log.Printf("PRIORITY_SKIPPED | provider=%s reason=not_configured", name)
			}
			seen[name] = true
			continue
		}
		if !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	for _, name := range configured {
		if !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	return order
}

// Priority returns provider names in fallback order.
func (o *Orchestrator) Priority() []string {
	return append([]string(nil), o.order...)
}

// Providers returns descriptors in fallback order.
func (o *Orchestrator) Providers() []provider.Descriptor {
	out := make([]provider.Descriptor, len(o.order))
	for i, name := range o.order {
		out[i] = o.providers[name].Descriptor()
	}
	return out
}

// candidates returns the attempt order for one exchange.
func (o *Orchestrator) candidates(preferred string) []string {
	preferred = provider.NormalizeName(preferred)
	if preferred == "" {
		return o.order
	}
	if _, ok := o.providers[preferred]; !ok {
		log.Printf("PREFERRED_PROVIDER_UNKNOWN | provider=%s", preferred)
		return o.order
	}

	out := make([]string, 0, len(o.order))
	out = append(out, preferred)
	for _, name := range o.order {
		if name != preferred {
			out = append(out, name)
		}
	}
	return out
}

func (o *Orchestrator) timeoutFor(name string) time.Duration {
	if d, ok := o.opts.ProviderTimeouts[name]; ok {
		return d
	}
	return o.opts.ProviderTimeout
}

// =============================================================================
// CONVERSATION ACCESS
// =============================================================================

// GetConversation loads a conversation owned by userID.
func (o *Orchestrator) GetConversation(ctx context.Context, userID, conversationID string) (*storage.Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	conv, err := o.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// ListConversations lists userID's conversations, most recent first.
func (o *Orchestrator) ListConversations(ctx context.Context, userID string, limit, offset int) ([]storage.ConversationSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	return o.convs.ListByUser(ctx, userID, limit, offset)
}

// DeleteConversation removes a conversation owned by userID together with
// its exchange records. It waits for an in-flight exchange on the same
// conversation to finish.
func (o *Orchestrator) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	release, err := o.locks.Acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := o.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := o.convs.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	if err := o.metrics.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete records of %s: %w", conversationID, err)
	}
	log.Printf("CONVERSATION_DELETED | conversation=%s user=%s", conversationID, userID)
	return nil
}
