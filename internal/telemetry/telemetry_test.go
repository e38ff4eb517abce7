// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptlab/internal/sentiment"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testRecord(id, conv, user string, at time.Time) ExchangeRecord {
	return ExchangeRecord{
		ID:             id,
		ConversationID: conv,
		UserID:         user,
		Provider:       "groq",
		Model:          "llama-3.1-8b-instant",
		LatencyMs:      120,
		TokensInput:    10,
		TokensOutput:   20,
		Tokens:         30,
		CostUSD:        decimal.RequireFromString("0.000012"),
		Timestamp:      at,
	}
}

func TestExchangeRecordValidate(t *testing.T) {
	good := testRecord("r1", "c1", "u1", baseTime)
	if err := good.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *ExchangeRecord)
	}{
		{"missing id", func(r *ExchangeRecord) { r.ID = "" }},
		{"missing user", func(r *ExchangeRecord) { r.UserID = "" }},
		{"missing provider", func(r *ExchangeRecord) { r.Provider = "" }},
		{"negative latency", func(r *ExchangeRecord) { r.LatencyMs = -1 }},
		{"token sum mismatch", func(r *ExchangeRecord) { r.Tokens = 31 }},
		{"negative cost", func(r *ExchangeRecord) { r.CostUSD = decimal.NewFromFloat(-0.1) }},
		{"zero timestamp", func(r *ExchangeRecord) { r.Timestamp = time.Time{} }},
		{"bad sentiment", func(r *ExchangeRecord) {
			r.Sentiment = &sentiment.Result{Label: sentiment.Positive, Polarity: 2}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRecord("r1", "c1", "u1", baseTime)
			tt.mutate(&r)
			if err := r.Validate(); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Validate() = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestScope(t *testing.T) {
	r := testRecord("r1", "c1", "u1", baseTime)

	tests := []struct {
		scope Scope
		want  bool
	}{
		{UserScope("u1"), true},
		{UserScope("u2"), false},
		{ConversationScope("c1"), true},
		{ConversationScope("c2"), false},
		{GlobalScope(), true},
	}
	for _, tt := range tests {
		if got := tt.scope.Matches(&r); got != tt.want {
			t.Errorf("%s.Matches() = %v, want %v", tt.scope, got, tt.want)
		}
	}

	if err := (Scope{Kind: ScopeKindUser}).Validate(); err == nil {
		t.Error("user scope without id should be invalid")
	}
	if err := (Scope{Kind: "team", ID: "x"}).Validate(); err == nil {
		t.Error("unknown scope kind should be invalid")
	}
	if err := GlobalScope().Validate(); err != nil {
		t.Errorf("global scope invalid: %v", err)
	}
}

func TestMemoryStoreAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := testRecord("r1", "c1", "u1", baseTime)

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	r := testRecord("", "c1", "u1", baseTime)
	if err := s.Append(context.Background(), r); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Append() = %v, want ErrInvalidRecord", err)
	}
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	recs := []ExchangeRecord{
		testRecord("r3", "c2", "u2", baseTime.Add(2*time.Hour)),
		testRecord("r1", "c1", "u1", baseTime),
		testRecord("r2", "c1", "u1", baseTime.Add(time.Hour)),
		testRecord("r0", "c1", "u1", baseTime.AddDate(0, 0, -40)),
	}
	for _, r := range recs {
		if err := s.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Query(ctx, UserScope("u1"), baseTime.AddDate(0, 0, -30))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "r1" || got[1].ID != "r2" {
		t.Errorf("user query = %v, want [r1 r2]", ids(got))
	}

	got, _ = s.Query(ctx, GlobalScope(), time.Time{})
	if len(got) != 4 || got[0].ID != "r0" || got[3].ID != "r3" {
		t.Errorf("global query = %v, want oldest first", ids(got))
	}

	got, _ = s.Query(ctx, ConversationScope("c2"), time.Time{})
	if len(got) != 1 || got[0].ID != "r3" {
		t.Errorf("conversation query = %v, want [r3]", ids(got))
	}
}

func TestMemoryStoreQueryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := testRecord("r1", "c1", "u1", baseTime)
	res := sentiment.NewResult(0.5, 0.5)
	r.Sentiment = &res
	if err := s.Append(ctx, r); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Query(ctx, GlobalScope(), time.Time{})
	got[0].Sentiment.Polarity = -1
	got[0].Provider = "mutated"

	again, _ := s.Query(ctx, GlobalScope(), time.Time{})
	if again[0].Sentiment.Polarity != 0.5 || again[0].Provider != "groq" {
		t.Error("store contents changed through a query result")
	}
}

func TestMemoryStorePruneAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i, at := range []time.Time{baseTime.AddDate(0, 0, -100), baseTime.AddDate(0, 0, -10), baseTime} {
		conv := "c1"
		if i == 2 {
			conv = "c2"
		}
		if err := s.Append(ctx, testRecord(string(rune('a'+i)), conv, "u1", at)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Prune(ctx, baseTime.AddDate(0, 0, -90))
	if err != nil || n != 1 {
		t.Fatalf("Prune() = %d, %v; want 1, nil", n, err)
	}

	// A pruned ID may be appended again.
	if err := s.Append(ctx, testRecord("a", "c1", "u1", baseTime)); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}

	if err := s.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Query(ctx, GlobalScope(), time.Time{})
	if len(got) != 1 || got[0].ConversationID != "c2" {
		t.Errorf("after delete = %v, want only c2", ids(got))
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	if err := s.Append(ctx, testRecord("r1", "c1", "u1", baseTime)); !errors.Is(err, context.Canceled) {
		t.Errorf("Append() = %v, want context.Canceled", err)
	}
	if _, err := s.Query(ctx, GlobalScope(), time.Time{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Query() = %v, want context.Canceled", err)
	}
}

func TestSweeper(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Append(ctx, testRecord("old", "c1", "u1", baseTime.AddDate(0, 0, -91)))
	s.Append(ctx, testRecord("new", "c1", "u1", baseTime.AddDate(0, 0, -89)))

	sw := NewSweeper(s, 90, time.Minute)
	sw.now = func() time.Time { return baseTime }

	n, err := sw.SweepOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SweepOnce() = %d, %v; want 1, nil", n, err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestSweeperDisabled(t *testing.T) {
	s := NewMemoryStore()
	s.Append(context.Background(), testRecord("old", "c1", "u1", baseTime.AddDate(-5, 0, 0)))

	sw := NewSweeper(s, 0, 0)
	if sw.Enabled() {
		t.Fatal("sweeper with zero retention should be disabled")
	}
	sw.Start(context.Background())
	sw.Stop()
	if n, _ := sw.SweepOnce(context.Background()); n != 0 || s.Len() != 1 {
		t.Error("disabled sweeper removed records")
	}
}

func TestSweeperStartStop(t *testing.T) {
	s := NewMemoryStore()
	s.Append(context.Background(), testRecord("old", "c1", "u1", time.Now().AddDate(0, 0, -10)))

	sw := NewSweeper(s, 1, 10*time.Millisecond)
	sw.Start(context.Background())
	sw.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sw.Stop()
	sw.Stop()

	if s.Len() != 0 {
		t.Error("sweeper loop did not prune the expired record")
	}
}

func ids(recs []ExchangeRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
