// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/reconcile"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// probeTimeout bounds each /status probe.
const probeTimeout = 2 * time.Second

// pinger is implemented by stores that can check their backend.
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().UTC(),
	})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status         string                `json:"status"`
	Version        string                `json:"version"`
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	Storage        string                `json:"storage"`
	Metrics        string                `json:"metrics"`
	Exchanges24h   int                   `json:"exchanges_24h"`
	Providers      []provider.Descriptor `json:"providers"`
	Priority       []string              `json:"priority"`
	Reconciliation ReconciliationStatus  `json:"reconciliation"`
}

// ReconciliationStatus reports the persistence repair queue.
type ReconciliationStatus struct {
	Backlog int                      `json:"backlog"`
	Jobs    map[reconcile.Status]int `json:"jobs"`
}

// handleStatus probes both stores concurrently. A failed probe degrades the
// status but still answers 200 so operators can read the details.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Storage:       "ok",
		Metrics:       "ok",
		Providers:     s.deps.Orchestrator.Providers(),
		Priority:      s.deps.Orchestrator.Priority(),
		Reconciliation: ReconciliationStatus{
			Jobs: map[reconcile.Status]int{},
		},
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	// Probes record their own failure; the group is only for fan-out.
	var g errgroup.Group
	g.Go(func() error {
		p, ok := s.deps.Conversations.(pinger)
		if !ok {
			return nil
		}
		if err := p.Ping(ctx); err != nil {
			log.Printf("STATUS_PROBE_FAILED | probe=storage error=%v", err)
			resp.Storage = "unavailable"
		}
		return nil
	})
	g.Go(func() error {
		recs, err := s.deps.Metrics.Query(ctx, telemetry.GlobalScope(), time.Now().Add(-24*time.Hour))
		if err != nil {
			log.Printf("STATUS_PROBE_FAILED | probe=metrics error=%v", err)
			resp.Metrics = "unavailable"
			return nil
		}
		resp.Exchanges24h = len(recs)
		return nil
	})
	_ = g.Wait()

	if q := s.deps.Queue; q != nil {
		resp.Reconciliation.Backlog = q.Backlog()
		resp.Reconciliation.Jobs = q.Stats()
	}
	if resp.Storage != "ok" || resp.Metrics != "ok" {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}
