// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jeranaias/promptlab/internal/server"
)

// ShutdownTimeout bounds the graceful shutdown of the HTTP server.
const ShutdownTimeout = 15 * time.Second

// HandleServe runs the HTTP API until SIGINT or SIGTERM.
//
//	promptlab serve
//	promptlab serve --host 0.0.0.0 --port 9000
func HandleServe(args Args) error {
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

	sc := app.Config.Server
	if host := p.Flag("host"); host != "" {
		sc.Host = host
	}
	if port := p.Flag("port"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return NewValidationErrorWithExample("port", port, "must be 1-65535", "--port 8000")
		}
		sc.Port = n
	}

	server.Version = Version
	srv, err := server.New(server.Options{
		Addr:              sc.Addr(),
		APIPrefix:         sc.APIPrefix,
		CORSOrigins:       sc.CORSOrigins,
		ReadTimeout:       time.Duration(sc.ReadTimeoutSecs) * time.Second,
		WriteTimeout:      time.Duration(sc.WriteTimeoutSecs) * time.Second,
		RateLimitRequests: sc.RateLimitRequests,
		RateLimitWindow:   sc.RateLimitWindow(),
	}, server.Deps{
		Orchestrator:  orch,
		Aggregator:    app.Aggregator,
		Conversations: app.Convs,
		Metrics:       app.Metrics,
		Queue:         app.Queue,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	app.StartWorkers(ctx)

	// The server logs even without --verbose.
	if !args.Verbose {
		log.SetOutput(os.Stderr)
	}
	if !args.Quiet {
		fmt.Fprintf(os.Stderr, "%s listening on http://%s%s\n",
			SuccessStyle.Render("promptlab"), sc.Addr(), sc.APIPrefix)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return NewCommandError("serve", "listen", sc.Addr(), err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return NewCommandError("serve", "shutdown", "graceful shutdown failed", err)
	}
	<-errCh
	log.Printf("SERVER_STOPPED | backlog=%d", app.Queue.Backlog())
	return nil
}
