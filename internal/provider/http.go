// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	// MaxResponseSize caps how much of a vendor response body is read.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "promptlab/1.0"
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Shared across the REST adapters. No client timeout: every call is bounded
// by the per-attempt context.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	},
}

// postJSON sends body as JSON and decodes a 2xx response into out. Non-2xx
// responses are returned as *Error with the vendor message extracted by
// errMessage. Headers are never logged.
func postJSON(ctx context.Context, client *http.Client, name, url string, headers map[string]string,
	body any, out any, errMessage func([]byte) string) error {

	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Provider: name, Kind: KindInvalidRequest, Message: "failed to marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &Error{Provider: name, Kind: KindInvalidRequest, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return Wrap(name, err)
	}
	defer resp.Body.Close()
	log.Printf("PROVIDER_HTTP | provider=%s status=%d duration_ms=%d", name, resp.StatusCode, time.Since(start).Milliseconds())

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return Wrap(name, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		if errMessage != nil {
			msg = errMessage(data)
		}
		if msg == "" {
			msg = strings.TrimSpace(string(truncateBytes(data, 200)))
		}
		return statusError(name, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Provider: name, Kind: KindUnavailable, Status: resp.StatusCode,
			Message: "failed to decode response", Err: err}
	}
	return nil
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
