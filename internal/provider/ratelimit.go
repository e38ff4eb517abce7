// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// RATE-LIMITED CLIENT
// ============================================================================

// limitedClient rejects calls locally with KindRateLimited once the
// descriptor's published limits are used up.
type limitedClient struct {
	inner    Client
	requests *rate.Limiter // nil when unlimited
	tokens   *rate.Limiter // nil when unlimited
	now      func() time.Time
}

// WithRateLimit wraps c with request-per-minute and token-per-minute limiters
// taken from its descriptor. A descriptor with no limits returns c as is.
func WithRateLimit(c Client) Client {
	limits := c.Descriptor().RateLimits
	if limits.RequestsPerMinute <= 0 && limits.TokensPerMinute <= 0 {
		return c
	}
	lc := &limitedClient{inner: c, now: time.Now}
	if limits.RequestsPerMinute > 0 {
		lc.requests = rate.NewLimiter(perMinute(limits.RequestsPerMinute), limits.RequestsPerMinute)
	}
	if limits.TokensPerMinute > 0 {
		lc.tokens = rate.NewLimiter(perMinute(limits.TokensPerMinute), limits.TokensPerMinute)
	}
	return lc
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// Generate implements Client.
func (c *limitedClient) Generate(ctx context.Context, req Request) (*Reply, error) {
	name := c.inner.Descriptor().Name
	now := c.now()

	if c.requests != nil && !c.requests.AllowN(now, 1) {
		return nil, &Error{Provider: name, Kind: KindRateLimited, Message: "local request limit reached"}
	}
	if c.tokens != nil {
		n := req.EstimatedInputTokens()
		if burst := c.tokens.Burst(); n > burst {
			n = burst
		}
		if n > 0 && !c.tokens.AllowN(now, n) {
			return nil, &Error{Provider: name, Kind: KindRateLimited,
				Message: fmt.Sprintf("local token limit reached (%d tokens requested)", n)}
		}
	}

	reply, err := c.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	// Charge completion tokens after the fact; the next call pays for them.
	if c.tokens != nil && reply.TokensOutput > 0 {
		out := reply.TokensOutput
		if burst := c.tokens.Burst(); out > burst {
			out = burst
		}
		c.tokens.ReserveN(c.now(), out)
	}
	return reply, nil
}

// Descriptor implements Client.
func (c *limitedClient) Descriptor() Descriptor {
	return c.inner.Descriptor()
}
