// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/promptlab/internal/analytics"
	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
	"github.com/jeranaias/promptlab/internal/util"
)

// =============================================================================
// FORMATS
// =============================================================================

// Format is an output encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// ErrUnsupportedFormat is returned for unknown format names.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat maps a name to a Format. Empty means JSON.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// =============================================================================
// EXPORTER INTERFACE
// =============================================================================

// Exporter renders reports and user exports in one format.
type Exporter interface {
	// Report renders an analytics report.
	Report(rep *analytics.Report) ([]byte, error)

	// User renders a user's raw data.
	User(data *UserData) ([]byte, error)

	// FileExtension returns the file extension, e.g. ".csv".
	FileExtension() string

	// MimeType returns the content type for HTTP responses.
	MimeType() string
}

// Options configures exporters.
type Options struct {
	// IncludeMetadata adds front matter and generator lines (Markdown).
	IncludeMetadata bool

	// IncludeMessages includes message bodies in user exports (Markdown, CSV).
	IncludeMessages bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata: true,
		IncludeMessages: true,
	}
}

// New returns the exporter for f.
func New(f Format, opts *Options) (Exporter, error) {
	switch f {
	case FormatJSON:
		return NewJSONExporter(opts), nil
	case FormatCSV:
		return NewCSVExporter(opts), nil
	case FormatMarkdown:
		return NewMarkdownExporter(opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}

// =============================================================================
// USER DATA
// =============================================================================

// UserData is everything stored for one user within a window.
type UserData struct {
	UserID        string                     `json:"user_id"`
	ExportedAt    time.Time                  `json:"exported_at"`
	PeriodDays    int                        `json:"period_days"`
	Summary       *analytics.Summary         `json:"summary"`
	Conversations []*storage.Conversation    `json:"conversations"`
	Records       []telemetry.ExchangeRecord `json:"records"`
}

// Sources are the stores CollectUser reads from.
type Sources struct {
	Conversations storage.ConversationStore
	Metrics       telemetry.MetricsStore
	Aggregator    *analytics.Aggregator
}

// CollectUser gathers userID's conversations, the exchange records of the
// last days days and their summary. The three loads run concurrently.
func CollectUser(ctx context.Context, src Sources, userID string, days int) (*UserData, error) {
	if userID == "" {
		return nil, errors.New("export: missing user id")
	}

	data := &UserData{UserID: userID, ExportedAt: time.Now().UTC()}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s, err := src.Aggregator.Summarize(gctx, telemetry.UserScope(userID), days)
		if err != nil {
			return err
		}
		data.Summary = s
		return nil
	})
	g.Go(func() error {
		convs, err := allConversations(gctx, src.Conversations, userID)
		if err != nil {
			return err
		}
		data.Conversations = convs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect %s: %w", userID, err)
	}

	// Records follow the summary window so both describe the same period.
	recs, err := src.Metrics.Query(ctx, telemetry.UserScope(userID), data.Summary.From)
	if err != nil {
		return nil, fmt.Errorf("collect %s records: %w", userID, err)
	}
	data.Records = recs
	data.PeriodDays = data.Summary.WindowDays
	return data, nil
}

func allConversations(ctx context.Context, store storage.ConversationStore, userID string) ([]*storage.Conversation, error) {
	out := []*storage.Conversation{}
	for offset := 0; ; offset += storage.MaxListLimit {
		page, err := store.ListByUser(ctx, userID, storage.MaxListLimit, offset)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		for _, s := range page {
			conv, err := store.Get(ctx, s.ID)
			if errors.Is(err, storage.ErrNotFound) {
				continue // deleted between list and get
			}
			if err != nil {
				return nil, fmt.Errorf("load conversation %s: %w", s.ID, err)
			}
			out = append(out, conv)
		}
		if len(page) < storage.MaxListLimit {
			return out, nil
		}
	}
}

// =============================================================================
// FILE OUTPUT
// =============================================================================

// WriteFile writes content into dir as <prefix>_<name><ext> and returns the
// path. The file is written atomically.
func WriteFile(dir, prefix, name string, content []byte, exporter Exporter) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s%s", prefix, sanitizeFilename(name), exporter.FileExtension())
	path := filepath.Join(dir, filename)
	if err := util.AtomicWriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("save export: %w", err)
	}
	return path, nil
}

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	replacer := map[rune]rune{
		'/':  '-',
		'\\': '-',
		':':  '-',
		'*':  '-',
		'?':  '-',
		'"':  '-',
		'<':  '-',
		'>':  '-',
		'|':  '-',
		' ':  '_',
		'\t': '_',
		'\n': '_',
		'\r': '_',
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		if replacement, found := replacer[r]; found {
			result = append(result, replacement)
		} else if r < 32 || r == 127 {
			result = append(result, '-')
		} else {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "export"
	}
	return string(result)
}

// OpenFile opens a file in the default application for the OS.
func OpenFile(path string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", `""`, path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatDuration formats a duration in milliseconds to a human-readable string.
func formatDuration(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	seconds := ms / 1000.0
	if seconds < 60 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	minutes := int(seconds / 60)
	remainingSeconds := int(seconds) % 60
	return fmt.Sprintf("%dm %ds", minutes, remainingSeconds)
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func derefString(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
