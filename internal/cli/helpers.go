// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// formatDurationShort formats a short duration string.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}

// formatNumber adds thousands separators.
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// outputJSON outputs data as JSON.
func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// promptInput prompts the user for input.
func promptInput(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

// readStdin reads a piped message, capped at limit bytes. It returns "" when
// stdin is a terminal.
func readStdin(limit int64) (string, error) {
	if IsTTY() {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// getCurrentUserID gets the current user ID from environment or system.
func getCurrentUserID() string {
	if userID := os.Getenv("PROMPTLAB_USER"); userID != "" {
		return userID
	}
	// USERNAME (Windows) or USER (Unix)
	if userID := os.Getenv("USERNAME"); userID != "" {
		return userID
	}
	if userID := os.Getenv("USER"); userID != "" {
		return userID
	}
	return "anonymous"
}

// =============================================================================
// TABLE HELPERS
// =============================================================================

// padRight pads s with spaces to width display columns, truncating with an
// ellipsis when it does not fit.
func padRight(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "...")
	}
	return runewidth.FillRight(s, width)
}

// truncate shortens s to maxWidth display columns.
func truncate(s string, maxWidth int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return runewidth.Truncate(s, maxWidth, "...")
}

// =============================================================================
// FLAG HELPERS
// =============================================================================

// repeatedFlag collects every value of a flag that may be given more than
// once, in --name value and --name=value forms.
func repeatedFlag(raw []string, name string) []string {
	long := "--" + name
	var values []string
	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		if arg == "--" {
			break
		}
		if arg == long && i+1 < len(raw) {
			values = append(values, raw[i+1])
			i++
			continue
		}
		if v, ok := strings.CutPrefix(arg, long+"="); ok {
			values = append(values, v)
		}
	}
	return values
}

// parseVariables turns name=value pairs into a map. Later pairs win.
func parseVariables(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, NewValidationErrorWithExample("var", pair, "must be name=value", "--var topic=caching")
		}
		vars[name] = value
	}
	return vars, nil
}

// =============================================================================
// PATH VALIDATION
// =============================================================================

// ValidateOutputDir ensures dir is safe for writing export files: it must
// resolve inside the home, working or temp directory.
func ValidateOutputDir(dir string) (string, error) {
	if strings.Contains(dir, "..") {
		return "", errors.New("path traversal not allowed")
	}
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()
	for _, allowed := range []string{home, cwd, os.TempDir()} {
		if allowed != "" && isPathWithinDir(abs, allowed) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path must be within home, cwd, or temp directory")
}

// isPathWithinDir checks path boundaries so /home/userEVIL does not match
// /home/user.
func isPathWithinDir(path, dir string) bool {
	cleanPath := filepath.Clean(path)
	cleanDir := filepath.Clean(dir)
	if cleanPath == cleanDir {
		return true
	}
	return strings.HasPrefix(cleanPath, cleanDir+string(filepath.Separator))
}
