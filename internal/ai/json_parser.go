// Package ai provides the Anthropic-backed writer and editor stages for the
// refinement loop, plus the supervisor that paces and retries their calls.
package ai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	// Matches ```json\n{...}\n```, ```{...}```, ``` json{...}``` and similar
	codeFenceRegex = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)

	// Greedy so nested structures are captured whole
	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// ParseResult represents the result of a JSON parse operation.
type ParseResult[T any] struct {
	Success      bool
	Data         T
	Error        string
	OriginalText string
}

// ParseOptions configures JSON parsing behavior.
type ParseOptions struct {
	Context      string // Context for error messages
	MaxInputSize int    // Maximum input size in bytes (0 = default 1MB)
}

const defaultMaxInputSize = 1024 * 1024

// Parse decodes model output into T, tolerating the usual LLM quirks.
//
// Strategy sequence:
//  1. Direct JSON parse
//  2. Strip code fences and trailing commas
//  3. Extract the outermost object from surrounding prose
//  4. Repair the JSON (unquoted keys, single quotes, truncation) with jsonrepair
func Parse[T any](text string, opts ...ParseOptions) ParseResult[T] {
	var options ParseOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	if options.MaxInputSize == 0 {
		options.MaxInputSize = defaultMaxInputSize
	}

	if len(text) > options.MaxInputSize {
		return parseError[T](
			fmt.Sprintf("input exceeds size limit (%d > %d bytes)", len(text), options.MaxInputSize),
			truncate(text, 1000),
			options.Context,
		)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return parseError[T]("empty input", text, options.Context)
	}

	candidates := []func(string) string{
		func(s string) string { return s },
		cleanupJSON,
		func(s string) string { return objectRegex.FindString(cleanupJSON(s)) },
		func(s string) string {
			repaired, err := jsonrepair.JSONRepair(objectOrSelf(cleanupJSON(s)))
			if err != nil {
				slog.Debug("JSON repair failed", "error", err, "context", options.Context)
				return ""
			}
			return repaired
		},
	}

	var lastErr error
	for i, candidate := range candidates {
		input := candidate(trimmed)
		if input == "" {
			continue
		}
		var data T
		if err := json.Unmarshal([]byte(input), &data); err != nil {
			lastErr = err
			if i == 0 {
				slog.Debug("Direct JSON parse failed, trying cleanup strategies",
					"error", err.Error(),
					"textPreview", truncate(text, 100),
					"context", options.Context)
			}
			continue
		}
		return ParseResult[T]{Success: true, Data: data, OriginalText: text}
	}

	msg := "all JSON parsing strategies failed"
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, lastErr)
	}
	return parseError[T](msg, text, options.Context)
}

// cleanupJSON strips code fences and trailing commas.
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	if m := codeFenceRegex.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	return strings.TrimSpace(cleaned)
}

func objectOrSelf(text string) string {
	if obj := objectRegex.FindString(text); obj != "" {
		return obj
	}
	return text
}

func parseError[T any](message, text, context string) ParseResult[T] {
	if context != "" {
		message = context + ": " + message
	}
	return ParseResult[T]{Error: message, OriginalText: text}
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
