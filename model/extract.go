package model

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/stewardai/steward/provider"
)

// Turn is a completed model response as seen by extractors.
type Turn struct {
	Content   string
	ToolCalls []provider.ToolCall
}

// Extractor recovers tool calls from a completed turn.
type Extractor interface {
	Extract(turn Turn) []provider.ToolCall
}

// StructuredExtractor returns the provider's structured tool calls as-is.
type StructuredExtractor struct{}

func (StructuredExtractor) Extract(turn Turn) []provider.ToolCall {
	return turn.ToolCalls
}

// Text patterns some providers use to express tool intents as prose instead
// of structured calls.
var (
	// functions.<name>:<idx> followed by a JSON object.
	funcHeaderPattern = regexp.MustCompile(`(?s)functions\.(\w+):(\d+)\s*\n?\s*(\{.*?\})`)

	// Fenced json blocks containing {"name": ..., "arguments": ...}.
	fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
)

// TextPatternExtractor scans prose for tool-call shaped text. It is a
// compatibility shim for providers that narrate tool intents instead of
// returning them structurally; candidates that do not parse as JSON are
// dropped silently.
type TextPatternExtractor struct{}

func (TextPatternExtractor) Extract(turn Turn) []provider.ToolCall {
	var calls []provider.ToolCall

	for _, m := range funcHeaderPattern.FindAllStringSubmatch(turn.Content, -1) {
		name, idx, args := m[1], m[2], m[3]
		if !json.Valid([]byte(args)) {
			continue
		}
		calls = append(calls, provider.ToolCall{
			ID:        "tc_" + idx,
			Name:      name,
			Arguments: args,
		})
	}

	for _, m := range fencedJSONPattern.FindAllStringSubmatch(turn.Content, -1) {
		var body struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(m[1]), &body); err != nil {
			continue
		}
		if body.Name == "" || body.Arguments == nil {
			continue
		}
		calls = append(calls, provider.ToolCall{
			ID:        fmt.Sprintf("tc_%d", len(calls)),
			Name:      body.Name,
			Arguments: string(body.Arguments),
		})
	}

	return calls
}
