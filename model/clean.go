package model

import (
	"regexp"
	"strings"
)

// Some providers leak their internal tool-call framing into the text channel.
// These patterns are stripped from streamed chunks and from the final
// assembled content. Best-effort compatibility shim; the structured tool-call
// path never goes through here.
var strayTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<\|tool_calls_section_begin\|>`),
	regexp.MustCompile(`<\|tool_calls_section_end\|>`),
	regexp.MustCompile(`<\|tool_call_begin\|>`),
	regexp.MustCompile(`<\|tool_call_end\|>`),
	regexp.MustCompile(`<\|tool_call_argument_begin\|>`),
	regexp.MustCompile(`<\|tool_call_argument_end\|>`),
	regexp.MustCompile(`<\|tool_call_argument\|>`),
	regexp.MustCompile(`<\|[^|]*?\|>`),
}

// funcEchoPattern matches textual echoes of function-call headers, e.g.
// "functions.write_file:0".
var funcEchoPattern = regexp.MustCompile(`functions\.\w+:\d+\s*`)

// leakedArgsPattern matches single-line JSON argument fragments that some
// models emit alongside their framing tokens.
var leakedArgsPattern = regexp.MustCompile(`\{\s*"[^"\n]+"\s*:\s*"[^"\n]*"[^}\n]*\}[ \t]*`)

// CleanOutput strips known stray control tokens, function-call echoes, and
// leaked argument fragments from model text. It does not trim whitespace:
// it is applied to individual stream chunks, where boundary spaces carry
// meaning.
func CleanOutput(content string) string {
	if content == "" {
		return content
	}
	cleaned := content
	hadFraming := false
	for _, p := range strayTokenPatterns {
		if p.MatchString(cleaned) {
			hadFraming = true
			cleaned = p.ReplaceAllString(cleaned, "")
		}
	}
	if funcEchoPattern.MatchString(cleaned) {
		hadFraming = true
		cleaned = funcEchoPattern.ReplaceAllString(cleaned, "")
	}
	// Only scrub loose JSON fragments out of text that carried framing
	// tokens; plain prose with inline JSON is left alone.
	if hadFraming {
		cleaned = leakedArgsPattern.ReplaceAllString(cleaned, "")
	}
	return cleaned
}

// CleanFinal is CleanOutput plus edge trimming, for fully assembled content.
func CleanFinal(content string) string {
	return strings.TrimSpace(CleanOutput(content))
}
