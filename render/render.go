// Package render turns call outcomes into display text.
//
// Rendering is a projection only: the value stored for a call is never shortened,
// just the text shown for it.
package render

import (
	"fmt"
	"shvattr/message"
	"shvattr/value"
	"unicode/utf8"
)

// MaxDisplaySize is the longest rendering shown before truncation.
const MaxDisplaySize = 1024

// Indent is the pretty-printer indentation used for structured results.
const Indent = "  "

// Render formats o for display, truncated to MaxDisplaySize.
func Render(o message.Outcome) string {
	return RenderLimit(o, MaxDisplaySize)
}

// RenderLimit formats o and truncates to limit bytes; a limit <= 0 disables truncation.
//
// An error renders as its message. A plain string result renders verbatim; any other
// result renders as its pretty-printed notation.
func RenderLimit(o message.Outcome, limit int) string {
	return Truncate(Text(o), limit)
}

// Text is the untruncated rendering of o.
func Text(o message.Outcome) string {
	if o.IsError() {
		if o.Err.Message != "" {
			return o.Err.Message
		}
		return o.Err.Code.String()
	}
	if s, ok := o.Result.(value.String); ok {
		return string(s)
	}
	return value.Pretty(o.Result, Indent)
}

// Truncate cuts text to at most limit bytes and appends how many bytes were dropped.
// The cut moves back to a rune boundary so multi-byte characters are never split.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + fmt.Sprintf(" < ... %d more bytes >", len(text)-cut)
}
