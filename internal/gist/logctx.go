package gist

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const defaultPreviewRunes = 100

// LogContext is an immutable set of structured log fields that travels with
// an item. With returns a new context; the receiver is never modified.
type LogContext struct {
	fields []zap.Field
}

// NewLogContext builds a context from the supplied fields.
func NewLogContext(fields ...zap.Field) LogContext {
	return LogContext{}.With(fields...)
}

// With merges additional fields into a copy of the context.
func (c LogContext) With(fields ...zap.Field) LogContext {
	if len(fields) == 0 {
		return c
	}
	merged := make([]zap.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return LogContext{fields: merged}
}

// Fields returns a copy of the carried fields, optionally extended.
func (c LogContext) Fields(extra ...zap.Field) []zap.Field {
	out := make([]zap.Field, 0, len(c.fields)+len(extra))
	out = append(out, c.fields...)
	return append(out, extra...)
}

// Len reports how many fields the context carries.
func (c LogContext) Len() int {
	return len(c.fields)
}

// EntryFields returns the standard correlation fields for an entry.
func EntryFields(entry Entry) []zap.Field {
	return []zap.Field{
		zap.Int64("entry_id", entry.ID),
		zap.Int64("feed_id", entry.FeedID),
		zap.String("title", entry.Title),
	}
}

// Preview flattens whitespace and truncates text for log output.
func Preview(text string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultPreviewRunes
	}
	flat := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(flat) <= maxRunes {
		return flat
	}
	runes := []rune(flat)
	return string(runes[:maxRunes]) + "..."
}
