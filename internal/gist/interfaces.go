package gist

import (
	"context"
	"time"
)

// EntrySource lists unread entries from the feed reader.
type EntrySource interface {
	FetchEntries(ctx context.Context, feedIDs []int64, limit int) ([]Entry, error)
}

// EntryWriter writes rendered content back to the feed reader.
type EntryWriter interface {
	UpdateEntry(ctx context.Context, entryID int64, content string, log LogContext) error
}

// PageRenderer retrieves the fully rendered HTML for a URL. Implementations
// never return errors for ordinary network failures; they report ok=false.
type PageRenderer interface {
	RenderPage(ctx context.Context, url string, reconnectAttempts int) (html string, ok bool)
}

// Summarizer produces a synopsis for an article body.
type Summarizer interface {
	Summarize(ctx context.Context, articleText string) (string, error)
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
