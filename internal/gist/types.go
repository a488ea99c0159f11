// Package gist defines core types shared across the summarization pipeline.
package gist

import "time"

// Entry is a single unread article as reported by the feed reader.
type Entry struct {
	ID          int64
	FeedID      int64
	Title       string
	URL         string
	Content     string
	PublishedAt time.Time
}

// Skip reasons attached to items that are drained without processing.
const (
	SkipAborted = "aborted"
)

// Item carries an Entry through the pipeline together with the results
// accumulated by each stage. Items are passed by value; stages return an
// augmented copy instead of mutating shared state.
type Item struct {
	Entry      Entry
	HTML       string
	Summary    string
	Log        LogContext
	Err        error
	SkipReason string
}

// NewItem wraps an entry and seeds its log context with entry identifiers.
func NewItem(entry Entry, base LogContext) Item {
	return Item{
		Entry: entry,
		Log:   base.With(EntryFields(entry)...),
	}
}

// Failed reports whether an upstream stage attached an error.
func (i Item) Failed() bool {
	return i.Err != nil
}

// Skipped reports whether the item was drained without processing.
func (i Item) Skipped() bool {
	return i.SkipReason != ""
}

// Text returns the best available article body: the downloaded page when
// present, the feed-provided content otherwise.
func (i Item) Text() string {
	if i.HTML != "" {
		return i.HTML
	}
	return i.Entry.Content
}

// Message is the unit sent over stage queues. A message is either a data
// item or an end-of-stream marker; the two are never confused.
type Message struct {
	Item Item
	EOS  bool
}

// ItemMessage wraps an item for transport.
func ItemMessage(item Item) Message {
	return Message{Item: item}
}

// EndOfStream returns the marker a producer emits once it has finished.
func EndOfStream() Message {
	return Message{EOS: true}
}

// Disposition is the terminal outcome recorded for every admitted entry.
type Disposition string

// Terminal dispositions tallied by the update stage.
const (
	DispositionProcessed Disposition = "processed"
	DispositionSkipped   Disposition = "skipped"
	DispositionFailed    Disposition = "failed"
)

// Feed is the subset of feed metadata used for log enrichment.
type Feed struct {
	ID    int64
	Title string
}
