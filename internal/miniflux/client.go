// Package miniflux wraps the Miniflux API with retry and dry-run handling.
package miniflux

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	mfclient "miniflux.app/v2/client"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/retry"
)

const (
	defaultTimeout = 30 * time.Second
	previewRunes   = 200
)

// API is the subset of the Miniflux client used by minigist.
type API interface {
	Entries(filter *mfclient.Filter) (*mfclient.EntryResultSet, error)
	FeedEntries(feedID int64, filter *mfclient.Filter) (*mfclient.EntryResultSet, error)
	UpdateEntry(entryID int64, changes *mfclient.EntryModificationRequest) (*mfclient.Entry, error)
	Feeds() (mfclient.Feeds, error)
}

// Config controls how the client talks to Miniflux.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	DryRun  bool
}

// APIError is the transient error kind: a Miniflux call failed in a way
// that is worth retrying.
type APIError struct {
	Op  string
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("miniflux %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is (or wraps) an APIError.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Client executes Miniflux calls with a fixed retry policy.
type Client struct {
	api     API
	policy  retry.Policy
	timeout time.Duration
	dryRun  bool
	logger  *zap.Logger
}

// New builds a Client backed by the official Miniflux API client.
func New(cfg Config, policy retry.Policy, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("miniflux.url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("miniflux.api_key is required")
	}
	return NewWithAPI(mfclient.NewClient(cfg.URL, cfg.APIKey), cfg, policy, logger), nil
}

// NewWithAPI constructs a client from an existing API implementation.
func NewWithAPI(api API, cfg Config, policy retry.Policy, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if cfg.DryRun {
		logger.Warn("running in dry run mode; no updates will be made")
	}
	return &Client{
		api:     api,
		policy:  policy,
		timeout: timeout,
		dryRun:  cfg.DryRun,
		logger:  logger,
	}
}

// DryRun reports whether writes are suppressed.
func (c *Client) DryRun() bool {
	return c.dryRun
}

// FetchEntries lists unread entries, newest first. When feed IDs are given
// each feed is queried in order and the results are concatenated.
func (c *Client) FetchEntries(ctx context.Context, feedIDs []int64, limit int) ([]gist.Entry, error) {
	filter := &mfclient.Filter{
		Status:    "unread",
		Order:     "published_at",
		Direction: "desc",
		Limit:     limit,
	}
	c.logger.Debug("fetching entries",
		zap.Int64s("feed_ids", feedIDs),
		zap.Int("limit", limit),
	)
	entries, err := retry.Do(ctx, c.policy, "get_miniflux_entries", c.logger,
		func(ctx context.Context) ([]gist.Entry, error) {
			return c.fetchEntries(ctx, feedIDs, filter)
		})
	if err != nil {
		return nil, err
	}
	c.logger.Info("fetched unread entries", zap.Int("count", len(entries)))
	return entries, nil
}

func (c *Client) fetchEntries(ctx context.Context, feedIDs []int64, filter *mfclient.Filter) ([]gist.Entry, error) {
	if len(feedIDs) == 0 {
		result, err := callAPI(ctx, c.timeout, "get entries", func() (*mfclient.EntryResultSet, error) {
			return c.api.Entries(filter)
		})
		if err != nil {
			c.logger.Error("failed to fetch entries from miniflux", zap.Error(err))
			return nil, err
		}
		return toEntries(result), nil
	}

	var all []gist.Entry
	for _, feedID := range feedIDs {
		feedID := feedID
		result, err := callAPI(ctx, c.timeout, "get feed entries", func() (*mfclient.EntryResultSet, error) {
			return c.api.FeedEntries(feedID, filter)
		})
		if err != nil {
			c.logger.Error("failed to fetch feed entries from miniflux",
				zap.Int64("feed_id", feedID),
				zap.Error(err),
			)
			return nil, err
		}
		all = append(all, toEntries(result)...)
	}
	return all, nil
}

// UpdateEntry replaces the entry content. In dry-run mode it only logs.
func (c *Client) UpdateEntry(ctx context.Context, entryID int64, content string, log gist.LogContext) error {
	c.logger.Info("updating entry", log.Fields(
		zap.Int("content_length", len(content)),
		zap.String("preview", gist.Preview(content, previewRunes)),
	)...)

	if c.dryRun {
		c.logger.Warn("would update entry; skipping due to dry run", log.Fields()...)
		return nil
	}

	_, err := retry.Do(ctx, c.policy, "update_miniflux_entry", c.logger,
		func(ctx context.Context) (struct{}, error) {
			_, err := callAPI(ctx, c.timeout, fmt.Sprintf("update entry %d", entryID), func() (*mfclient.Entry, error) {
				return c.api.UpdateEntry(entryID, &mfclient.EntryModificationRequest{Content: &content})
			})
			if err != nil {
				c.logger.Error("failed to update entry", log.Fields(zap.Error(err))...)
			}
			return struct{}{}, err
		})
	return err
}

// Feeds returns feed metadata.
func (c *Client) Feeds(ctx context.Context) ([]gist.Feed, error) {
	c.logger.Debug("fetching feeds metadata")
	return retry.Do(ctx, c.policy, "get_miniflux_feeds", c.logger,
		func(ctx context.Context) ([]gist.Feed, error) {
			feeds, err := callAPI(ctx, c.timeout, "get feeds", c.api.Feeds)
			if err != nil {
				c.logger.Error("failed to fetch feeds from miniflux", zap.Error(err))
				return nil, err
			}
			out := make([]gist.Feed, 0, len(feeds))
			for _, f := range feeds {
				if f == nil {
					continue
				}
				out = append(out, gist.Feed{ID: f.ID, Title: f.Title})
			}
			return out, nil
		})
}

// callAPI runs a blocking Miniflux call under a per-call timeout. The
// underlying client is not context aware, so a timed-out call keeps running
// in the background until its own HTTP timeout fires; its result is dropped.
func callAPI[T any](ctx context.Context, timeout time.Duration, op string, fn func() (T, error)) (T, error) {
	var zero T
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, fmt.Errorf("miniflux %s canceled: %w", op, ctx.Err())
		}
		return zero, &APIError{Op: op, Err: callCtx.Err()}
	case r := <-done:
		if r.err != nil {
			return zero, classify(op, r.err)
		}
		return r.value, nil
	}
}

// classify maps Miniflux errors onto the transient kind. Credential and
// missing-resource errors are permanent and fail fast.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, mfclient.ErrNotAuthorized),
		errors.Is(err, mfclient.ErrForbidden),
		errors.Is(err, mfclient.ErrNotFound):
		return fmt.Errorf("miniflux %s: %w", op, err)
	default:
		return &APIError{Op: op, Err: err}
	}
}

func toEntries(result *mfclient.EntryResultSet) []gist.Entry {
	if result == nil {
		return nil
	}
	out := make([]gist.Entry, 0, len(result.Entries))
	for _, e := range result.Entries {
		if e == nil {
			continue
		}
		out = append(out, gist.Entry{
			ID:          e.ID,
			FeedID:      e.FeedID,
			Title:       e.Title,
			URL:         e.URL,
			Content:     e.Content,
			PublishedAt: e.Date,
		})
	}
	return out
}
