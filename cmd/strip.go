package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/gist"
	"github.com/JakeFAU/minigist/internal/render"
)

// stripClient is the part of the Miniflux client the strip command needs.
type stripClient interface {
	feedLister
	FetchEntries(ctx context.Context, feedIDs []int64, limit int) ([]gist.Entry, error)
	UpdateEntry(ctx context.Context, entryID int64, content string, log gist.LogContext) error
}

type stripOptions struct {
	feedIDs []int64
	limit   int
	yes     bool
}

// newStripCmd creates the 'strip' subcommand, which restores original
// content on entries that already carry a summary.
func newStripCmd() *cobra.Command {
	opts := stripOptions{}
	cmd := &cobra.Command{
		Use:   "strip",
		Short: "Remove minigist summaries from unread entries",
		Long: `Finds unread entries whose content carries a minigist summary and writes
back the original content that follows the separator. Each change is
confirmed interactively unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStrip(cmd, opts)
		},
	}
	cmd.Flags().Int64SliceVar(&opts.feedIDs, "feed-id", nil, "Only strip entries from these feeds (defaults to fetch.feed_ids)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum entries to inspect (defaults to fetch.limit)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Strip without asking for confirmation")
	return cmd
}

func runStrip(cmd *cobra.Command, opts stripOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(appInstance)
	cfg := appInstance.Config()

	if len(opts.feedIDs) == 0 {
		opts.feedIDs = cfg.Fetch.FeedIDs
	}
	if opts.limit <= 0 {
		opts.limit = cfg.Fetch.Limit
	}

	s := &stripper{
		client:    appInstance.Miniflux(),
		in:        bufio.NewReader(cmd.InOrStdin()),
		out:       cmd.OutOrStdout(),
		assumeYes: opts.yes,
		logger:    appInstance.Logger().Named("strip"),
	}
	modified, err := s.run(cmd.Context(), opts.feedIDs, opts.limit)
	if err != nil {
		return fmt.Errorf("strip summaries: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stripped %d entries.\n", modified)
	return err
}

type stripper struct {
	client    stripClient
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
	logger    *zap.Logger
}

// run restores the original content of every watermarked entry and returns
// how many entries were rewritten. Per-entry failures are logged and skipped.
func (s *stripper) run(ctx context.Context, feedIDs []int64, limit int) (int, error) {
	logFeedTitles(ctx, s.client, feedIDs, s.logger)

	entries, err := s.client.FetchEntries(ctx, feedIDs, limit)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		s.logger.Info("no unread entries to inspect")
		return 0, nil
	}

	modified := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return modified, err
		}
		log := gist.NewLogContext(zap.Int64("entry_id", entry.ID), zap.Int64("feed_id", entry.FeedID))
		if !render.HasWatermark(entry.Content) {
			s.logger.Debug("entry has no summary", log.Fields()...)
			continue
		}
		original, err := originalContent(entry.Content)
		if err != nil {
			s.logger.Warn("could not locate original content", log.With(zap.Error(err)).Fields()...)
			continue
		}

		ok, err := s.confirm(entry)
		if err != nil {
			return modified, err
		}
		if !ok {
			s.logger.Info("left entry unchanged", log.Fields()...)
			continue
		}
		if err := s.client.UpdateEntry(ctx, entry.ID, original, log); err != nil {
			s.logger.Error("failed to strip summary", log.With(zap.Error(err)).Fields()...)
			continue
		}
		modified++
	}
	return modified, nil
}

// originalContent prefers the literal separator search and falls back to
// walking the parsed document, which tolerates reformatted markup.
func originalContent(content string) (string, error) {
	original, err := render.ExtractOriginal(content)
	if err == nil {
		return original, nil
	}
	original, domErr := render.ExtractOriginalDOM(content)
	if domErr != nil {
		return "", errors.Join(err, domErr)
	}
	return original, nil
}

func (s *stripper) confirm(entry gist.Entry) (bool, error) {
	if s.assumeYes {
		return true, nil
	}
	if _, err := fmt.Fprintf(s.out, "Strip summary from %q (entry %d)? [y/N] ", entry.Title, entry.ID); err != nil {
		return false, err
	}
	answer, err := s.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	if errors.Is(err, io.EOF) && answer == "" {
		return false, errors.New("confirmation input closed")
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
