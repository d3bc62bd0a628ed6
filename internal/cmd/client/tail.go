package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PhiYerion/bucface/internal/feed"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

var (
	errSessionEnded = errors.New("session ended")
	errLimitReached = errors.New("limit reached")
)

// printer writes the gap-free prefix of the feed once, in id order.
type printer struct {
	w      io.Writer
	json   bool
	filter feed.Filter
	next   uint64
	shown  int
	limit  int
}

// flush prints events from the contiguous prefix not yet printed. It
// reports errLimitReached once limit matching events have been shown.
func (p *printer) flush(f *feed.Feed) error {
	for _, ev := range f.Events() {
		if ev.ID < p.next {
			continue
		}
		if ev.ID != p.next {
			break
		}
		p.next++
		if !p.filter.Match(ev) {
			continue
		}
		printEvent(p.w, p.json, ev)
		p.shown++
		if p.limit > 0 && p.shown >= p.limit {
			return errLimitReached
		}
	}
	return nil
}

// newTailCommand constructs the `tail` command.
func newTailCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the event feed in id order, backfilling gaps and reconnecting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := e.settings(cmd)
			if err != nil {
				return err
			}
			expr, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			reconnect, _ := cmd.Flags().GetDuration("reconnect")
			interval, _ := cmd.Flags().GetDuration("backfill-interval")
			if interval <= 0 {
				interval = s.cfg.Client.BackfillInterval()
			}
			if interval <= 0 {
				interval = time.Second
			}

			filter, err := feed.CompileFilter(expr)
			if err != nil {
				return fmt.Errorf("invalid --filter: %w", err)
			}
			f := feed.New(s.author, s.machine, e.logger)
			f.SetBackfillBatch(s.cfg.Client.BackfillBatch)
			p := &printer{w: cmd.OutOrStdout(), json: s.json, filter: filter, limit: limit}
			logger := e.logger.WithComponent("tail")

			ctx := cmd.Context()
			for {
				err := e.follow(ctx, cmd, s, f, p, interval)
				switch {
				case errors.Is(err, errLimitReached):
					return nil
				case ctx.Err() != nil:
					return nil
				case err != nil && !errors.Is(err, errSessionEnded):
					logger.Warn("connection attempt failed", logpkg.Err(err))
				}
				logger.Info("reconnecting", logpkg.Duration("after", reconnect))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(reconnect):
				}
			}
		},
	}
	addConnFlags(cmd)
	cmd.Flags().String("filter", "", "CEL expression over id, author, machine, body, ts_ms")
	cmd.Flags().Int("limit", 0, "Stop after N printed events (0 = follow forever)")
	cmd.Flags().Duration("reconnect", time.Second, "Delay before reconnecting after the connection drops")
	cmd.Flags().Duration("backfill-interval", 0, "How often missing ids are requested (default from config)")
	return cmd
}

// follow runs one session: catch up, then apply, backfill and print until
// the session ends.
func (e *env) follow(ctx context.Context, cmd *cobra.Command, s settings, f *feed.Feed, p *printer, interval time.Duration) error {
	sess, err := e.connect(ctx, cmd, s)
	if err != nil {
		return err
	}
	defer sess.Close()
	f.Attach(sess)
	if err := f.CatchUp(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := f.Run(gctx); err != nil {
			return err
		}
		return errSessionEnded
	})
	g.Go(func() error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if _, err := f.Backfill(); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		for {
			if err := p.flush(f); err != nil {
				return err
			}
			select {
			case <-gctx.Done():
				return nil
			case <-f.Changed():
			}
		}
	})
	return g.Wait()
}
