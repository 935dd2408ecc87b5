package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/geofeed"
	"github.com/Az1mzhan/bt-ass-3/internal/reward"
	"github.com/Az1mzhan/bt-ass-3/internal/walk"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// submitSignal asks a running runner to claim its accumulated distance now.
var submitSignal os.Signal = syscall.SIGUSR1

func newRunCmd(a *app) *cobra.Command {
	var statusEvery time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Follow the geo stream and submit activity when the threshold is reached",
		Long: "Follow the geo stream and submit activity when the threshold is reached.\n" +
			"Send SIGUSR1 to submit the accumulated distance immediately.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			submits := make(chan os.Signal, 1)
			signal.Notify(submits, submitSignal)
			defer signal.Stop(submits)

			return a.run(ctx, c, submits, statusEvery)
		},
	}
	cmd.Flags().DurationVar(&statusEvery, "status-every", time.Minute, "interval between status log lines")
	return cmd
}

// run wires the stream task and the reward task. Either failing stops both.
func (a *app) run(ctx context.Context, c *chain, submits <-chan os.Signal, statusEvery time.Duration) error {
	session := reward.NewSession(c.wallet, c.ledgerFactory(), a.log, reward.WithThreshold(a.cfg.DistanceThresholdKm))
	feed := geofeed.New(a.cfg.APIURL, func(s walk.Sample) {
		session.AddDistance(s.Distance)
	}, a.log, geofeed.WithMaxInterval(a.cfg.ReconnectMaxInterval))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-session.Ready():
		case <-gctx.Done():
			return nil
		}
		return feed.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statusEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-submits:
				m := session.Current()
				if m == nil {
					a.log.Warn().Msg("no account connected, nothing to submit")
					continue
				}
				if err := m.RequestSubmit(gctx); err != nil && !errors.Is(err, context.Canceled) {
					a.log.Warn().Err(err).Msg("manual submit rejected")
				}
			case <-ticker.C:
				a.logStatus(session, feed)
			}
		}
	})
	return g.Wait()
}

func (a *app) logStatus(session *reward.Session, feed *geofeed.Consumer) {
	ev := a.log.Info().
		Float64("stream_km", feed.AccumulatedKm()).
		Uint64("samples", feed.Applied())
	if m := session.Current(); m != nil {
		snap := m.Snapshot()
		ev = ev.Str("account", snap.Account.Hex()).
			Str("state", snap.State.String()).
			Float64("unclaimed_km", snap.AccumulatedKm).
			Float64("total_km", snap.Stats.TotalDistanceKm)
	}
	ev.Msg("status")
}
