package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/reward"

	"github.com/spf13/cobra"
)

func newCollectCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect accrued rewards for the selected account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			account, err := c.account(ctx)
			if err != nil {
				return err
			}
			l, err := c.ledgerFactory()(ctx, account)
			if err != nil {
				return err
			}
			return a.collect(ctx, reward.NewMachine(account, l, reward.WithLogger(a.log)), timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for each confirmation")
	return cmd
}

func (a *app) collect(ctx context.Context, m *reward.Machine, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-m.Done()
	}()
	go func() { _ = m.Run(ctx) }()

	tr, err := awaitTransition(ctx, m, timeout, func(t reward.Transition) bool {
		return t.From == reward.Unregistered
	})
	if err != nil {
		return err
	}
	if tr.Err != nil {
		return tr.Err
	}

	if err := m.RequestCollect(ctx); err != nil {
		return err
	}
	tr, err = awaitTransition(ctx, m, timeout, func(t reward.Transition) bool {
		return t.From == reward.Collecting
	})
	if err != nil {
		return err
	}
	if tr.Err != nil {
		return tr.Err
	}

	snap := m.Snapshot()
	fmt.Fprintf(a.out, "collected rewards for %s, total rewards now %s\n", snap.Account.Hex(), snap.Stats.TotalRewards)
	return nil
}
