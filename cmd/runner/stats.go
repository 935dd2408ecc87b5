package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// accountReport is what `stats` prints.
type accountReport struct {
	Account         string    `json:"account"`
	ChainID         string    `json:"chainId"`
	BalanceEther    string    `json:"balance"`
	TokenBalance    string    `json:"tokenBalance"`
	Registered      bool      `json:"registered"`
	LastActivity    time.Time `json:"lastActivityTimestamp"`
	RecentReward    string    `json:"recentReward"`
	TotalDistanceKm float64   `json:"totalDistance"`
	TotalRewards    string    `json:"totalRewards"`
	TotalSteps      string    `json:"totalSteps"`
	BurnedKcal      float64   `json:"burnedCalories"`
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show account, activity and health stats for the selected account",
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
			g, err := c.gateway(ctx, account)
			if err != nil {
				return err
			}
			report, err := a.report(ctx, c.wallet, g, account)
			if err != nil {
				return err
			}
			return a.printReport(report, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func (a *app) report(ctx context.Context, w *ledger.KeyWallet, g *ledger.Gateway, account common.Address) (accountReport, error) {
	r := accountReport{Account: account.Hex()}

	chainID, err := w.ChainID(ctx)
	if err != nil {
		return r, err
	}
	r.ChainID = chainID.String()

	balance, err := w.Balance(ctx, account)
	if err != nil {
		return r, err
	}
	r.BalanceEther = ledger.FormatEther(balance)

	tokens, err := g.TokenBalance(ctx, account)
	if err != nil {
		return r, err
	}
	r.TokenBalance = tokens.String()

	if r.Registered, err = g.IsRegistered(ctx); err != nil {
		return r, err
	}
	if !r.Registered {
		return r, nil
	}

	stats, err := g.UserStats(ctx)
	if err != nil {
		return r, err
	}
	r.LastActivity = stats.LastActivity
	r.RecentReward = bigString(stats.RecentReward)
	r.TotalDistanceKm = stats.TotalDistanceKm
	r.TotalRewards = bigString(stats.TotalRewards)

	health, err := g.HealthStats(ctx, uint64(math.Round(a.cfg.BodyWeightKg)))
	if err != nil {
		return r, err
	}
	r.TotalSteps = bigString(health.TotalSteps)
	r.BurnedKcal = health.BurnedKcal
	return r, nil
}

func (a *app) printReport(r accountReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	last := "never"
	if !r.LastActivity.IsZero() {
		last = r.LastActivity.Format(time.RFC3339)
	}

	table := tablewriter.NewWriter(a.out)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	table.AppendBulk([][]string{
		{"Account", r.Account},
		{"Chain ID", r.ChainID},
		{"Balance (ETH)", r.BalanceEther},
		{"Token balance", r.TokenBalance},
		{"Registered", fmt.Sprintf("%t", r.Registered)},
		{"Last activity", last},
		{"Total distance (km)", fmt.Sprintf("%.3f", r.TotalDistanceKm)},
		{"Recent reward", r.RecentReward},
		{"Total rewards", r.TotalRewards},
		{"Total steps", r.TotalSteps},
		{"Burned calories (kcal)", fmt.Sprintf("%.2f", r.BurnedKcal)},
	})
	table.Render()
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
