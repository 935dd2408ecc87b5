package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/config"
	"github.com/Az1mzhan/bt-ass-3/internal/ledger"
	"github.com/Az1mzhan/bt-ass-3/internal/logging"
	"github.com/Az1mzhan/bt-ass-3/internal/reward"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var exit = os.Exit

func main() {
	if err := newRootCmd(config.Load, os.Stdout).Execute(); err != nil {
		exit(1)
	}
}

// DialFunc connects to the JSON-RPC endpoint. The returned func releases the
// connection.
type DialFunc func(ctx context.Context, url string) (ledger.Backend, func(), error)

// defaultDial is how commands reach the chain.
var defaultDial DialFunc = dialEthereum

func dialEthereum(ctx context.Context, url string) (ledger.Backend, func(), error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return client, client.Close, nil
}

type app struct {
	load func() config.Config
	cfg  config.Config
	log  zerolog.Logger
	out  io.Writer
	dial DialFunc

	apiURL string
	rpcURL string
}

func newRootCmd(load func() config.Config, out io.Writer) *cobra.Command {
	a := &app{load: load, out: out, dial: defaultDial}

	root := &cobra.Command{
		Use:          "runner",
		Short:        "Follow the geo stream and claim walking rewards",
		SilenceUsage: true,
	}
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.init(cmd)
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.apiURL, "api", "", "api base URL (overrides API_URL)")
	root.PersistentFlags().StringVar(&a.rpcURL, "rpc", "", "JSON-RPC endpoint (overrides ETH_RPC_URL)")

	root.AddCommand(newRunCmd(a), newCollectCmd(a), newStatsCmd(a), newWalkCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	a.cfg = a.load()
	if a.apiURL != "" {
		a.cfg.APIURL = a.apiURL
	}
	if a.rpcURL != "" {
		a.cfg.EthRPCURL = a.rpcURL
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.New(cmd.ErrOrStderr(), a.cfg.LogLevel, a.cfg.LogFormat)
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

// chain is everything a command needs to talk to the contracts.
type chain struct {
	backend  ledger.Backend
	wallet   *ledger.KeyWallet
	platform *ledger.Artifact
	token    *ledger.Artifact
	close    func()
}

func (a *app) connect(ctx context.Context) (*chain, error) {
	backend, closeFn, err := a.dial(ctx, a.cfg.EthRPCURL)
	if err != nil {
		return nil, err
	}
	c := &chain{backend: backend, close: closeFn}

	if c.wallet, err = ledger.NewKeyWallet(backend, a.cfg.WalletKeyList()); err != nil {
		c.close()
		return nil, err
	}

	arts := ledger.NewArtifactClient(a.cfg.APIURL)
	if c.platform, err = arts.Fetch(ctx, a.cfg.PlatformContract); err != nil {
		c.close()
		return nil, err
	}
	if c.token, err = arts.Fetch(ctx, a.cfg.TokenContract); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func (c *chain) gateway(ctx context.Context, account common.Address) (*ledger.Gateway, error) {
	auth, err := c.wallet.Transactor(ctx, account)
	if err != nil {
		return nil, err
	}
	return ledger.NewGateway(ctx, c.backend, c.platform, c.token, auth)
}

func (c *chain) ledgerFactory() reward.LedgerFactory {
	return func(ctx context.Context, account common.Address) (reward.Ledger, error) {
		g, err := c.gateway(ctx, account)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}

func (c *chain) account(ctx context.Context) (common.Address, error) {
	accounts, err := c.wallet.RequestAccounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, ledger.ErrWalletUnavailable
	}
	return accounts[0], nil
}

// awaitTransition waits for the first transition matching pred.
func awaitTransition(ctx context.Context, m *reward.Machine, timeout time.Duration, pred func(reward.Transition) bool) (reward.Transition, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case tr := <-m.Transitions():
			if pred(tr) {
				return tr, nil
			}
		case <-timer.C:
			return reward.Transition{}, fmt.Errorf("no state change after %s (state %s)", timeout, m.Snapshot().State)
		case <-ctx.Done():
			return reward.Transition{}, ctx.Err()
		}
	}
}
