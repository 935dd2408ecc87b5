// Package ledger talks to the RunToEarn platform and RunToken contracts over
// JSON-RPC.
//
// Distances cross this boundary as km scaled by 10^18. Everything above the
// gateway works in plain float km.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrNetworkMismatch   = errors.New("contract not deployed on the active network")
	ErrWalletUnavailable = errors.New("no wallet account available")
	ErrReverted          = errors.New("transaction reverted")
	ErrUnexpectedOutput  = errors.New("unexpected contract output")
)

// Backend is what the gateway needs from an RPC client. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	NetworkID(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// UserStats mirrors the platform's getUserStats record.
type UserStats struct {
	LastActivity    time.Time
	RecentReward    *big.Int
	TotalDistanceKm float64
	TotalRewards    *big.Int
}

type HealthStats struct {
	TotalDistanceKm float64
	TotalSteps      *big.Int
	BurnedKcal      float64
}

type Gateway struct {
	backend   Backend
	platform  *bind.BoundContract
	token     *bind.BoundContract
	platAddr  common.Address
	tokenAddr common.Address
	auth      *bind.TransactOpts
}

// NewGateway binds both contracts on the backend's current network and signs
// writes with auth.
func NewGateway(ctx context.Context, backend Backend, platform, token *Artifact, auth *bind.TransactOpts) (*Gateway, error) {
	if auth == nil {
		return nil, ErrWalletUnavailable
	}
	networkID, err := backend.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("network id: %w", err)
	}

	g := &Gateway{backend: backend, auth: auth}
	if g.platform, g.platAddr, err = platform.Bind(networkID, backend); err != nil {
		return nil, err
	}
	if g.token, g.tokenAddr, err = token.Bind(networkID, backend); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) Account() common.Address { return g.auth.From }

func (g *Gateway) PlatformAddress() common.Address { return g.platAddr }

func (g *Gateway) TokenAddress() common.Address { return g.tokenAddr }

func (g *Gateway) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{From: g.auth.From, Context: ctx}
}

func (g *Gateway) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *g.auth
	opts.Context = ctx
	return &opts
}

func (g *Gateway) IsRegistered(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := g.platform.Call(g.callOpts(ctx), &out, "checkRegister"); err != nil {
		return false, fmt.Errorf("checkRegister: %w", err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("%w: checkRegister returned %d values", ErrUnexpectedOutput, len(out))
	}
	registered, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: checkRegister returned %T", ErrUnexpectedOutput, out[0])
	}
	return registered, nil
}

func (g *Gateway) Register(ctx context.Context) (*types.Transaction, error) {
	tx, err := g.platform.Transact(g.transactOpts(ctx), "registerUser")
	if err != nil {
		return nil, fmt.Errorf("registerUser: %w", err)
	}
	return tx, nil
}

// LogActivity records km of travelled distance for the account.
func (g *Gateway) LogActivity(ctx context.Context, km float64) (*types.Transaction, error) {
	amount, err := ToFixedPoint(km)
	if err != nil {
		return nil, err
	}
	tx, err := g.platform.Transact(g.transactOpts(ctx), "logActivity", amount)
	if err != nil {
		return nil, fmt.Errorf("logActivity: %w", err)
	}
	return tx, nil
}

// UserStats accepts both the three-value record and the four-value record
// that carries recentReward in second position.
func (g *Gateway) UserStats(ctx context.Context) (UserStats, error) {
	var out []interface{}
	if err := g.platform.Call(g.callOpts(ctx), &out, "getUserStats"); err != nil {
		return UserStats{}, fmt.Errorf("getUserStats: %w", err)
	}
	vals, err := bigInts("getUserStats", out)
	if err != nil {
		return UserStats{}, err
	}

	switch len(vals) {
	case 3:
		return UserStats{
			LastActivity:    unixSeconds(vals[0]),
			RecentReward:    new(big.Int),
			TotalDistanceKm: FromFixedPoint(vals[1]),
			TotalRewards:    vals[2],
		}, nil
	case 4:
		return UserStats{
			LastActivity:    unixSeconds(vals[0]),
			RecentReward:    vals[1],
			TotalDistanceKm: FromFixedPoint(vals[2]),
			TotalRewards:    vals[3],
		}, nil
	default:
		return UserStats{}, fmt.Errorf("%w: getUserStats returned %d values", ErrUnexpectedOutput, len(vals))
	}
}

func (g *Gateway) CollectRewards(ctx context.Context) (*types.Transaction, error) {
	tx, err := g.platform.Transact(g.transactOpts(ctx), "collectRewards")
	if err != nil {
		return nil, fmt.Errorf("collectRewards: %w", err)
	}
	return tx, nil
}

// Transfer moves amount of the reward token from the account to to.
func (g *Gateway) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error) {
	tx, err := g.token.Transact(g.transactOpts(ctx), "transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	return tx, nil
}

func (g *Gateway) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	if err := g.token.Call(g.callOpts(ctx), &out, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	vals, err := bigInts("balanceOf", out)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("%w: balanceOf returned %d values", ErrUnexpectedOutput, len(vals))
	}
	return vals[0], nil
}

func (g *Gateway) HealthStats(ctx context.Context, weightKg uint64) (HealthStats, error) {
	var out []interface{}
	if err := g.platform.Call(g.callOpts(ctx), &out, "getHealthStats", new(big.Int).SetUint64(weightKg)); err != nil {
		return HealthStats{}, fmt.Errorf("getHealthStats: %w", err)
	}
	vals, err := bigInts("getHealthStats", out)
	if err != nil {
		return HealthStats{}, err
	}
	if len(vals) != 3 {
		return HealthStats{}, fmt.Errorf("%w: getHealthStats returned %d values", ErrUnexpectedOutput, len(vals))
	}
	return HealthStats{
		TotalDistanceKm: FromFixedPoint(vals[0]),
		TotalSteps:      vals[1],
		BurnedKcal:      FromFixedPoint(vals[2]),
	}, nil
}

// WaitConfirmed blocks until tx is mined and fails if it reverted.
func (g *Gateway) WaitConfirmed(ctx context.Context, tx *types.Transaction) error {
	receipt, err := bind.WaitMined(ctx, g.backend, tx)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return nil
}

func bigInts(method string, out []interface{}) ([]*big.Int, error) {
	vals := make([]*big.Int, 0, len(out))
	for i, v := range out {
		b, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%w: %s output %d is %T", ErrUnexpectedOutput, method, i, v)
		}
		vals = append(vals, b)
	}
	return vals, nil
}
