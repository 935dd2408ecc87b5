package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/ledger/ledgertest"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadArtifact(t *testing.T, name string) *Artifact {
	t.Helper()
	raw := ledgertest.ArtifactJSON(name)
	require.NotNil(t, raw, name)
	var a Artifact
	require.NoError(t, json.Unmarshal(raw, &a))
	return &a
}

func respond(t *testing.T, b *ledgertest.Backend, parsed abi.ABI, method string, vals ...interface{}) {
	t.Helper()
	require.NoError(t, b.Respond(parsed, method, vals...))
}

func lastSent(t *testing.T, b *ledgertest.Backend) *types.Transaction {
	t.Helper()
	sent := b.Sent()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1]
}

func parseABI(t *testing.T, a *Artifact) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	require.NoError(t, err)
	return parsed
}

func newTestGateway(t *testing.T, backend *ledgertest.Backend) (*Gateway, abi.ABI, abi.ABI) {
	t.Helper()
	platform := loadArtifact(t, "RunToEarn")
	token := loadArtifact(t, "RunToken")

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w, err := NewKeyWallet(backend, []string{hex.EncodeToString(crypto.FromECDSA(key))})
	require.NoError(t, err)

	auth, err := w.Transactor(context.Background(), w.Accounts()[0])
	require.NoError(t, err)

	g, err := NewGateway(context.Background(), backend, platform, token, auth)
	require.NoError(t, err)
	return g, parseABI(t, platform), parseABI(t, token)
}

func TestNewGatewayNetworkMismatch(t *testing.T) {
	backend := ledgertest.NewBackend()
	backend.Network = big.NewInt(1)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth, err := bind.NewKeyedTransactorWithChainID(key, backend.Chain)
	require.NoError(t, err)

	_, err = NewGateway(context.Background(), backend, loadArtifact(t, "RunToEarn"), loadArtifact(t, "RunToken"), auth)
	assert.ErrorIs(t, err, ErrNetworkMismatch)
}

func TestNewGatewayRequiresSigner(t *testing.T) {
	_, err := NewGateway(context.Background(), ledgertest.NewBackend(), loadArtifact(t, "RunToEarn"), loadArtifact(t, "RunToken"), nil)
	assert.ErrorIs(t, err, ErrWalletUnavailable)
}

func TestGatewayAddresses(t *testing.T) {
	g, _, _ := newTestGateway(t, ledgertest.NewBackend())
	assert.Equal(t, ledgertest.PlatformAddress, g.PlatformAddress())
	assert.Equal(t, ledgertest.TokenAddress, g.TokenAddress())
}

func TestGatewayIsRegistered(t *testing.T) {
	backend := ledgertest.NewBackend()
	g, platform, _ := newTestGateway(t, backend)

	respond(t, backend, platform, "checkRegister", true)
	ok, err := g.IsRegistered(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGatewayLogActivityEncodesFixedPoint(t *testing.T) {
	backend := ledgertest.NewBackend()
	g, platform, _ := newTestGateway(t, backend)

	tx, err := g.LogActivity(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, g.PlatformAddress(), *tx.To())

	sent := lastSent(t, backend)
	m := platform.Methods["logActivity"]
	assert.Equal(t, m.ID, sent.Data()[:4])
	args, err := m.Inputs.Unpack(sent.Data()[4:])
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("12000000000000000000", 10)
	assert.Equal(t, 0, want.Cmp(args[0].(*big.Int)))
}

func TestGatewayUserStatsThreeOutputs(t *testing.T) {
	backend := ledgertest.NewBackend()
	g, platform, _ := newTestGateway(t, backend)

	dist, _ := ToFixedPoint(12.5)
	respond(t, backend, platform, "getUserStats", big.NewInt(1700000000), dist, big.NewInt(40))

	stats, err := g.UserStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0), stats.LastActivity)
	assert.InDelta(t, 12.5, stats.TotalDistanceKm, 1e-12)
	assert.Equal(t, int64(40), stats.TotalRewards.Int64())
	assert.Zero(t, stats.RecentReward.Sign())
}

func TestGatewayUserStatsFourOutputs(t *testing.T) {
	backend := ledgertest.NewBackend()
	platform := loadArtifact(t, "RunToEarn")
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(platform.ABI, &entries))
	for _, e := range entries {
		if e["name"] == "getUserStats" {
			e["outputs"] = []map[string]string{
				{"name": "ts", "type": "uint256"},
				{"name": "recentReward", "type": "uint256"},
				{"name": "totalDistance", "type": "uint256"},
				{"name": "totalRewards", "type": "uint256"},
			}
		}
	}
	raw, err := json.Marshal(entries)
	require.NoError(t, err)
	platform.ABI = raw

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth, err := bind.NewKeyedTransactorWithChainID(key, backend.Chain)
	require.NoError(t, err)
	g, err := NewGateway(context.Background(), backend, platform, loadArtifact(t, "RunToken"), auth)
	require.NoError(t, err)

	dist, _ := ToFixedPoint(3)
	respond(t, backend, parseABI(t, platform), "getUserStats", big.NewInt(1700000000), big.NewInt(5), dist, big.NewInt(9))

	stats, err := g.UserStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.RecentReward.Int64())
	assert.InDelta(t, 3.0, stats.TotalDistanceKm, 1e-12)
	assert.Equal(t, int64(9), stats.TotalRewards.Int64())
}

func TestGatewayHealthStats(t *testing.T) {
	backend := ledgertest.NewBackend()
	g, platform, _ := newTestGateway(t, backend)

	dist, _ := ToFixedPoint(2)
	kcal, _ := ToFixedPoint(140.5)
	respond(t, backend, platform, "getHealthStats", dist, big.NewInt(2600), kcal)

	stats, err := g.HealthStats(context.Background(), 70)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, stats.TotalDistanceKm, 1e-12)
	assert.Equal(t, int64(2600), stats.TotalSteps.Int64())
	assert.InDelta(t, 140.5, stats.BurnedKcal, 1e-9)
}

func TestGatewayTransferAndCollect(t *testing.T) {
	backend := ledgertest.NewBackend()
	g, platform, token := newTestGateway(t, backend)

	tx, err := g.Transfer(context.Background(), g.PlatformAddress(), big.NewInt(40))
	require.NoError(t, err)
	assert.Equal(t, g.TokenAddress(), *tx.To())
	args, err := token.Methods["transfer"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, g.PlatformAddress(), args[0].(common.Address))
	assert.Equal(t, int64(40), args[1].(*big.Int).Int64())

	tx, err = g.CollectRewards(context.Background())
	require.NoError(t, err)
	assert.Equal(t, platform.Methods["collectRewards"].ID, tx.Data()[:4])
	assert.Equal(t, uint64(1), tx.Nonce())
}

func TestGatewayTokenBalance(t *testing.T) {
	backend := ledgertest.NewBackend()
	g, _, token := newTestGateway(t, backend)

	respond(t, backend, token, "balanceOf", big.NewInt(77))
	bal, err := g.TokenBalance(context.Background(), g.Account())
	require.NoError(t, err)
	assert.Equal(t, int64(77), bal.Int64())
}

func TestGatewayCallFailure(t *testing.T) {
	g, _, _ := newTestGateway(t, ledgertest.NewBackend())
	_, err := g.UserStats(context.Background())
	assert.Error(t, err)
}

func TestGatewayWaitConfirmed(t *testing.T) {
	backend := ledgertest.NewBackend()
	g, _, _ := newTestGateway(t, backend)

	tx, err := g.Register(context.Background())
	require.NoError(t, err)
	require.NoError(t, g.WaitConfirmed(context.Background(), tx))

	backend.SetStatus(types.ReceiptStatusFailed)
	err = g.WaitConfirmed(context.Background(), tx)
	assert.ErrorIs(t, err, ErrReverted)
}
