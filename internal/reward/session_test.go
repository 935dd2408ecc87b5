package reward

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWallet(t *testing.T, n int) *ledger.KeyWallet {
	t.Helper()
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys = append(keys, hex.EncodeToString(crypto.FromECDSA(k)))
	}
	w, err := ledger.NewKeyWallet(nil, keys)
	require.NoError(t, err)
	return w
}

func registeredFactory(context.Context, common.Address) (Ledger, error) {
	return &fakeLedger{registered: true}, nil
}

func TestSessionFollowsAccountSwitch(t *testing.T) {
	w := newWallet(t, 2)
	s := NewSession(w, registeredFactory, zerolog.Nop(), WithThreshold(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	<-s.Ready()
	first := s.Current()
	require.NotNil(t, first)
	assert.Equal(t, w.Accounts()[0], first.Snapshot().Account)
	waitState(t, first, Idle)

	s.AddDistance(3)
	require.Eventually(t, func() bool { return first.Snapshot().AccumulatedKm == 3 }, 2*time.Second, 5*time.Millisecond)

	second := w.Accounts()[1]
	require.NoError(t, w.SwitchAccount(second))
	require.Eventually(t, func() bool {
		m := s.Current()
		return m != nil && m != first && m.Snapshot().Account == second
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("previous machine still running")
	}
	assert.Zero(t, s.Current().Snapshot().AccumulatedKm)

	w.Disconnect()
	require.Eventually(t, func() bool { return s.Current() == nil }, 2*time.Second, 5*time.Millisecond)
	s.AddDistance(1)
}

func TestSessionWalletUnavailable(t *testing.T) {
	w := newWallet(t, 1)
	w.Disconnect()

	s := NewSession(w, registeredFactory, zerolog.Nop())
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ledger.ErrWalletUnavailable)
}

func TestSessionFactoryFailureIsFatal(t *testing.T) {
	w := newWallet(t, 1)
	s := NewSession(w, func(context.Context, common.Address) (Ledger, error) {
		return nil, ledger.ErrNetworkMismatch
	}, zerolog.Nop())

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ledger.ErrNetworkMismatch)
	assert.Nil(t, s.Current())
}
