package ledger

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/Az1mzhan/bt-ass-3/internal/ledger/ledgertest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(t *testing.T, n int) []string {
	t.Helper()
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys = append(keys, "0x"+hex.EncodeToString(crypto.FromECDSA(k)))
	}
	return keys
}

func TestNewKeyWalletRequiresKeys(t *testing.T) {
	_, err := NewKeyWallet(ledgertest.NewBackend(), nil)
	assert.ErrorIs(t, err, ErrWalletUnavailable)

	_, err = NewKeyWallet(ledgertest.NewBackend(), []string{"zz"})
	assert.Error(t, err)
}

func TestKeyWalletDetails(t *testing.T) {
	w, err := NewKeyWallet(ledgertest.NewBackend(), testKeys(t, 2))
	require.NoError(t, err)

	accounts, err := w.RequestAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, w.Accounts()[0], accounts[0])

	chainID, err := w.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1337), chainID.Int64())

	bal, err := w.Balance(context.Background(), accounts[0])
	require.NoError(t, err)
	assert.Equal(t, "1.000000", FormatEther(bal))
}

func TestKeyWalletSwitchNotifies(t *testing.T) {
	w, err := NewKeyWallet(ledgertest.NewBackend(), testKeys(t, 2))
	require.NoError(t, err)

	var mu sync.Mutex
	var seen [][]common.Address
	unsubscribe := w.OnAccountsChanged(func(a []common.Address) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, a)
	})

	second := w.Accounts()[1]
	require.NoError(t, w.SwitchAccount(second))
	accounts, err := w.RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second, accounts[0])

	w.Disconnect()
	_, err = w.RequestAccounts(context.Background())
	assert.ErrorIs(t, err, ErrWalletUnavailable)

	unsubscribe()
	require.NoError(t, w.SwitchAccount(second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, []common.Address{second}, seen[0])
	assert.Empty(t, seen[1])
}

func TestKeyWalletSwitchUnknown(t *testing.T) {
	w, err := NewKeyWallet(ledgertest.NewBackend(), testKeys(t, 1))
	require.NoError(t, err)
	err = w.SwitchAccount(common.HexToAddress("0x01"))
	assert.ErrorIs(t, err, ErrWalletUnavailable)
}

func TestKeyWalletTransactor(t *testing.T) {
	w, err := NewKeyWallet(ledgertest.NewBackend(), testKeys(t, 1))
	require.NoError(t, err)

	auth, err := w.Transactor(context.Background(), w.Accounts()[0])
	require.NoError(t, err)
	assert.Equal(t, w.Accounts()[0], auth.From)

	_, err = w.Transactor(context.Background(), common.HexToAddress("0x02"))
	assert.ErrorIs(t, err, ErrWalletUnavailable)
}
