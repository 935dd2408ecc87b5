package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AccountsListener is told the current account list whenever it changes. An
// empty list means the wallet disconnected.
type AccountsListener func([]common.Address)

// KeyWallet is a wallet backed by raw private keys. One account is selected
// at a time, as with a browser wallet.
type KeyWallet struct {
	backend Backend

	mu        sync.Mutex
	keys      []*ecdsa.PrivateKey
	addrs     []common.Address
	active    int
	listeners map[int]AccountsListener
	nextID    int
}

// NewKeyWallet parses hex private keys, with or without a 0x prefix.
func NewKeyWallet(backend Backend, hexKeys []string) (*KeyWallet, error) {
	if len(hexKeys) == 0 {
		return nil, ErrWalletUnavailable
	}
	w := &KeyWallet{backend: backend, listeners: make(map[int]AccountsListener)}
	for i, hk := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hk), "0x"))
		if err != nil {
			return nil, fmt.Errorf("wallet key %d: %w", i, err)
		}
		w.keys = append(w.keys, key)
		w.addrs = append(w.addrs, crypto.PubkeyToAddress(key.PublicKey))
	}
	return w, nil
}

// RequestAccounts returns the selected account, or ErrWalletUnavailable
// after Disconnect.
func (w *KeyWallet) RequestAccounts(context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active < 0 {
		return nil, ErrWalletUnavailable
	}
	return []common.Address{w.addrs[w.active]}, nil
}

// Accounts lists every address the wallet holds a key for.
func (w *KeyWallet) Accounts() []common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]common.Address(nil), w.addrs...)
}

func (w *KeyWallet) ChainID(ctx context.Context) (*big.Int, error) {
	return w.backend.ChainID(ctx)
}

// Balance is the account's native balance in wei.
func (w *KeyWallet) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return w.backend.BalanceAt(ctx, account, nil)
}

// OnAccountsChanged registers l and returns a function removing it.
func (w *KeyWallet) OnAccountsChanged(l AccountsListener) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = l
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}
}

// SwitchAccount selects account and notifies listeners.
func (w *KeyWallet) SwitchAccount(account common.Address) error {
	w.mu.Lock()
	idx := -1
	for i, a := range w.addrs {
		if a == account {
			idx = i
			break
		}
	}
	if idx < 0 {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWalletUnavailable, account.Hex())
	}
	w.active = idx
	w.mu.Unlock()

	w.notify([]common.Address{account})
	return nil
}

// Disconnect deselects every account.
func (w *KeyWallet) Disconnect() {
	w.mu.Lock()
	w.active = -1
	w.mu.Unlock()
	w.notify(nil)
}

func (w *KeyWallet) notify(accounts []common.Address) {
	w.mu.Lock()
	ls := make([]AccountsListener, 0, len(w.listeners))
	for _, l := range w.listeners {
		ls = append(ls, l)
	}
	w.mu.Unlock()

	for _, l := range ls {
		l(accounts)
	}
}

// Transactor returns signing options for account on the backend's chain.
func (w *KeyWallet) Transactor(ctx context.Context, account common.Address) (*bind.TransactOpts, error) {
	w.mu.Lock()
	var key *ecdsa.PrivateKey
	for i, a := range w.addrs {
		if a == account {
			key = w.keys[i]
			break
		}
	}
	w.mu.Unlock()
	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrWalletUnavailable, account.Hex())
	}

	chainID, err := w.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return bind.NewKeyedTransactorWithChainID(key, chainID)
}
