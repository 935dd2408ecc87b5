package reward

import (
	"context"
	"sync"

	"github.com/Az1mzhan/bt-ass-3/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Wallet reports the selected account and announces changes to it.
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	OnAccountsChanged(l ledger.AccountsListener) func()
}

// LedgerFactory binds a ledger for account. Errors are fatal to the session.
type LedgerFactory func(ctx context.Context, account common.Address) (Ledger, error)

// Session keeps exactly one Machine per selected account. Switching or
// disconnecting the account discards the machine along with its counter.
type Session struct {
	wallet  Wallet
	factory LedgerFactory
	opts    []Option
	log     zerolog.Logger

	mu      sync.RWMutex
	current *Machine
	cancel  context.CancelFunc
	ready   chan struct{}
}

func NewSession(wallet Wallet, factory LedgerFactory, log zerolog.Logger, opts ...Option) *Session {
	return &Session{
		wallet:  wallet,
		factory: factory,
		opts:    append(opts, WithLogger(log)),
		log:     log,
		ready:   make(chan struct{}),
	}
}

// Run starts a machine for the selected account and follows account
// changes until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	accounts, err := s.wallet.RequestAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return ledger.ErrWalletUnavailable
	}

	changes := make(chan []common.Address, 4)
	unsubscribe := s.wallet.OnAccountsChanged(func(a []common.Address) {
		select {
		case changes <- a:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()
	defer s.stop()

	if err := s.start(ctx, accounts[0]); err != nil {
		return err
	}
	close(s.ready)

	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-changes:
			s.stop()
			if len(a) == 0 {
				s.log.Warn().Msg("wallet disconnected")
				continue
			}
			s.log.Info().Str("account", a[0].Hex()).Msg("account switched")
			if err := s.start(ctx, a[0]); err != nil {
				return err
			}
		}
	}
}

// Ready is closed once the first machine is running.
func (s *Session) Ready() <-chan struct{} { return s.ready }

func (s *Session) start(ctx context.Context, account common.Address) error {
	l, err := s.factory(ctx, account)
	if err != nil {
		return err
	}
	m := NewMachine(account, l, s.opts...)
	mctx, cancel := context.WithCancel(ctx)
	go func() { _ = m.Run(mctx) }()

	s.mu.Lock()
	s.current = m
	s.cancel = cancel
	s.mu.Unlock()
	return nil
}

// stop cancels the current machine and waits for it to finish.
func (s *Session) stop() {
	s.mu.Lock()
	m, cancel := s.current, s.cancel
	s.current, s.cancel = nil, nil
	s.mu.Unlock()

	if m == nil {
		return
	}
	cancel()
	<-m.Done()
}

// Current is the machine of the selected account, or nil while no account
// is connected.
func (s *Session) Current() *Machine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// AddDistance forwards distance to the current machine.
func (s *Session) AddDistance(km float64) {
	if m := s.Current(); m != nil {
		m.AddDistance(km)
	}
}
