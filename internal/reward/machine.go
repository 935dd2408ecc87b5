// Package reward turns accumulated walking distance into ledger activity
// claims and reward collections.
//
// A Machine is an actor: Run owns every field that changes, callers talk to
// it through channels and ledger round-trips run in their own goroutines that
// post results back. At most one ledger write is outstanding at any time.
package reward

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/ledger"
	"github.com/Az1mzhan/bt-ass-3/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

var (
	ErrLedgerCall       = errors.New("ledger call failed")
	ErrWriteInFlight    = errors.New("a ledger write is already in flight")
	ErrNotReady         = errors.New("account is not registered yet")
	ErrNothingToSubmit  = errors.New("no distance to submit")
	ErrNothingToCollect = errors.New("no rewards to collect")
	ErrStopped          = errors.New("reward machine stopped")
)

// DefaultThresholdKm is the accumulated distance that triggers a claim.
const DefaultThresholdKm = 10.0

type State int

const (
	Unregistered State = iota
	Idle
	Accumulating
	Submitting
	AwaitingConfirmation
	Collecting
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Submitting:
		return "submitting"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Collecting:
		return "collecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Ledger is the slice of the contract gateway the machine drives.
type Ledger interface {
	IsRegistered(ctx context.Context) (bool, error)
	Register(ctx context.Context) (*types.Transaction, error)
	LogActivity(ctx context.Context, km float64) (*types.Transaction, error)
	UserStats(ctx context.Context) (ledger.UserStats, error)
	CollectRewards(ctx context.Context) (*types.Transaction, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error)
	PlatformAddress() common.Address
	WaitConfirmed(ctx context.Context, tx *types.Transaction) error
}

// Snapshot is a point-in-time copy of the machine's state.
type Snapshot struct {
	Account       common.Address
	State         State
	AccumulatedKm float64
	PendingKm     float64
	Stats         ledger.UserStats
	LastErr       error
}

// Transition is emitted on every state change. Err is set when the change
// was caused by a failed ledger call.
type Transition struct {
	From State
	To   State
	Err  error
	At   time.Time
}

type (
	distanceEvent  struct{ km float64 }
	submitRequest  struct{ reply chan error }
	collectRequest struct{ reply chan error }

	registrationResult struct {
		stats ledger.UserStats
		err   error
	}
	submitSent      struct{ err error }
	submitConfirmed struct {
		stats    ledger.UserStats
		statsErr error
		err      error
	}
	collectResult struct {
		stats    ledger.UserStats
		statsErr error
		err      error
	}
	registrationRetry struct{}
)

type Machine struct {
	account   common.Address
	ledger    Ledger
	threshold float64
	retry     backoff.BackOff
	log       zerolog.Logger

	events      chan any
	transitions chan Transition
	stopping    chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu   sync.RWMutex
	snap Snapshot

	// owned by Run
	state        State
	writing      bool
	retryPending bool
	accumulated  float64
	pending      float64
	stats        ledger.UserStats
	lastErr      error
}

type Option func(*Machine)

func WithThreshold(km float64) Option {
	return func(m *Machine) {
		if km > 0 {
			m.threshold = km
		}
	}
}

// WithRegistrationBackOff sets the delay policy for retrying a failed
// registration. backoff.Stop disables the timer; the next distance sample
// still retries.
func WithRegistrationBackOff(b backoff.BackOff) Option {
	return func(m *Machine) {
		if b != nil {
			m.retry = b
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Machine) { m.log = log }
}

func NewMachine(account common.Address, l Ledger, opts ...Option) *Machine {
	m := &Machine{
		account:     account,
		ledger:      l,
		threshold:   DefaultThresholdKm,
		retry:       defaultRegistrationBackOff(),
		log:         zerolog.Nop(),
		events:      make(chan any, 64),
		transitions: make(chan Transition, 32),
		stopping:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("account", account.Hex()).Logger()
	m.publish()
	return m
}

// Run drives the machine until ctx is cancelled. It waits for in-flight
// ledger calls, which share ctx, before returning.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.wg.Wait()
	defer m.stopOnce.Do(func() { close(m.stopping) })

	m.startRegistration(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			m.handle(ctx, ev)
			m.publish()
		}
	}
}

// Done is closed after Run has returned.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Transitions reports state changes. Slow readers miss transitions rather
// than block the machine.
func (m *Machine) Transitions() <-chan Transition { return m.transitions }

func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// AddDistance feeds travelled distance into the machine. Negative and
// non-finite values are ignored.
func (m *Machine) AddDistance(km float64) {
	if !(km > 0) || math.IsInf(km, 1) {
		return
	}
	m.post(distanceEvent{km: km})
}

// RequestSubmit claims the whole accumulated distance now instead of waiting
// for the threshold.
func (m *Machine) RequestSubmit(ctx context.Context) error {
	return m.request(ctx, func(reply chan error) any { return submitRequest{reply: reply} })
}

// RequestCollect transfers the accrued reward tokens to the platform and
// collects them. The distance counter is not touched.
func (m *Machine) RequestCollect(ctx context.Context) error {
	return m.request(ctx, func(reply chan error) any { return collectRequest{reply: reply} })
}

func (m *Machine) request(ctx context.Context, build func(chan error) any) error {
	reply := make(chan error, 1)
	select {
	case m.events <- build(reply):
	case <-m.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-m.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) post(ev any) {
	select {
	case m.events <- ev:
	case <-m.stopping:
	}
}

func (m *Machine) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case distanceEvent:
		m.accumulated += ev.km
		switch m.state {
		case Unregistered:
			if !m.writing {
				m.startRegistration(ctx)
			}
		case Idle, Accumulating:
			m.settle()
			m.evaluateThreshold(ctx)
		}

	case submitRequest:
		ev.reply <- m.manualSubmit(ctx)

	case collectRequest:
		ev.reply <- m.startCollect(ctx)

	case registrationResult:
		m.writing = false
		if ev.err != nil {
			m.fail(Unregistered, ev.err)
			m.scheduleRegistration(ctx)
			return
		}
		m.retry.Reset()
		m.stats = ev.stats
		m.lastErr = nil
		m.settle()
		m.evaluateThreshold(ctx)

	case submitSent:
		if ev.err != nil {
			m.writing = false
			m.pending = 0
			m.fail(m.restingState(), ev.err)
			return
		}
		m.transition(AwaitingConfirmation, nil)

	case submitConfirmed:
		m.writing = false
		if ev.err != nil {
			m.pending = 0
			m.fail(m.restingState(), ev.err)
			return
		}
		m.accumulated -= m.pending
		if m.accumulated < 1e-12 {
			m.accumulated = 0
		}
		m.log.Info().Float64("km", m.pending).Float64("remaining_km", m.accumulated).Msg("activity confirmed")
		m.pending = 0
		m.lastErr = nil
		m.refreshed(ev.stats, ev.statsErr)
		m.settle()
		m.evaluateThreshold(ctx)

	case collectResult:
		m.writing = false
		if ev.err != nil {
			m.fail(m.restingState(), ev.err)
			return
		}
		m.lastErr = nil
		m.refreshed(ev.stats, ev.statsErr)
		m.settle()
		m.evaluateThreshold(ctx)

	case registrationRetry:
		m.retryPending = false
		if m.state == Unregistered && !m.writing {
			m.startRegistration(ctx)
		}
	}
}

func (m *Machine) restingState() State {
	if m.accumulated > 0 {
		return Accumulating
	}
	return Idle
}

// settle moves a registered machine without a write in flight to its resting
// state.
func (m *Machine) settle() {
	if to := m.restingState(); to != m.state {
		m.transition(to, nil)
	}
}

// evaluateThreshold only fires from Idle or Accumulating.
func (m *Machine) evaluateThreshold(ctx context.Context) {
	if m.writing || (m.state != Idle && m.state != Accumulating) {
		return
	}
	if m.accumulated >= m.threshold {
		m.startSubmit(ctx, m.accumulated)
	}
}

func (m *Machine) manualSubmit(ctx context.Context) error {
	if m.state == Unregistered {
		return ErrNotReady
	}
	if m.writing {
		return ErrWriteInFlight
	}
	if m.accumulated <= 0 {
		return ErrNothingToSubmit
	}
	m.startSubmit(ctx, m.accumulated)
	return nil
}

func (m *Machine) startRegistration(ctx context.Context) {
	m.writing = true
	m.spawn(func() {
		m.post(m.register(ctx))
	})
}

func defaultRegistrationBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// scheduleRegistration posts a retry once the backoff delay has passed. Only
// one retry is pending at a time.
func (m *Machine) scheduleRegistration(ctx context.Context) {
	if m.retryPending {
		return
	}
	wait := m.retry.NextBackOff()
	if wait == backoff.Stop {
		return
	}
	m.retryPending = true
	m.log.Debug().Dur("retry_in", wait).Msg("registration retry scheduled")
	m.spawn(func() {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
			m.post(registrationRetry{})
		case <-ctx.Done():
		case <-m.stopping:
		}
	})
}

func (m *Machine) register(ctx context.Context) registrationResult {
	ok, err := m.ledger.IsRegistered(ctx)
	if err != nil {
		return registrationResult{err: err}
	}
	if !ok {
		m.log.Info().Msg("registering account")
		tx, err := m.ledger.Register(ctx)
		if err == nil {
			err = m.ledger.WaitConfirmed(ctx, tx)
		}
		countWrite("register", err)
		if err != nil {
			return registrationResult{err: err}
		}
	}
	stats, err := m.ledger.UserStats(ctx)
	return registrationResult{stats: stats, err: err}
}

func (m *Machine) startSubmit(ctx context.Context, km float64) {
	m.writing = true
	m.pending = km
	m.transition(Submitting, nil)
	m.log.Info().Float64("km", km).Msg("submitting activity")

	m.spawn(func() {
		tx, err := m.ledger.LogActivity(ctx, km)
		m.post(submitSent{err: err})
		if err != nil {
			countWrite("log_activity", err)
			return
		}
		err = m.ledger.WaitConfirmed(ctx, tx)
		countWrite("log_activity", err)
		if err != nil {
			m.post(submitConfirmed{err: err})
			return
		}
		stats, statsErr := m.ledger.UserStats(ctx)
		m.post(submitConfirmed{stats: stats, statsErr: statsErr})
	})
}

func (m *Machine) startCollect(ctx context.Context) error {
	if m.state == Unregistered {
		return ErrNotReady
	}
	if m.writing {
		return ErrWriteInFlight
	}
	amount := m.stats.TotalRewards
	if amount == nil || amount.Sign() <= 0 {
		return ErrNothingToCollect
	}

	m.writing = true
	m.transition(Collecting, nil)
	m.log.Info().Str("amount", amount.String()).Msg("collecting rewards")

	amount = new(big.Int).Set(amount)
	m.spawn(func() {
		m.post(m.collect(ctx, amount))
	})
	return nil
}

func (m *Machine) collect(ctx context.Context, amount *big.Int) collectResult {
	tx, err := m.ledger.Transfer(ctx, m.ledger.PlatformAddress(), amount)
	if err == nil {
		err = m.ledger.WaitConfirmed(ctx, tx)
	}
	countWrite("transfer", err)
	if err != nil {
		return collectResult{err: err}
	}

	tx, err = m.ledger.CollectRewards(ctx)
	if err == nil {
		err = m.ledger.WaitConfirmed(ctx, tx)
	}
	countWrite("collect_rewards", err)
	if err != nil {
		return collectResult{err: err}
	}

	stats, statsErr := m.ledger.UserStats(ctx)
	return collectResult{stats: stats, statsErr: statsErr}
}

func (m *Machine) refreshed(stats ledger.UserStats, err error) {
	if err != nil {
		m.log.Warn().Err(err).Msg("user stats refresh failed")
		return
	}
	m.stats = stats
}

func (m *Machine) fail(to State, err error) {
	err = fmt.Errorf("%w: %w", ErrLedgerCall, err)
	m.lastErr = err
	m.log.Error().Err(err).Str("state", m.state.String()).Msg("ledger call failed")
	m.transition(to, err)
}

func (m *Machine) transition(to State, err error) {
	from := m.state
	m.state = to
	metrics.RewardState.Set(float64(to))
	m.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("reward state")

	select {
	case m.transitions <- Transition{From: from, To: to, Err: err, At: time.Now()}:
	default:
	}
}

func (m *Machine) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

func (m *Machine) publish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = Snapshot{
		Account:       m.account,
		State:         m.state,
		AccumulatedKm: m.accumulated,
		PendingKm:     m.pending,
		Stats:         m.stats,
		LastErr:       m.lastErr,
	}
}

func countWrite(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.LedgerWrites.WithLabelValues(op, result).Inc()
}
