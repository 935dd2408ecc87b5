// Package ledgertest provides an in-memory JSON-RPC backend and the contract
// artifacts used by ledger and runner tests.
package ledgertest

import (
	"context"
	"embed"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NetworkID is the network the embedded artifacts are deployed on.
const NetworkID = 5777

var (
	PlatformAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	TokenAddress    = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

//go:embed artifacts/*.json
var artifacts embed.FS

// ArtifactJSON returns the embedded truffle artifact for name, or nil.
func ArtifactJSON(name string) []byte {
	raw, err := artifacts.ReadFile("artifacts/" + name + ".json")
	if err != nil {
		return nil
	}
	return raw
}

// WriteArtifacts copies the embedded artifacts into dir.
func WriteArtifacts(dir string) error {
	entries, err := artifacts.ReadDir("artifacts")
	if err != nil {
		return err
	}
	for _, e := range entries {
		raw, err := artifacts.ReadFile("artifacts/" + e.Name())
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, e.Name()), raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Backend answers eth_call from canned outputs keyed by method selector and
// mines every sent transaction immediately.
type Backend struct {
	Network *big.Int
	Chain   *big.Int
	Balance *big.Int
	Status  uint64

	mu      sync.Mutex
	outputs map[string][]byte
	sent    []*types.Transaction
}

func NewBackend() *Backend {
	return &Backend{
		Network: big.NewInt(NetworkID),
		Chain:   big.NewInt(1337),
		Balance: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		Status:  types.ReceiptStatusSuccessful,
		outputs: make(map[string][]byte),
	}
}

// Respond makes calls to method return vals.
func (b *Backend) Respond(parsed abi.ABI, method string, vals ...interface{}) error {
	m, ok := parsed.Methods[method]
	if !ok {
		return errors.New("unknown method " + method)
	}
	out, err := m.Outputs.Pack(vals...)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs[string(m.ID)] = out
	return nil
}

// Sent returns the transactions sent so far.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

func (b *Backend) NetworkID(context.Context) (*big.Int, error) { return b.Network, nil }

func (b *Backend) ChainID(context.Context) (*big.Int, error) { return b.Chain, nil }

func (b *Backend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return b.Balance, nil
}

func (b *Backend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}

func (b *Backend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x1}, nil
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("missing selector")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out, ok := b.outputs[string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (b *Backend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Receipt{TxHash: hash, Status: b.Status}, nil
}

func (b *Backend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *Backend) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

// SetStatus changes the receipt status of subsequent confirmations.
func (b *Backend) SetStatus(status uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Status = status
}
