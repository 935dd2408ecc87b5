package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
)

var ErrArtifactUnavailable = errors.New("contract artifact unavailable")

// Artifact is the subset of a truffle build artifact the gateway needs.
type Artifact struct {
	ContractName string                     `json:"contractName"`
	ABI          json.RawMessage            `json:"abi"`
	Networks     map[string]NetworkDeployed `json:"networks"`
}

type NetworkDeployed struct {
	Address string `json:"address"`
}

// Address returns the deployment address on networkID.
func (a *Artifact) Address(networkID *big.Int) (common.Address, error) {
	dep, ok := a.Networks[networkID.String()]
	if !ok || !common.IsHexAddress(dep.Address) {
		return common.Address{}, fmt.Errorf("%w: %s is not deployed on network %s", ErrNetworkMismatch, a.ContractName, networkID)
	}
	return common.HexToAddress(dep.Address), nil
}

// Bind parses the ABI and binds it at the deployment address on networkID.
func (a *Artifact) Bind(networkID *big.Int, backend bind.ContractBackend) (*bind.BoundContract, common.Address, error) {
	addr, err := a.Address(networkID)
	if err != nil {
		return nil, common.Address{}, err
	}
	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse %s abi: %w", a.ContractName, err)
	}
	return bind.NewBoundContract(addr, parsed, backend, backend, backend), addr, nil
}

// ArtifactClient fetches artifacts from the api's POST /contract endpoint.
type ArtifactClient struct {
	baseURL string
	timeout time.Duration
}

func NewArtifactClient(baseURL string) *ArtifactClient {
	return &ArtifactClient{baseURL: strings.TrimRight(baseURL, "/"), timeout: 10 * time.Second}
}

func (c *ArtifactClient) Fetch(ctx context.Context, name string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agent := fiber.Post(c.baseURL + "/contract")
	agent.Timeout(c.timeout)
	agent.JSON(fiber.Map{"contractName": name})

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactUnavailable, name, errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d", ErrArtifactUnavailable, name, code)
	}

	var art Artifact
	if err := json.Unmarshal(body, &art); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactUnavailable, name, err)
	}
	if len(art.ABI) == 0 {
		return nil, fmt.Errorf("%w: %s has no abi", ErrArtifactUnavailable, name)
	}
	if art.ContractName == "" {
		art.ContractName = name
	}
	return &art, nil
}
