// Package contract serves deployed contract artifacts (ABI and per-network
// addresses) to clients binding the ledger.
package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Az1mzhan/bt-ass-3/internal/db"

	"github.com/jackc/pgx/v5"
)

var (
	ErrArtifactNotFound = errors.New("contract artifact not found")
	ErrInvalidName      = errors.New("invalid contract name")
	ErrMalformed        = errors.New("contract artifact is not valid json")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Store looks up a compiled artifact by contract name.
type Store interface {
	Artifact(ctx context.Context, name string) (json.RawMessage, error)
}

// FileStore reads truffle build output: <dir>/<name>.json.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Artifact(_ context.Context, name string) (json.RawMessage, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, name+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, name)
	}
	return raw, nil
}

// PGStore reads artifacts uploaded to the contract_artifacts table.
type PGStore struct {
	db db.Querier
}

func NewPGStore(db db.Querier) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Artifact(ctx context.Context, name string) (json.RawMessage, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}

	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT artifact
		FROM contract_artifacts
		WHERE name = $1
	`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, name)
	}
	return raw, nil
}

// Names lists the contracts available in the table.
func (s *PGStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT name FROM contract_artifacts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
