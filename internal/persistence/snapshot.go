package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"CDPLedger/internal/state"
)

// keepSnapshots is how many verified snapshots survive pruning.
const keepSnapshots = 5

// SnapshotData is the full service state at one sequence: the ledger, the
// debt token balances, the vault balances, and the hash chain tip.
type SnapshotData struct {
	Sequence  int64  `json:"sequence"`
	StateHash []byte `json:"state_hash"`

	Ledger *state.LedgerSnapshot `json:"ledger"`

	TokenBalances map[uuid.UUID]string `json:"token_balances"`
	VaultFree     map[uuid.UUID]string `json:"vault_free"`
	VaultEscrowed string               `json:"vault_escrowed"`

	CreatedAt time.Time `json:"created_at"`
}

// SnapshotManager stores and loads snapshots. Startup restores the newest
// verified snapshot and restores the hash chain from its tip; the service
// refuses to run if the event log is ahead of it.
//
// Writes are two-phase: SaveSnapshot lands the row unverified, MarkVerified
// flips it once the caller knows the covered events are durable. A crash
// between the two leaves an unverified row that restore ignores.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	const q = `
		INSERT INTO cdp.snapshots
			(snapshot_id, sequence, data, state_hash, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (sequence) DO UPDATE
			SET data = EXCLUDED.data,
			    state_hash = EXCLUDED.state_hash,
			    size_bytes = EXCLUDED.size_bytes,
			    verified = FALSE`
	_, err = sm.db.ExecContext(ctx, q,
		uuid.New(), snap.Sequence, payload, snap.StateHash, len(payload), snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot at %d: %w", snap.Sequence, err)
	}
	return nil
}

// MarkVerified flags a snapshot as safe to restore from and prunes old ones.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	if _, err := sm.db.ExecContext(ctx,
		`UPDATE cdp.snapshots SET verified = TRUE WHERE sequence = $1`, sequence,
	); err != nil {
		return fmt.Errorf("verify snapshot at %d: %w", sequence, err)
	}

	_, err := sm.db.ExecContext(ctx, `
		DELETE FROM cdp.snapshots
		WHERE sequence NOT IN (
			SELECT sequence FROM cdp.snapshots
			WHERE verified = TRUE
			ORDER BY sequence DESC
			LIMIT $1
		)
		AND sequence < $2`, keepSnapshots, sequence)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

// LoadLatestSnapshot returns the newest verified snapshot, or nil on a cold
// start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var raw []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM cdp.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snap := new(SnapshotData)
	if err := json.Unmarshal(raw, snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
