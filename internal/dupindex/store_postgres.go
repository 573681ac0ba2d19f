package dupindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "unum/pkg/domain"
	"unum/pkg/platform/sentinel"
	txcontext "unum/pkg/platform/tx"
	"unum/pkg/requestcontext"
)

// Postgres is the production index. Atomicity comes from two partial
// unique indexes over the non-released rows: the INSERT in Reserve either
// lands or trips exactly one constraint, so racing reservations can never
// both succeed no matter how many engine instances run.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const (
	uniqueViolation = "23505"

	constraintActiveKey = "duplicate_index_active_key"
	constraintActiveDID = "duplicate_index_active_did"
)

// EnsureSchema creates the index table. Safe to call at every startup.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS duplicate_index (
		token          UUID PRIMARY KEY,
		commitment_key TEXT NOT NULL,
		did            TEXT NOT NULL,
		state          TEXT NOT NULL,
		reserved_at    TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS duplicate_index_active_key
		ON duplicate_index (commitment_key) WHERE state <> 'released';
	CREATE UNIQUE INDEX IF NOT EXISTS duplicate_index_active_did
		ON duplicate_index (did) WHERE state <> 'released';
	CREATE INDEX IF NOT EXISTS duplicate_index_pending_age
		ON duplicate_index (reserved_at) WHERE state = 'pending';
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure duplicate_index schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if dbTx, ok := txcontext.From(ctx); ok {
		return dbTx
	}
	return s.db
}

func (s *Postgres) Reserve(ctx context.Context, did id.DID, key id.CommitmentKey) (Reservation, error) {
	if did.IsZero() || key.IsZero() {
		return Reservation{}, fmt.Errorf("did and commitment key are required: %w", sentinel.ErrInvalidState)
	}

	token := id.NewReservationToken()
	now := requestcontext.Now(ctx)

	const insert = `
	INSERT INTO duplicate_index (token, commitment_key, did, state, reserved_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)`

	_, err := s.execer(ctx).ExecContext(ctx, insert,
		uuid.UUID(token), key.String(), did.String(), string(StatePending), now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			switch pqErr.Constraint {
			case constraintActiveKey:
				return Reservation{}, ErrDuplicateCommitment
			case constraintActiveDID:
				return Reservation{}, ErrDIDCollision
			}
			return Reservation{}, ErrDuplicateCommitment
		}
		return Reservation{}, fmt.Errorf("reserve commitment key: %w", err)
	}

	return Reservation{Token: token, Key: key, DID: did}, nil
}

func (s *Postgres) Commit(ctx context.Context, token id.ReservationToken) error {
	const update = `
	UPDATE duplicate_index SET state = $2, updated_at = $3
	WHERE token = $1 AND state = $4`

	res, err := s.execer(ctx).ExecContext(ctx, update,
		uuid.UUID(token), string(StateCommitted), requestcontext.Now(ctx), string(StatePending))
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	// Nothing transitioned: idempotent success if already committed,
	// otherwise the token is unknown or released.
	state, err := s.stateOf(ctx, token)
	if err != nil {
		return err
	}
	if state == StateCommitted {
		return nil
	}
	return ErrUnknownReservation
}

func (s *Postgres) Release(ctx context.Context, token id.ReservationToken) error {
	const update = `
	UPDATE duplicate_index SET state = $2, updated_at = $3
	WHERE token = $1 AND state = $4`

	res, err := s.execer(ctx).ExecContext(ctx, update,
		uuid.UUID(token), string(StateReleased), requestcontext.Now(ctx), string(StatePending))
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	state, err := s.stateOf(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil // idempotent: already reaped or never existed
	}
	if err != nil {
		return err
	}
	switch state {
	case StateReleased:
		return nil
	default: // committed entries are permanent
		return errCommittedRelease
	}
}

func (s *Postgres) LookupDID(ctx context.Context, did id.DID) (*Entry, error) {
	const query = `
	SELECT token, commitment_key, did, state, reserved_at, updated_at
	FROM duplicate_index
	WHERE did = $1 AND state = $2`

	var (
		entry    Entry
		token    uuid.UUID
		key, d   string
		state    string
	)
	row := s.execer(ctx).QueryRowContext(ctx, query, did.String(), string(StateCommitted))
	if err := row.Scan(&token, &key, &d, &state, &entry.ReservedAt, &entry.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("did %s: %w", did, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("lookup did: %w", err)
	}
	entry.Token = id.ReservationToken(token)
	entry.Key = id.CommitmentKey(key)
	entry.DID = id.DID(d)
	entry.State = EntryState(state)
	return &entry, nil
}

func (s *Postgres) ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error) {
	now := requestcontext.Now(ctx)
	const update = `
	UPDATE duplicate_index SET state = $1, updated_at = $2
	WHERE state = $3 AND reserved_at < $4`

	res, err := s.execer(ctx).ExecContext(ctx, update,
		string(StateReleased), now, string(StatePending), now.Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("release stale reservations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale reservations: %w", err)
	}
	return int(n), nil
}

func (s *Postgres) stateOf(ctx context.Context, token id.ReservationToken) (EntryState, error) {
	var state string
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT state FROM duplicate_index WHERE token = $1`, uuid.UUID(token))
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("reservation %s: %w", token, sentinel.ErrNotFound)
		}
		return "", fmt.Errorf("load reservation state: %w", err)
	}
	return EntryState(state), nil
}
