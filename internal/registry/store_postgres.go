package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"unum/internal/metadata"
	id "unum/pkg/domain"
	"unum/pkg/platform/sentinel"
	txcontext "unum/pkg/platform/tx"
)

// Postgres persists identity records. Controller exclusivity is enforced
// by a partial unique index over the controllers of active identities, so
// the rule holds across engine instances without advisory locking.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const uniqueViolation = "23505"

// EnsureSchema creates the registry tables. Safe to call at every startup.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS identities (
		did            TEXT PRIMARY KEY,
		state          TEXT NOT NULL,
		schema_version TEXT NOT NULL,
		enrolled_at    TIMESTAMPTZ NOT NULL,
		revoked_at     TIMESTAMPTZ,
		doc_sequence   INT NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS identity_controllers (
		did        TEXT NOT NULL REFERENCES identities(did),
		controller TEXT NOT NULL,
		position   INT NOT NULL,
		active     BOOLEAN NOT NULL,
		PRIMARY KEY (did, controller)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS identity_controllers_active_one
		ON identity_controllers (controller) WHERE active;
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure registry schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if dbTx, ok := txcontext.From(ctx); ok {
		return dbTx
	}
	return s.db
}

func (s *Postgres) Create(ctx context.Context, identity *Identity) error {
	run := func(txCtx context.Context) error {
		ex := s.execer(txCtx)
		_, err := ex.ExecContext(txCtx, `
			INSERT INTO identities (did, state, schema_version, enrolled_at, revoked_at, doc_sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())`,
			identity.DID.String(), string(identity.State), string(identity.SchemaVersion),
			identity.EnrolledAt, nullTime(identity.RevokedAt), identity.DocSequence)
		if err != nil {
			return translateConflict(err, "create identity")
		}
		return s.insertControllers(txCtx, identity)
	}

	if _, inTx := txcontext.From(ctx); inTx {
		return run(ctx)
	}
	return txcontext.SQLRunner{DB: s.db}.RunInTx(ctx, run)
}

func (s *Postgres) Update(ctx context.Context, identity *Identity) error {
	run := func(txCtx context.Context) error {
		ex := s.execer(txCtx)
		res, err := ex.ExecContext(txCtx, `
			UPDATE identities
			SET state = $2, schema_version = $3, revoked_at = $4, doc_sequence = $5, updated_at = now()
			WHERE did = $1`,
			identity.DID.String(), string(identity.State), string(identity.SchemaVersion),
			nullTime(identity.RevokedAt), identity.DocSequence)
		if err != nil {
			return fmt.Errorf("update identity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("identity %s: %w", identity.DID, sentinel.ErrNotFound)
		}
		if _, err := ex.ExecContext(txCtx,
			`DELETE FROM identity_controllers WHERE did = $1`, identity.DID.String()); err != nil {
			return fmt.Errorf("clear controllers: %w", err)
		}
		return s.insertControllers(txCtx, identity)
	}

	if _, inTx := txcontext.From(ctx); inTx {
		return run(ctx)
	}
	return txcontext.SQLRunner{DB: s.db}.RunInTx(ctx, run)
}

func (s *Postgres) insertControllers(ctx context.Context, identity *Identity) error {
	ex := s.execer(ctx)
	active := identity.State == StateActive
	for pos, c := range identity.Controllers {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO identity_controllers (did, controller, position, active)
			VALUES ($1, $2, $3, $4)`,
			identity.DID.String(), c.String(), pos, active)
		if err != nil {
			return translateConflict(err, "bind controller")
		}
	}
	return nil
}

func (s *Postgres) FindByDID(ctx context.Context, did id.DID) (*Identity, error) {
	identity, err := s.scanIdentity(ctx, `
		SELECT did, state, schema_version, enrolled_at, revoked_at, doc_sequence
		FROM identities WHERE did = $1`, did.String())
	if err != nil {
		return nil, err
	}
	if err := s.loadControllers(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *Postgres) FindActiveByController(ctx context.Context, ctrl id.ControllerID) (*Identity, error) {
	identity, err := s.scanIdentity(ctx, `
		SELECT i.did, i.state, i.schema_version, i.enrolled_at, i.revoked_at, i.doc_sequence
		FROM identities i
		JOIN identity_controllers c ON c.did = i.did
		WHERE c.controller = $1 AND c.active`, ctrl.String())
	if err != nil {
		return nil, err
	}
	if err := s.loadControllers(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *Postgres) scanIdentity(ctx context.Context, query string, arg any) (*Identity, error) {
	var (
		identity Identity
		did      string
		state    string
		version  string
		revoked  sql.NullTime
	)
	row := s.execer(ctx).QueryRowContext(ctx, query, arg)
	if err := row.Scan(&did, &state, &version, &identity.EnrolledAt, &revoked, &identity.DocSequence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity lookup: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}
	identity.DID = id.DID(did)
	identity.State = LifecycleState(state)
	identity.SchemaVersion = metadata.SchemaVersion(version)
	if revoked.Valid {
		t := revoked.Time.UTC()
		identity.RevokedAt = &t
	}
	identity.EnrolledAt = identity.EnrolledAt.UTC()
	return &identity, nil
}

func (s *Postgres) loadControllers(ctx context.Context, identity *Identity) error {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT controller FROM identity_controllers
		WHERE did = $1 ORDER BY position`, identity.DID.String())
	if err != nil {
		return fmt.Errorf("load controllers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return fmt.Errorf("scan controller: %w", err)
		}
		identity.Controllers = append(identity.Controllers, id.ControllerID(c))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate controllers: %w", err)
	}
	return nil
}

func translateConflict(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
