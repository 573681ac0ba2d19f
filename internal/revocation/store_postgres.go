package revocation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "unum/pkg/domain"
)

// PostgresRecordStore persists ledger records. The table carries no
// update path at all; the store only ever inserts.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

// EnsureSchema creates the ledger table. Safe to call at every startup.
func (s *PostgresRecordStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS revocation_records (
		id                UUID PRIMARY KEY,
		did               TEXT NOT NULL,
		record_type       TEXT NOT NULL,
		reason            TEXT NOT NULL DEFAULT '',
		actor             TEXT NOT NULL,
		prior_controllers TEXT[] NOT NULL,
		new_controllers   TEXT[] NOT NULL,
		doc_sequence      INT NOT NULL,
		occurred_at       TIMESTAMPTZ NOT NULL,
		anchor_tx_id      TEXT NOT NULL DEFAULT '',
		seq               BIGSERIAL
	);
	CREATE INDEX IF NOT EXISTS revocation_records_did ON revocation_records (did, seq);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure revocation schema: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) Append(ctx context.Context, record Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revocation_records
			(id, did, record_type, reason, actor, prior_controllers, new_controllers, doc_sequence, occurred_at, anchor_tx_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID,
		record.DID.String(),
		string(record.Type),
		record.Reason,
		record.ActorID.String(),
		pq.Array(controllerStrings(record.PriorControllers)),
		pq.Array(controllerStrings(record.NewControllers)),
		record.DocSequence,
		record.OccurredAt,
		record.AnchorTxID,
	)
	if err != nil {
		return fmt.Errorf("append revocation record: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) ListByDID(ctx context.Context, did id.DID) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, did, record_type, reason, actor, prior_controllers, new_controllers, doc_sequence, occurred_at, anchor_tx_id
		FROM revocation_records
		WHERE did = $1
		ORDER BY seq`,
		did.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list revocation records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			didStr     string
			recordType string
			actor      string
			prior      pq.StringArray
			next       pq.StringArray
		)
		if err := rows.Scan(&r.ID, &didStr, &recordType, &r.Reason, &actor, &prior, &next, &r.DocSequence, &r.OccurredAt, &r.AnchorTxID); err != nil {
			return nil, fmt.Errorf("scan revocation record: %w", err)
		}
		r.DID = id.DID(didStr)
		r.Type = RecordType(recordType)
		r.ActorID = id.ControllerID(actor)
		r.PriorControllers = controllerIDs(prior)
		r.NewControllers = controllerIDs(next)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list revocation records: %w", err)
	}
	return out, nil
}

func controllerStrings(controllers []id.ControllerID) []string {
	out := make([]string, len(controllers))
	for i, c := range controllers {
		out[i] = c.String()
	}
	return out
}

func controllerIDs(values []string) []id.ControllerID {
	if len(values) == 0 {
		return nil
	}
	out := make([]id.ControllerID, len(values))
	for i, v := range values {
		out[i] = id.ControllerID(v)
	}
	return out
}
