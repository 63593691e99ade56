package callback

import (
	"context"
	"database/sql"

	"voicebridge/pkg/utils"
)

// PostgresRepo stores callbacks in Postgres via database/sql (pgx stdlib driver).
//
// Expected schema:
//
//	CREATE TABLE callbacks (
//	    id             UUID PRIMARY KEY,
//	    call_sid       TEXT NOT NULL DEFAULT '',
//	    phone_number   TEXT NOT NULL,
//	    preferred_time TEXT NOT NULL,
//	    reason         TEXT NOT NULL DEFAULT '',
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    completed_at   TIMESTAMPTZ
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Insert(ctx context.Context, cb Callback) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO callbacks (id, call_sid, phone_number, preferred_time, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			cb.ID, cb.CallSID, cb.PhoneNumber, cb.PreferredTime, cb.Reason, cb.CreatedAt,
		)
		return err
	})
}

func (r *PostgresRepo) ListPending(ctx context.Context, limit int) ([]Callback, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, call_sid, phone_number, preferred_time, reason, created_at
		FROM callbacks
		WHERE completed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Callback
	for rows.Next() {
		var cb Callback
		if err := rows.Scan(&cb.ID, &cb.CallSID, &cb.PhoneNumber, &cb.PreferredTime, &cb.Reason, &cb.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}
