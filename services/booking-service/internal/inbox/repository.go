package inbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotbook/libs/db"
)

type Repository struct {
	db db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// Record stores eventID and reports false when it was already processed.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}

// Forget removes eventID so a failed handler can see the event again.
func (r *Repository) Forget(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID)
	return err
}
