package tribe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tribechat/internal/apperrors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the tribe and enrolls the owner as its first member.
func (r *Repository) Create(ctx context.Context, name string, ownerID int) (*Tribe, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t := &Tribe{Name: name, OwnerID: ownerID}
	err = tx.QueryRowContext(ctx,
		"INSERT INTO tribes (name, owner_id) VALUES ($1, $2) RETURNING id, created_at",
		name, ownerID,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO tribe_members (tribe_id, user_id) VALUES ($1, $2)",
		t.ID, ownerID,
	)
	if err != nil {
		return nil, err
	}

	return t, tx.Commit()
}

func (r *Repository) Join(ctx context.Context, tribeID, userID int) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM tribes WHERE id = $1)", tribeID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("tribe %d: %w", tribeID, apperrors.ErrNotFound)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO tribe_members (tribe_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		tribeID, userID,
	)
	return err
}

func (r *Repository) IsMember(ctx context.Context, tribeID, userID int) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM tribe_members WHERE tribe_id = $1 AND user_id = $2)",
		tribeID, userID,
	).Scan(&ok)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}
