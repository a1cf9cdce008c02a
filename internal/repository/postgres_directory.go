package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

const childQuery = `SELECT c.id, c.name, c.consultant_id, co.name, COALESCE(c.parent_id, ''), COALESCE(p.name, '')
	FROM children c
	JOIN consultants co ON co.id = c.consultant_id
	LEFT JOIN parents p ON p.id = c.parent_id`

// PostgresDirectory reads child assignments from the platform tables.
type PostgresDirectory struct {
	db *pgxpool.Pool
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Child returns the child with its consultant and parent, or model.ErrNotFound.
func (d *PostgresDirectory) Child(ctx context.Context, childID string) (*model.Child, error) {
	var c model.Child
	err := d.db.QueryRow(ctx, childQuery+` WHERE c.id = $1`, childID).
		Scan(&c.ID, &c.Name, &c.ConsultantID, &c.ConsultantName, &c.ParentID, &c.ParentName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get child: %w", err)
	}
	return &c, nil
}

// ChildrenOfParent returns every child linked to the parent.
func (d *PostgresDirectory) ChildrenOfParent(ctx context.Context, parentID string) ([]model.Child, error) {
	rows, err := d.db.Query(ctx, childQuery+` WHERE c.parent_id = $1 ORDER BY c.id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var out []model.Child
	for rows.Next() {
		var c model.Child
		if err := rows.Scan(&c.ID, &c.Name, &c.ConsultantID, &c.ConsultantName, &c.ParentID, &c.ParentName); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConsultantForAccount maps an authenticated account to its consultant id.
func (d *PostgresDirectory) ConsultantForAccount(ctx context.Context, accountID string) (string, error) {
	var id string
	err := d.db.QueryRow(ctx, `SELECT id FROM consultants WHERE account_id = $1`, accountID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", model.ErrNotFound
		}
		return "", fmt.Errorf("get consultant: %w", err)
	}
	return id, nil
}
