package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

type consultantRow struct {
	ID        string  `gorm:"primaryKey"`
	AccountID *string `gorm:"uniqueIndex"`
	Name      string
}

func (consultantRow) TableName() string { return "consultants" }

type parentRow struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

func (parentRow) TableName() string { return "parents" }

type childRow struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	ConsultantID string  `gorm:"not null"`
	ParentID     *string `gorm:"index"`
}

func (childRow) TableName() string { return "children" }

type childJoin struct {
	ID             string
	Name           string
	ConsultantID   string
	ConsultantName string
	ParentID       string
	ParentName     string
}

// SQLiteDirectory is the embedded directory backing the SQLite store.
type SQLiteDirectory struct {
	db *gorm.DB
}

// NewSQLiteDirectory constructs a SQLiteDirectory over tables created by
// SQLiteStore.Migrate.
func NewSQLiteDirectory(db *gorm.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

func (d *SQLiteDirectory) children(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx).Table("children AS c").
		Select(`c.id, c.name, c.consultant_id, co.name AS consultant_name,
			COALESCE(c.parent_id, '') AS parent_id, COALESCE(p.name, '') AS parent_name`).
		Joins("JOIN consultants co ON co.id = c.consultant_id").
		Joins("LEFT JOIN parents p ON p.id = c.parent_id")
}

// Child returns the child with its consultant and parent, or model.ErrNotFound.
func (d *SQLiteDirectory) Child(ctx context.Context, childID string) (*model.Child, error) {
	var rows []childJoin
	if err := d.children(ctx).Where("c.id = ?", childID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	if len(rows) == 0 {
		return nil, model.ErrNotFound
	}
	c := model.Child(rows[0])
	return &c, nil
}

// ChildrenOfParent returns every child linked to the parent.
func (d *SQLiteDirectory) ChildrenOfParent(ctx context.Context, parentID string) ([]model.Child, error) {
	var rows []childJoin
	if err := d.children(ctx).Where("c.parent_id = ?", parentID).Order("c.id").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	out := make([]model.Child, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Child(r))
	}
	return out, nil
}

// ConsultantForAccount maps an authenticated account to its consultant id.
func (d *SQLiteDirectory) ConsultantForAccount(ctx context.Context, accountID string) (string, error) {
	var row consultantRow
	err := d.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get consultant: %w", err)
	}
	return row.ID, nil
}

// SaveConsultant upserts a consultant; accountID may be empty.
func (d *SQLiteDirectory) SaveConsultant(ctx context.Context, id, accountID, name string) error {
	row := consultantRow{ID: id, Name: name}
	if accountID != "" {
		row.AccountID = &accountID
	}
	return d.upsert(ctx, &row)
}

// SaveChild upserts the child together with its parent record.
func (d *SQLiteDirectory) SaveChild(ctx context.Context, c model.Child) error {
	row := childRow{ID: c.ID, Name: c.Name, ConsultantID: c.ConsultantID}
	if c.ParentID != "" {
		if err := d.upsert(ctx, &parentRow{ID: c.ParentID, Name: c.ParentName}); err != nil {
			return err
		}
		row.ParentID = &c.ParentID
	}
	return d.upsert(ctx, &row)
}

func (d *SQLiteDirectory) upsert(ctx context.Context, row any) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	if err != nil {
		return fmt.Errorf("save directory row: %w", err)
	}
	return nil
}
