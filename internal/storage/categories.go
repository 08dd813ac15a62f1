package storage

import (
	"context"
	"fmt"
	"time"

	"tally/internal/core"
)

const categoryColumns = "id, name, type, color, icon, is_archived, created_at"

func (r *Repository) CreateCategory(ctx context.Context, c core.Category) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (name, type, color, icon, is_archived, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.Name, c.Type, c.Color, c.Icon, c.IsArchived, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("category %q (%s): %w", c.Name, c.Type, core.ErrDuplicate)
		}
		return 0, fmt.Errorf("insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("category id: %w", err)
	}
	return id, nil
}

func (r *Repository) GetCategory(ctx context.Context, id int64) (*core.Category, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+categoryColumns+" FROM categories WHERE id = ?", id)
	c, err := scanCategory(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("category %d", id))
	}
	return c, nil
}

func (r *Repository) ListCategories(ctx context.Context, categoryType *core.CategoryType) ([]core.Category, error) {
	query := "SELECT " + categoryColumns + " FROM categories WHERE is_archived = 0"
	var args []any
	if categoryType != nil {
		query += " AND type = ?"
		args = append(args, *categoryType)
	}
	query += " ORDER BY type, name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

func (r *Repository) UpdateCategory(ctx context.Context, c core.Category) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE categories SET name = ?, type = ?, color = ?, icon = ?, is_archived = ?
		WHERE id = ?`,
		c.Name, c.Type, c.Color, c.Icon, c.IsArchived, c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("category %q (%s): %w", c.Name, c.Type, core.ErrDuplicate)
		}
		return fmt.Errorf("update category: %w", err)
	}
	return requireRow(res, fmt.Sprintf("category %d", c.ID))
}

// DeleteCategory removes an unused category. Categories referenced by
// transactions or templates cannot be deleted; archive them instead.
func (r *Repository) DeleteCategory(ctx context.Context, id int64) error {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM transactions WHERE category_id = ?1 AND deleted_at IS NULL) +
			(SELECT COUNT(*) FROM recurring_templates WHERE category_id = ?1) +
			(SELECT COUNT(*) FROM shopping_lists WHERE category_id = ?1)`,
		id).Scan(&n)
	if err != nil {
		return fmt.Errorf("count category references: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("category %d has %d references: %w", id, n, core.ErrInvalidState)
	}

	res, err := r.db.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return requireRow(res, fmt.Sprintf("category %d", id))
}

func scanCategory(row rowScanner) (*core.Category, error) {
	var c core.Category
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Color, &c.Icon, &c.IsArchived, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
