package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tally/internal/core"

	"github.com/shopspring/decimal"
)

const listColumns = `id, name, account_id, category_id, status, total_amount,
	transaction_id, confirmed_at, completed_at, created_at, updated_at`

func (r *Repository) CreateList(ctx context.Context, list core.ShoppingList) (int64, error) {
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO shopping_lists (name, account_id, category_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			list.Name, list.AccountID, list.CategoryID, core.ListDraft, now, now)
		if err != nil {
			return fmt.Errorf("insert list: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("list id: %w", err)
		}
		for _, item := range list.Items {
			if _, err := insertItem(ctx, tx, id, item, now); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

func (r *Repository) GetList(ctx context.Context, id int64) (*core.ShoppingList, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+listColumns+" FROM shopping_lists WHERE id = ?", id)
	list, err := scanList(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("shopping list %d", id))
	}
	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	list.Items = items
	return list, nil
}

func (r *Repository) ListLists(ctx context.Context, status *core.ListStatus) ([]core.ShoppingList, error) {
	query := "SELECT " + listColumns + " FROM shopping_lists"
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, *status)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shopping lists: %w", err)
	}
	defer rows.Close()

	var lists []core.ShoppingList
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, *list)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.attachItems(ctx, lists)
}

// attachItems loads the items for every list in one query instead of one
// per list.
func (r *Repository) attachItems(ctx context.Context, lists []core.ShoppingList) ([]core.ShoppingList, error) {
	if len(lists) == 0 {
		return lists, nil
	}
	byID := make(map[int64]*core.ShoppingList, len(lists))
	placeholders := make([]string, len(lists))
	args := make([]any, len(lists))
	for i := range lists {
		byID[lists[i].ID] = &lists[i]
		placeholders[i] = "?"
		args[i] = lists[i].ID
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM shopping_items WHERE list_id IN ("+strings.Join(placeholders, ", ")+") ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("load list items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		if list, ok := byID[item.ListID]; ok {
			list.Items = append(list.Items, *item)
		}
	}
	return lists, rows.Err()
}

func (r *Repository) UpdateList(ctx context.Context, list core.ShoppingList) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shopping_lists
		SET name = ?, account_id = ?, category_id = ?, updated_at = ?
		WHERE id = ?`,
		list.Name, list.AccountID, list.CategoryID, time.Now().UTC(), list.ID)
	if err != nil {
		return fmt.Errorf("update list: %w", err)
	}
	return requireRow(res, fmt.Sprintf("shopping list %d", list.ID))
}

func (r *Repository) DeleteList(ctx context.Context, id int64) error {
	// Items cascade with the list.
	res, err := r.db.ExecContext(ctx, "DELETE FROM shopping_lists WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return requireRow(res, fmt.Sprintf("shopping list %d", id))
}

func (r *Repository) SetListConfirmed(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shopping_lists
		SET status = ?, confirmed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		core.ListConfirmed, at.UTC(), time.Now().UTC(), id, core.ListDraft)
	if err != nil {
		return fmt.Errorf("confirm list: %w", err)
	}
	return requireTransition(res, id, core.ListDraft)
}

// SetListDraft reverts a confirmed list and clears every check mark along
// with the confirmation stamp.
func (r *Repository) SetListDraft(ctx context.Context, id int64) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE shopping_lists
			SET status = ?, confirmed_at = NULL, updated_at = ?
			WHERE id = ? AND status = ?`,
			core.ListDraft, time.Now().UTC(), id, core.ListConfirmed)
		if err != nil {
			return fmt.Errorf("revert list: %w", err)
		}
		if err := requireTransition(res, id, core.ListConfirmed); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE shopping_items SET is_checked = 0 WHERE list_id = ?", id); err != nil {
			return fmt.Errorf("uncheck items: %w", err)
		}
		return nil
	})
}

func (r *Repository) MarkListCompleted(ctx context.Context, id int64, total decimal.Decimal, transactionID *int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shopping_lists
		SET status = ?, total_amount = ?, transaction_id = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		core.ListCompleted, decToDB(total), nullInt64ToDB(transactionID), at.UTC(), time.Now().UTC(),
		id, core.ListConfirmed)
	if err != nil {
		return fmt.Errorf("complete list: %w", err)
	}
	return requireTransition(res, id, core.ListConfirmed)
}

// requireTransition maps a zero-row guarded status update to ErrInvalidState:
// the list either vanished or left the expected state under our feet.
func requireTransition(res interface{ RowsAffected() (int64, error) }, id int64, want core.ListStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: shopping list %d is not %s", core.ErrInvalidState, id, want)
	}
	return nil
}

const itemColumns = "id, list_id, name, quantity, price, is_checked, created_at"

func (r *Repository) AddItem(ctx context.Context, item core.ShoppingItem) (int64, error) {
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertItem(ctx, tx, item.ListID, item, time.Now().UTC())
		return err
	})
	return id, err
}

func insertItem(ctx context.Context, tx *sql.Tx, listID int64, item core.ShoppingItem, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO shopping_items (list_id, name, quantity, price, is_checked, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		listID, item.Name, item.Quantity, nullDecToDB(item.Price), item.IsChecked, now)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("item id: %w", err)
	}
	return id, nil
}

func (r *Repository) GetItem(ctx context.Context, listID, itemID int64) (*core.ShoppingItem, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM shopping_items WHERE id = ? AND list_id = ?", itemID, listID)
	item, err := scanItem(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("item %d in list %d", itemID, listID))
	}
	return item, nil
}

func (r *Repository) UpdateItem(ctx context.Context, item core.ShoppingItem) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shopping_items
		SET name = ?, quantity = ?, price = ?, is_checked = ?
		WHERE id = ? AND list_id = ?`,
		item.Name, item.Quantity, nullDecToDB(item.Price), item.IsChecked, item.ID, item.ListID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return requireRow(res, fmt.Sprintf("item %d in list %d", item.ID, item.ListID))
}

func (r *Repository) DeleteItem(ctx context.Context, listID, itemID int64) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM shopping_items WHERE id = ? AND list_id = ?", itemID, listID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return requireRow(res, fmt.Sprintf("item %d in list %d", itemID, listID))
}

func (r *Repository) listItems(ctx context.Context, listID int64) ([]core.ShoppingItem, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM shopping_items WHERE list_id = ? ORDER BY id", listID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []core.ShoppingItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanList(row rowScanner) (*core.ShoppingList, error) {
	var (
		list          core.ShoppingList
		totalAmount   sql.NullString
		transactionID sql.NullInt64
		confirmedAt   sql.NullTime
		completedAt   sql.NullTime
	)
	err := row.Scan(&list.ID, &list.Name, &list.AccountID, &list.CategoryID, &list.Status,
		&totalAmount, &transactionID, &confirmedAt, &completedAt,
		&list.CreatedAt, &list.UpdatedAt)
	if err != nil {
		return nil, err
	}

	list.TransactionID = nullInt64FromDB(transactionID)
	list.ConfirmedAt = nullTimeFromDB(confirmedAt)
	list.CompletedAt = nullTimeFromDB(completedAt)
	if list.TotalAmount, err = nullDecFromDB(totalAmount); err != nil {
		return nil, err
	}
	return &list, nil
}

func scanItem(row rowScanner) (*core.ShoppingItem, error) {
	var (
		item  core.ShoppingItem
		price sql.NullString
	)
	err := row.Scan(&item.ID, &item.ListID, &item.Name, &item.Quantity, &price,
		&item.IsChecked, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	if item.Price, err = nullDecFromDB(price); err != nil {
		return nil, err
	}
	return &item, nil
}

const shoppingTemplateColumns = "id, name, color, icon, default_account_id, default_category_id, created_at"

func (r *Repository) CreateShoppingTemplate(ctx context.Context, tpl core.ShoppingTemplate) (int64, error) {
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO shopping_templates (name, color, icon, default_account_id, default_category_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			tpl.Name, tpl.Color, tpl.Icon,
			nullInt64ToDB(tpl.DefaultAccountID), nullInt64ToDB(tpl.DefaultCategoryID),
			time.Now().UTC())
		if err != nil {
			return fmt.Errorf("insert shopping template: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("shopping template id: %w", err)
		}
		return insertTemplateItems(ctx, tx, id, tpl.Items)
	})
	return id, err
}

func (r *Repository) GetShoppingTemplate(ctx context.Context, id int64) (*core.ShoppingTemplate, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+shoppingTemplateColumns+" FROM shopping_templates WHERE id = ?", id)
	tpl, err := scanShoppingTemplate(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("shopping template %d", id))
	}
	items, err := r.listTemplateItems(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl.Items = items
	return tpl, nil
}

func (r *Repository) ListShoppingTemplates(ctx context.Context) ([]core.ShoppingTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+shoppingTemplateColumns+" FROM shopping_templates ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("list shopping templates: %w", err)
	}
	defer rows.Close()

	var templates []core.ShoppingTemplate
	for rows.Next() {
		tpl, err := scanShoppingTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range templates {
		if templates[i].Items, err = r.listTemplateItems(ctx, templates[i].ID); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

// UpdateShoppingTemplate replaces the template's fields and its whole item
// set in one transaction.
func (r *Repository) UpdateShoppingTemplate(ctx context.Context, tpl core.ShoppingTemplate) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE shopping_templates
			SET name = ?, color = ?, icon = ?, default_account_id = ?, default_category_id = ?
			WHERE id = ?`,
			tpl.Name, tpl.Color, tpl.Icon,
			nullInt64ToDB(tpl.DefaultAccountID), nullInt64ToDB(tpl.DefaultCategoryID), tpl.ID)
		if err != nil {
			return fmt.Errorf("update shopping template: %w", err)
		}
		if err := requireRow(res, fmt.Sprintf("shopping template %d", tpl.ID)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM shopping_template_items WHERE template_id = ?", tpl.ID); err != nil {
			return fmt.Errorf("clear template items: %w", err)
		}
		return insertTemplateItems(ctx, tx, tpl.ID, tpl.Items)
	})
}

func (r *Repository) DeleteShoppingTemplate(ctx context.Context, id int64) error {
	// Template items cascade.
	res, err := r.db.ExecContext(ctx, "DELETE FROM shopping_templates WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete shopping template: %w", err)
	}
	return requireRow(res, fmt.Sprintf("shopping template %d", id))
}

func insertTemplateItems(ctx context.Context, tx *sql.Tx, templateID int64, items []core.ShoppingTemplateItem) error {
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO shopping_template_items (template_id, name, default_quantity, default_price)
			VALUES (?, ?, ?, ?)`,
			templateID, item.Name, item.DefaultQuantity, nullDecToDB(item.DefaultPrice))
		if err != nil {
			return fmt.Errorf("insert template item %q: %w", item.Name, err)
		}
	}
	return nil
}

func scanShoppingTemplate(row rowScanner) (*core.ShoppingTemplate, error) {
	var (
		tpl        core.ShoppingTemplate
		accountID  sql.NullInt64
		categoryID sql.NullInt64
	)
	err := row.Scan(&tpl.ID, &tpl.Name, &tpl.Color, &tpl.Icon,
		&accountID, &categoryID, &tpl.CreatedAt)
	if err != nil {
		return nil, err
	}
	tpl.DefaultAccountID = nullInt64FromDB(accountID)
	tpl.DefaultCategoryID = nullInt64FromDB(categoryID)
	return &tpl, nil
}

func (r *Repository) listTemplateItems(ctx context.Context, templateID int64) ([]core.ShoppingTemplateItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, template_id, name, default_quantity, default_price
		FROM shopping_template_items WHERE template_id = ? ORDER BY id`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template items: %w", err)
	}
	defer rows.Close()

	var items []core.ShoppingTemplateItem
	for rows.Next() {
		var (
			item  core.ShoppingTemplateItem
			price sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.TemplateID, &item.Name, &item.DefaultQuantity, &price); err != nil {
			return nil, err
		}
		if item.DefaultPrice, err = nullDecFromDB(price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
