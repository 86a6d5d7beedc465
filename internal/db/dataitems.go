package db

import (
	"context"
	"database/sql"
	"errors"
)

// CreateDataItem stores an item's ciphertext (or blob reference) and its
// wrapped symmetric key. WrappedKey may be nil for unencrypted items.
func (d *DB) CreateDataItem(ctx context.Context, item DataItem) (int64, error) {
	if item.ProviderID <= 0 || item.Name == "" {
		return 0, errors.New("provider id and name are required")
	}
	if item.Type != ItemText && item.Type != ItemFile {
		return 0, errors.New("item type must be text or file")
	}
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO data_items(provider_id, name, item_type, ciphertext, blob_ref, wrapped_key, is_active, created_at)
VALUES(?, ?, ?, ?, ?, ?, 1, ?)
`, item.ProviderID, item.Name, string(item.Type), item.Ciphertext, item.BlobRef, item.WrappedKey, nowUnix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const dataItemCols = `id, provider_id, name, item_type, ciphertext, blob_ref, wrapped_key, is_active, created_at`

func scanDataItem(row interface{ Scan(...any) error }) (*DataItem, error) {
	var it DataItem
	var typ string
	var active int
	err := row.Scan(&it.ID, &it.ProviderID, &it.Name, &typ, &it.Ciphertext, &it.BlobRef, &it.WrappedKey, &active, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	it.Type = ItemType(typ)
	it.IsActive = active != 0
	return &it, nil
}

// GetDataItemByID looks up a data item by ID.
func (d *DB) GetDataItemByID(ctx context.Context, id int64) (*DataItem, bool, error) {
	it, err := scanDataItem(d.sql.QueryRowContext(ctx, `SELECT `+dataItemCols+` FROM data_items WHERE id=?`, id))
	if err == nil {
		return it, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// ListDataItemsByProvider returns a provider's items, optionally only the
// active ones.
func (d *DB) ListDataItemsByProvider(ctx context.Context, providerID int64, activeOnly bool) ([]DataItem, error) {
	q := `SELECT ` + dataItemCols + ` FROM data_items WHERE provider_id=?`
	if activeOnly {
		q += ` AND is_active=1`
	}
	q += ` ORDER BY id ASC`
	rows, err := d.sql.QueryContext(ctx, q, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DataItem
	for rows.Next() {
		it, err := scanDataItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// DeactivateDataItem soft-deletes an item if the caller owns it.
// Consents referencing the item are left untouched; the access gate
// refuses inactive items on read.
func (d *DB) DeactivateDataItem(ctx context.Context, id, providerID int64) (bool, error) {
	res, err := d.sql.ExecContext(ctx, `
UPDATE data_items SET is_active=0 WHERE id=? AND provider_id=?
`, id, providerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
