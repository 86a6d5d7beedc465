package db

import (
	"context"
	"database/sql"
	"errors"
)

// CreateConsent inserts a new pending consent with access count zero.
// The partial unique index on open consents rejects a second pending or
// approved row for the same (item, seeker) pair.
func (d *DB) CreateConsent(ctx context.Context, c Consent) (int64, error) {
	if c.DataItemID <= 0 || c.SeekerID <= 0 || c.ProviderID <= 0 {
		return 0, errors.New("data item, seeker, and provider ids are required")
	}
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO consents(data_item_id, seeker_id, provider_id, status, requested_at, expires_at, access_count, max_access_count)
VALUES(?, ?, ?, 'pending', ?, ?, 0, ?)
`, c.DataItemID, c.SeekerID, c.ProviderID, nowUnix(), nullInt64(c.ExpiresAt), nullInt64(c.MaxAccessCount))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const consentCols = `id, data_item_id, seeker_id, provider_id, status, wrapped_key_for_seeker, requested_at, approved_at, expires_at, access_count, max_access_count`

func scanConsent(row interface{ Scan(...any) error }) (*Consent, error) {
	var c Consent
	var status string
	var approvedAt, expiresAt, maxCount sql.NullInt64
	err := row.Scan(&c.ID, &c.DataItemID, &c.SeekerID, &c.ProviderID, &status, &c.WrappedKeyForSeeker, &c.RequestedAt, &approvedAt, &expiresAt, &c.AccessCount, &maxCount)
	if err != nil {
		return nil, err
	}
	c.Status = ConsentStatus(status)
	c.ApprovedAt = fromNullInt64(approvedAt)
	c.ExpiresAt = fromNullInt64(expiresAt)
	c.MaxAccessCount = fromNullInt64(maxCount)
	return &c, nil
}

// GetConsentByID looks up a consent by ID.
func (d *DB) GetConsentByID(ctx context.Context, id int64) (*Consent, bool, error) {
	c, err := scanConsent(d.sql.QueryRowContext(ctx, `SELECT `+consentCols+` FROM consents WHERE id=?`, id))
	if err == nil {
		return c, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// GetOpenConsentForPair returns the pending or approved consent for an
// (item, seeker) pair, if one exists. Rejected rows are ignored; the open
// row is unique by index.
func (d *DB) GetOpenConsentForPair(ctx context.Context, dataItemID, seekerID int64) (*Consent, bool, error) {
	c, err := scanConsent(d.sql.QueryRowContext(ctx, `
SELECT `+consentCols+` FROM consents
WHERE data_item_id=? AND seeker_id=? AND status IN ('pending','approved')
`, dataItemID, seekerID))
	if err == nil {
		return c, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// GetConsentForPair returns the consent the access gate should judge:
// the open row when one exists, otherwise the most recent decided row.
func (d *DB) GetConsentForPair(ctx context.Context, dataItemID, seekerID int64) (*Consent, bool, error) {
	c, err := scanConsent(d.sql.QueryRowContext(ctx, `
SELECT `+consentCols+` FROM consents
WHERE data_item_id=? AND seeker_id=?
ORDER BY CASE WHEN status IN ('pending','approved') THEN 0 ELSE 1 END, id DESC
LIMIT 1
`, dataItemID, seekerID))
	if err == nil {
		return c, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// DecideConsent transitions a pending consent to approved or rejected in a
// single conditional write. Two concurrent decisions cannot both succeed:
// the losing call sees zero rows affected and returns false.
func (d *DB) DecideConsent(ctx context.Context, id int64, to ConsentStatus, approvedAt *int64, wrappedKeyForSeeker []byte) (bool, error) {
	if to != ConsentApproved && to != ConsentRejected {
		return false, errors.New("decision must be approved or rejected")
	}
	res, err := d.sql.ExecContext(ctx, `
UPDATE consents SET status=?, approved_at=?, wrapped_key_for_seeker=?
WHERE id=? AND status='pending'
`, string(to), nullInt64(approvedAt), wrappedKeyForSeeker, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IncrementAccessCount bumps a consent's access count by one, but only
// while the consent is approved, unexpired at nowUnix, and below its max
// access count. All guards live in the statement so concurrent callers
// cannot both pass a read-then-write check; the losing caller sees false.
func (d *DB) IncrementAccessCount(ctx context.Context, id int64, nowUnix int64) (bool, error) {
	res, err := d.sql.ExecContext(ctx, `
UPDATE consents SET access_count = access_count + 1
WHERE id=? AND status='approved'
  AND (expires_at IS NULL OR expires_at >= ?)
  AND (max_access_count IS NULL OR access_count < max_access_count)
`, id, nowUnix)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListConsentsByProviderAndStatus lists a provider's consents in a status.
func (d *DB) ListConsentsByProviderAndStatus(ctx context.Context, providerID int64, status ConsentStatus) ([]Consent, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT `+consentCols+` FROM consents WHERE provider_id=? AND status=? ORDER BY id ASC
`, providerID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConsents(rows)
}

// ListConsentsBySeeker lists every consent a seeker has requested.
func (d *DB) ListConsentsBySeeker(ctx context.Context, seekerID int64) ([]Consent, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT `+consentCols+` FROM consents WHERE seeker_id=? ORDER BY id ASC
`, seekerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConsents(rows)
}

func collectConsents(rows *sql.Rows) ([]Consent, error) {
	var out []Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
