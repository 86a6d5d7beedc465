package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateCredential inserts a login identity and returns its ID.
func (d *DB) CreateCredential(ctx context.Context, username, passwordHash string, role Role) (int64, error) {
	if username == "" || passwordHash == "" || role == "" {
		return 0, errors.New("username, password hash, and role are required")
	}
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO credentials(username, password_hash, role, created_at) VALUES(?, ?, ?, ?)
`, username, passwordHash, string(role), nowUnix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetCredentialByUsername looks up a credential by username.
func (d *DB) GetCredentialByUsername(ctx context.Context, username string) (*Credential, bool, error) {
	var c Credential
	var role string
	err := d.sql.QueryRowContext(ctx, `
SELECT id, username, password_hash, role, created_at FROM credentials WHERE username=?
`, username).Scan(&c.ID, &c.Username, &c.PasswordHash, &role, &c.CreatedAt)
	if err == nil {
		c.Role = Role(role)
		return &c, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// GetCredentialByID looks up a credential by ID.
func (d *DB) GetCredentialByID(ctx context.Context, id int64) (*Credential, bool, error) {
	var c Credential
	var role string
	err := d.sql.QueryRowContext(ctx, `
SELECT id, username, password_hash, role, created_at FROM credentials WHERE id=?
`, id).Scan(&c.ID, &c.Username, &c.PasswordHash, &role, &c.CreatedAt)
	if err == nil {
		c.Role = Role(role)
		return &c, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// SetCredentialPasswordHash updates a credential's password hash.
func (d *DB) SetCredentialPasswordHash(ctx context.Context, id int64, passwordHash string) error {
	if id <= 0 || passwordHash == "" {
		return errors.New("credential id and password hash are required")
	}
	_, err := d.sql.ExecContext(ctx, `UPDATE credentials SET password_hash=? WHERE id=?`, passwordHash, id)
	return err
}

// CreateProviderWithCredential atomically creates a credential and its
// provider profile in one transaction, so promotion never leaves a
// credential without a profile.
func (d *DB) CreateProviderWithCredential(ctx context.Context, username, passwordHash string, p Provider) (credID, providerID int64, err error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUnix()
	res, err := tx.ExecContext(ctx, `
INSERT INTO credentials(username, password_hash, role, created_at) VALUES(?, ?, 'provider', ?)
`, username, passwordHash, now)
	if err != nil {
		return 0, 0, fmt.Errorf("insert credential: %w", err)
	}
	credID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx, `
INSERT INTO providers(credential_id, first_name, middle_name, last_name, email, mobile_no, public_key, is_active, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, 1, ?)
`, credID, p.FirstName, p.MiddleName, p.LastName, p.Email, p.MobileNo, p.PublicKey, now)
	if err != nil {
		return 0, 0, fmt.Errorf("insert provider profile: %w", err)
	}
	providerID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	return credID, providerID, tx.Commit()
}

// CreateSeekerWithCredential is the seeker counterpart of
// CreateProviderWithCredential.
func (d *DB) CreateSeekerWithCredential(ctx context.Context, username, passwordHash string, s Seeker) (credID, seekerID int64, err error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUnix()
	res, err := tx.ExecContext(ctx, `
INSERT INTO credentials(username, password_hash, role, created_at) VALUES(?, ?, 'seeker', ?)
`, username, passwordHash, now)
	if err != nil {
		return 0, 0, fmt.Errorf("insert credential: %w", err)
	}
	credID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx, `
INSERT INTO seekers(credential_id, name, org_type, registration_no, email, contact_no, address, public_key, is_active, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
`, credID, s.Name, s.OrgType, s.RegistrationNo, s.Email, s.ContactNo, s.Address, s.PublicKey, now)
	if err != nil {
		return 0, 0, fmt.Errorf("insert seeker profile: %w", err)
	}
	seekerID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	return credID, seekerID, tx.Commit()
}

// CreateAdminWithCredential creates an admin credential and profile. Used
// by setup to bootstrap the first administrator.
func (d *DB) CreateAdminWithCredential(ctx context.Context, username, passwordHash, name, email string) (credID, adminID int64, err error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUnix()
	res, err := tx.ExecContext(ctx, `
INSERT INTO credentials(username, password_hash, role, created_at) VALUES(?, ?, 'admin', ?)
`, username, passwordHash, now)
	if err != nil {
		return 0, 0, fmt.Errorf("insert credential: %w", err)
	}
	credID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx, `
INSERT INTO admins(credential_id, name, email, is_active, created_at) VALUES(?, ?, ?, 1, ?)
`, credID, name, email, now)
	if err != nil {
		return 0, 0, fmt.Errorf("insert admin profile: %w", err)
	}
	adminID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	return credID, adminID, tx.Commit()
}

const providerCols = `id, credential_id, first_name, middle_name, last_name, email, mobile_no, public_key, is_active, created_at`

func scanProvider(row interface{ Scan(...any) error }) (*Provider, error) {
	var p Provider
	var active int
	err := row.Scan(&p.ID, &p.CredentialID, &p.FirstName, &p.MiddleName, &p.LastName, &p.Email, &p.MobileNo, &p.PublicKey, &active, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.IsActive = active != 0
	return &p, nil
}

// GetProviderByID looks up a provider profile by ID.
func (d *DB) GetProviderByID(ctx context.Context, id int64) (*Provider, bool, error) {
	p, err := scanProvider(d.sql.QueryRowContext(ctx, `SELECT `+providerCols+` FROM providers WHERE id=?`, id))
	if err == nil {
		return p, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// GetProviderByCredentialID resolves the profile behind a credential.
func (d *DB) GetProviderByCredentialID(ctx context.Context, credentialID int64) (*Provider, bool, error) {
	p, err := scanProvider(d.sql.QueryRowContext(ctx, `SELECT `+providerCols+` FROM providers WHERE credential_id=?`, credentialID))
	if err == nil {
		return p, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// GetProviderByUsername resolves a provider profile via its credential.
func (d *DB) GetProviderByUsername(ctx context.Context, username string) (*Provider, bool, error) {
	p, err := scanProvider(d.sql.QueryRowContext(ctx, `
SELECT p.id, p.credential_id, p.first_name, p.middle_name, p.last_name, p.email, p.mobile_no, p.public_key, p.is_active, p.created_at
FROM providers p JOIN credentials c ON c.id = p.credential_id
WHERE c.username=? AND c.role='provider'
`, username))
	if err == nil {
		return p, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// ProviderEmailExists probes the active provider table for an email.
func (d *DB) ProviderEmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM providers WHERE email=?`, email).Scan(&n)
	return n > 0, err
}

// SetProviderActive toggles a provider's active flag. It does not cascade
// to data items or consents.
func (d *DB) SetProviderActive(ctx context.Context, id int64, active bool) (bool, error) {
	res, err := d.sql.ExecContext(ctx, `UPDATE providers SET is_active=? WHERE id=?`, boolToInt(active), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListProvidersByActive returns all provider profiles with the given flag.
func (d *DB) ListProvidersByActive(ctx context.Context, active bool) ([]Provider, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT `+providerCols+` FROM providers WHERE is_active=? ORDER BY id ASC`, boolToInt(active))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const seekerCols = `id, credential_id, name, org_type, registration_no, email, contact_no, address, public_key, is_active, created_at`

func scanSeeker(row interface{ Scan(...any) error }) (*Seeker, error) {
	var s Seeker
	var active int
	err := row.Scan(&s.ID, &s.CredentialID, &s.Name, &s.OrgType, &s.RegistrationNo, &s.Email, &s.ContactNo, &s.Address, &s.PublicKey, &active, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.IsActive = active != 0
	return &s, nil
}

// GetSeekerByID looks up a seeker profile by ID.
func (d *DB) GetSeekerByID(ctx context.Context, id int64) (*Seeker, bool, error) {
	s, err := scanSeeker(d.sql.QueryRowContext(ctx, `SELECT `+seekerCols+` FROM seekers WHERE id=?`, id))
	if err == nil {
		return s, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// GetSeekerByCredentialID resolves the profile behind a credential.
func (d *DB) GetSeekerByCredentialID(ctx context.Context, credentialID int64) (*Seeker, bool, error) {
	s, err := scanSeeker(d.sql.QueryRowContext(ctx, `SELECT `+seekerCols+` FROM seekers WHERE credential_id=?`, credentialID))
	if err == nil {
		return s, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// SeekerEmailExists probes the active seeker table for an email.
func (d *DB) SeekerEmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM seekers WHERE email=?`, email).Scan(&n)
	return n > 0, err
}

// SetSeekerActive toggles a seeker's active flag.
func (d *DB) SetSeekerActive(ctx context.Context, id int64, active bool) (bool, error) {
	res, err := d.sql.ExecContext(ctx, `UPDATE seekers SET is_active=? WHERE id=?`, boolToInt(active), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListSeekersByActive returns all seeker profiles with the given flag.
func (d *DB) ListSeekersByActive(ctx context.Context, active bool) ([]Seeker, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT `+seekerCols+` FROM seekers WHERE is_active=? ORDER BY id ASC`, boolToInt(active))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Seeker
	for rows.Next() {
		s, err := scanSeeker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// GetAdminByCredentialID resolves an admin profile behind a credential.
func (d *DB) GetAdminByCredentialID(ctx context.Context, credentialID int64) (*Admin, bool, error) {
	var a Admin
	var active int
	err := d.sql.QueryRowContext(ctx, `
SELECT id, credential_id, name, email, is_active, created_at FROM admins WHERE credential_id=?
`, credentialID).Scan(&a.ID, &a.CredentialID, &a.Name, &a.Email, &active, &a.CreatedAt)
	if err == nil {
		a.IsActive = active != 0
		return &a, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}
