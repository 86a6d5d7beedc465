package db

import (
	"context"
	"database/sql"
	"errors"
)

// UsernameExists probes credentials and both backlog tables, the scope the
// promotion pipeline must keep collision-free.
func (d *DB) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `
SELECT (SELECT COUNT(1) FROM credentials WHERE username=?)
     + (SELECT COUNT(1) FROM provider_backlog WHERE username=?)
     + (SELECT COUNT(1) FROM seeker_backlog WHERE username=?)
`, username, username, username).Scan(&n)
	return n > 0, err
}

// ProviderBacklogEmailExists probes the provider backlog for an email.
func (d *DB) ProviderBacklogEmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM provider_backlog WHERE email=?`, email).Scan(&n)
	return n > 0, err
}

// SeekerBacklogEmailExists probes the seeker backlog for an email.
func (d *DB) SeekerBacklogEmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM seeker_backlog WHERE email=?`, email).Scan(&n)
	return n > 0, err
}

// CreateProviderBacklog stages a provider signup with status pending.
func (d *DB) CreateProviderBacklog(ctx context.Context, b ProviderBacklog) (int64, error) {
	if b.Username == "" || b.PasswordHash == "" {
		return 0, errors.New("username and password hash are required")
	}
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO provider_backlog(username, password_hash, first_name, middle_name, last_name, email, mobile_no, public_key, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
`, b.Username, b.PasswordHash, b.FirstName, b.MiddleName, b.LastName, b.Email, b.MobileNo, b.PublicKey, nowUnix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const providerBacklogCols = `id, username, password_hash, first_name, middle_name, last_name, email, mobile_no, public_key, status, created_at, decided_at`

func scanProviderBacklog(row interface{ Scan(...any) error }) (*ProviderBacklog, error) {
	var b ProviderBacklog
	var status string
	var decided sql.NullInt64
	err := row.Scan(&b.ID, &b.Username, &b.PasswordHash, &b.FirstName, &b.MiddleName, &b.LastName, &b.Email, &b.MobileNo, &b.PublicKey, &status, &b.CreatedAt, &decided)
	if err != nil {
		return nil, err
	}
	b.Status = BacklogStatus(status)
	b.DecidedAt = fromNullInt64(decided)
	return &b, nil
}

// GetProviderBacklogByID fetches one provider backlog entry.
func (d *DB) GetProviderBacklogByID(ctx context.Context, id int64) (*ProviderBacklog, bool, error) {
	b, err := scanProviderBacklog(d.sql.QueryRowContext(ctx, `SELECT `+providerBacklogCols+` FROM provider_backlog WHERE id=?`, id))
	if err == nil {
		return b, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// ListProviderBacklogByStatus returns backlog entries in a given status.
func (d *DB) ListProviderBacklogByStatus(ctx context.Context, status BacklogStatus) ([]ProviderBacklog, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT `+providerBacklogCols+` FROM provider_backlog WHERE status=? ORDER BY id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProviderBacklog
	for rows.Next() {
		b, err := scanProviderBacklog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// DecideProviderBacklog flips a pending entry to approved or rejected.
// The WHERE status='pending' guard makes the transition single-shot; it
// returns false when the entry was already decided (or missing).
func (d *DB) DecideProviderBacklog(ctx context.Context, id int64, to BacklogStatus) (bool, error) {
	if to != BacklogApproved && to != BacklogRejected {
		return false, errors.New("decision must be approved or rejected")
	}
	res, err := d.sql.ExecContext(ctx, `
UPDATE provider_backlog SET status=?, decided_at=? WHERE id=? AND status='pending'
`, string(to), nowUnix(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CreateSeekerBacklog stages a seeker signup with status pending.
func (d *DB) CreateSeekerBacklog(ctx context.Context, b SeekerBacklog) (int64, error) {
	if b.Username == "" || b.PasswordHash == "" {
		return 0, errors.New("username and password hash are required")
	}
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO seeker_backlog(username, password_hash, name, org_type, registration_no, email, contact_no, address, public_key, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
`, b.Username, b.PasswordHash, b.Name, b.OrgType, b.RegistrationNo, b.Email, b.ContactNo, b.Address, b.PublicKey, nowUnix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const seekerBacklogCols = `id, username, password_hash, name, org_type, registration_no, email, contact_no, address, public_key, status, created_at, decided_at`

func scanSeekerBacklog(row interface{ Scan(...any) error }) (*SeekerBacklog, error) {
	var b SeekerBacklog
	var status string
	var decided sql.NullInt64
	err := row.Scan(&b.ID, &b.Username, &b.PasswordHash, &b.Name, &b.OrgType, &b.RegistrationNo, &b.Email, &b.ContactNo, &b.Address, &b.PublicKey, &status, &b.CreatedAt, &decided)
	if err != nil {
		return nil, err
	}
	b.Status = BacklogStatus(status)
	b.DecidedAt = fromNullInt64(decided)
	return &b, nil
}

// GetSeekerBacklogByID fetches one seeker backlog entry.
func (d *DB) GetSeekerBacklogByID(ctx context.Context, id int64) (*SeekerBacklog, bool, error) {
	b, err := scanSeekerBacklog(d.sql.QueryRowContext(ctx, `SELECT `+seekerBacklogCols+` FROM seeker_backlog WHERE id=?`, id))
	if err == nil {
		return b, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// ListSeekerBacklogByStatus returns backlog entries in a given status.
func (d *DB) ListSeekerBacklogByStatus(ctx context.Context, status BacklogStatus) ([]SeekerBacklog, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT `+seekerBacklogCols+` FROM seeker_backlog WHERE status=? ORDER BY id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SeekerBacklog
	for rows.Next() {
		b, err := scanSeekerBacklog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// DecideSeekerBacklog is the seeker counterpart of DecideProviderBacklog.
func (d *DB) DecideSeekerBacklog(ctx context.Context, id int64, to BacklogStatus) (bool, error) {
	if to != BacklogApproved && to != BacklogRejected {
		return false, errors.New("decision must be approved or rejected")
	}
	res, err := d.sql.ExecContext(ctx, `
UPDATE seeker_backlog SET status=?, decided_at=? WHERE id=? AND status='pending'
`, string(to), nowUnix(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
