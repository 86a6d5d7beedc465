package setup

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"consentdesk/internal/auth"
	"consentdesk/internal/db"
	"consentdesk/internal/validate"
)

type ResetAdminOptions struct {
	DBPath           string
	Username         string
	AdminPassword    string
	AdminPasswordEnv bool
}

// ResetAdmin replaces an admin credential's password hash. The reset is
// local-only and does not require the server to be running.
func ResetAdmin(ctx context.Context, opt ResetAdminOptions) error {
	if opt.DBPath == "" {
		return errors.New("db path is required")
	}
	if opt.Username == "" {
		return errors.New("admin username is required")
	}
	if err := os.MkdirAll(filepath.Dir(opt.DBPath), 0o700); err != nil {
		return err
	}

	d, err := db.Open(ctx, opt.DBPath)
	if err != nil {
		return err
	}
	defer d.Close()

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("not initialized; run setup")
	}

	cred, ok, err := d.GetCredentialByUsername(ctx, opt.Username)
	if err != nil {
		return err
	}
	if !ok || cred.Role != db.RoleAdmin {
		return errors.New("no admin credential with that username")
	}

	pass, err := resolveAdminPassword("Set admin password", opt.AdminPassword, opt.AdminPasswordEnv)
	if err != nil {
		return err
	}
	if err := validate.Password(pass); err != nil {
		return err
	}

	h, err := auth.NewHasher(auth.DefaultArgon2Params()).Hash(pass)
	if err != nil {
		return err
	}
	return d.SetCredentialPasswordHash(ctx, cred.ID, h)
}
