// Package resetadmin implements the "consentdesk reset-admin" CLI
// subcommand. It resets an admin password directly in the SQLite
// database.
package resetadmin

import (
	"context"
	"flag"

	isetup "consentdesk/internal/setup"
)

// Options captures CLI flags for admin password reset.
// AdminPassword and AdminPasswordEnv are mutually exclusive by usage.
type Options struct {
	DBPath           string
	Username         string
	AdminPassword    string
	AdminPasswordEnv bool
}

func Run(args []string) error {
	fs := flag.NewFlagSet("reset-admin", flag.ContinueOnError)
	var opt Options
	fs.StringVar(&opt.DBPath, "db", "./consentdesk.db", "sqlite database path")
	fs.StringVar(&opt.Username, "username", "admin", "admin username to reset")
	fs.StringVar(&opt.AdminPassword, "admin-password", "", "set admin password non-interactively")
	fs.BoolVar(&opt.AdminPasswordEnv, "admin-password-env", false, "read admin password from CONSENTDESK_ADMIN_PASSWORD")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return isetup.ResetAdmin(context.Background(), isetup.ResetAdminOptions{
		DBPath:           opt.DBPath,
		Username:         opt.Username,
		AdminPassword:    opt.AdminPassword,
		AdminPasswordEnv: opt.AdminPasswordEnv,
	})
}
