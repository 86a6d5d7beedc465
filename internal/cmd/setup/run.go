// Package setup implements the "consentdesk setup" CLI subcommand.
package setup

import (
	"context"
	"flag"

	isetup "consentdesk/internal/setup"
)

type Options struct {
	DBPath           string
	DataDir          string
	AdminUsername    string
	AdminEmail       string
	AdminPassword    string
	AdminPasswordEnv bool
}

func Run(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	var opt Options
	fs.StringVar(&opt.DBPath, "db", "./consentdesk.db", "sqlite database path")
	fs.StringVar(&opt.DataDir, "data-dir", "./data", "data directory (system key, blobs)")
	fs.StringVar(&opt.AdminUsername, "admin-username", "admin", "bootstrap admin username")
	fs.StringVar(&opt.AdminEmail, "admin-email", "admin@localhost.localdomain", "bootstrap admin email")
	fs.StringVar(&opt.AdminPassword, "admin-password", "", "set admin password non-interactively")
	fs.BoolVar(&opt.AdminPasswordEnv, "admin-password-env", false, "read admin password from CONSENTDESK_ADMIN_PASSWORD")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return isetup.Run(context.Background(), isetup.Options{
		DBPath:           opt.DBPath,
		DataDir:          opt.DataDir,
		AdminUsername:    opt.AdminUsername,
		AdminEmail:       opt.AdminEmail,
		AdminPassword:    opt.AdminPassword,
		AdminPasswordEnv: opt.AdminPasswordEnv,
	})
}
