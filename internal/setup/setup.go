// Package setup implements first-run initialization: database creation,
// the system keypair, and the bootstrap administrator account.
package setup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"consentdesk/internal/auth"
	"consentdesk/internal/db"
	"consentdesk/internal/keys"
	"consentdesk/internal/validate"
)

type Options struct {
	DBPath           string
	DataDir          string
	AdminUsername    string
	AdminEmail       string
	AdminPassword    string
	AdminPasswordEnv bool
}

func Run(ctx context.Context, opt Options) error {
	if opt.DBPath == "" {
		return errors.New("db path is required")
	}
	if opt.DataDir == "" {
		return errors.New("data-dir is required")
	}
	if err := validate.Username(opt.AdminUsername); err != nil {
		return fmt.Errorf("admin username: %w", err)
	}
	if err := validate.Email(opt.AdminEmail); err != nil {
		return fmt.Errorf("admin email: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(opt.DBPath), 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(opt.DataDir, 0o700); err != nil {
		return err
	}

	d, err := db.Open(ctx, opt.DBPath)
	if err != nil {
		return err
	}
	defer d.Close()
	_ = os.Chmod(opt.DBPath, 0o600)

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return errors.New("already initialized")
	}

	adminPass, err := resolveAdminPassword("Set initial admin password", opt.AdminPassword, opt.AdminPasswordEnv)
	if err != nil {
		return err
	}
	if err := validate.Password(adminPass); err != nil {
		return err
	}
	hasher := auth.NewHasher(auth.DefaultArgon2Params())
	adminHash, err := hasher.Hash(adminPass)
	if err != nil {
		return err
	}

	// The system keypair wraps every item's symmetric key. Generated once
	// here; the daemon refuses to start without it.
	keyPath := filepath.Join(opt.DataDir, "system_key.pem")
	if err := ensureSystemKey(ctx, d, keyPath); err != nil {
		return err
	}

	if _, _, err := d.CreateAdminWithCredential(ctx, opt.AdminUsername, adminHash, "Administrator", opt.AdminEmail); err != nil {
		return err
	}

	return d.SetInitialized(ctx)
}

func ensureSystemKey(ctx context.Context, d *db.DB, path string) error {
	if fileExists(path) {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = keys.Load(b)
		return err
	}

	c, err := keys.Generate(keys.DefaultKeyBits)
	if err != nil {
		return err
	}
	pemBytes, err := c.PEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return err
	}
	pub, err := c.PublicKeyString()
	if err != nil {
		return err
	}
	return d.SetConfig(ctx, "system_public_key", pub)
}

func resolveAdminPassword(label, flagValue string, fromEnv bool) (string, error) {
	if flagValue != "" && fromEnv {
		return "", errors.New("choose one of --admin-password or --admin-password-env")
	}
	if fromEnv {
		v := strings.TrimSpace(os.Getenv("CONSENTDESK_ADMIN_PASSWORD"))
		if v == "" {
			return "", errors.New("CONSENTDESK_ADMIN_PASSWORD is empty")
		}
		return v, nil
	}
	if flagValue != "" {
		return strings.TrimSpace(flagValue), nil
	}
	return promptPassword(label)
}

func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		for {
			fmt.Fprintf(os.Stderr, "%s: ", label)
			p1b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", err
			}
			fmt.Fprint(os.Stderr, "Confirm password: ")
			p2b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", err
			}
			p1 := strings.TrimSpace(string(p1b))
			p2 := strings.TrimSpace(string(p2b))
			if p1 == "" {
				fmt.Fprintln(os.Stderr, "password cannot be empty")
				continue
			}
			if p1 != p2 {
				fmt.Fprintln(os.Stderr, "passwords do not match")
				continue
			}
			return p1, nil
		}
	}

	// Non-interactive fallback (e.g. piped input). Echo suppression isn't possible.
	r := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprintf(os.Stderr, "%s: ", label)
		p1, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		fmt.Fprint(os.Stderr, "Confirm password: ")
		p2, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		p1 = strings.TrimSpace(p1)
		p2 = strings.TrimSpace(p2)
		if p1 == "" {
			fmt.Fprintln(os.Stderr, "password cannot be empty")
			continue
		}
		if p1 != p2 {
			fmt.Fprintln(os.Stderr, "passwords do not match")
			continue
		}
		return p1, nil
	}
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
