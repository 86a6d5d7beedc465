// Package server implements the "consentdesk server" CLI subcommand.
package server

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"consentdesk/internal/config"
	"consentdesk/internal/daemon"
	"consentdesk/internal/logging"
	"consentdesk/internal/version"
)

type Options struct {
	ConfigPath string
	LogLevel   string

	DBPath          string
	DataDir         string
	BindAddr        string
	Port            int
	TokenTTLMinutes int
}

func Run(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var opt Options
	var showVersion bool
	fs.StringVar(&opt.ConfigPath, "config", "", "path to consentdesk.yaml (when set, other flags are ignored)")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&opt.LogLevel, "log-level", "info", "log level: debug|info|warning|error")
	fs.StringVar(&opt.DBPath, "db", "./consentdesk.db", "sqlite database path")
	fs.StringVar(&opt.DataDir, "data-dir", "./data", "data directory (system key, blobs)")
	fs.StringVar(&opt.BindAddr, "bind", "127.0.0.1", "bind address")
	fs.IntVar(&opt.Port, "port", 5641, "HTTP API port")
	fs.IntVar(&opt.TokenTTLMinutes, "token-ttl", 60, "bearer token lifetime in minutes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("consentdesk server %s\n", version.Version)
		return nil
	}

	if opt.ConfigPath != "" {
		c, err := config.Load(opt.ConfigPath)
		if err != nil {
			return err
		}
		base := filepath.Dir(opt.ConfigPath)
		level := c.Log.Level
		// CLI overrides config.
		if strings.TrimSpace(opt.LogLevel) != "" {
			level = opt.LogLevel
		}
		lg, err := logging.New(logging.Options{Level: level, JSON: c.Log.JSON, DefaultSlog: true})
		if err != nil {
			return err
		}
		return daemon.Run(context.Background(), daemon.Options{
			DBPath:        resolvePath(base, c.DB.Path),
			SystemKeyPath: resolvePath(base, c.SystemKeyPath()),
			BlobDir:       resolvePath(base, c.BlobDir()),
			BindAddr:      c.HTTP.Bind,
			Port:          c.HTTP.Port,
			MaxBodyBytes:  int64(c.HTTP.MaxBodyMB) << 20,
			TLSCertPath:   resolvePath(base, c.HTTP.TLS.CertPath),
			TLSKeyPath:    resolvePath(base, c.HTTP.TLS.KeyPath),
			TokenSecret:   c.Auth.TokenSecret,
			TokenTTL:      time.Duration(c.Auth.TokenTTLMinutes) * time.Minute,
			Logger:        lg,
		})
	}

	lg, err := logging.New(logging.Options{Level: opt.LogLevel, DefaultSlog: true})
	if err != nil {
		return err
	}
	secret := strings.TrimSpace(os.Getenv("CONSENTDESK_TOKEN_SECRET"))
	if secret == "" {
		return fmt.Errorf("CONSENTDESK_TOKEN_SECRET must be set when no config file is used")
	}

	return daemon.Run(context.Background(), daemon.Options{
		DBPath:        opt.DBPath,
		SystemKeyPath: filepath.Join(opt.DataDir, "system_key.pem"),
		BlobDir:       filepath.Join(opt.DataDir, "blobs"),
		BindAddr:      opt.BindAddr,
		Port:          opt.Port,
		MaxBodyBytes:  64 << 20,
		TokenSecret:   secret,
		TokenTTL:      time.Duration(opt.TokenTTLMinutes) * time.Minute,
		Logger:        lg,
	})
}

func resolvePath(baseDir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
