// Package daemon wires storage, crypto, and services into the running
// HTTP server.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"

	"consentdesk/internal/account"
	"consentdesk/internal/audit"
	"consentdesk/internal/auth"
	"consentdesk/internal/blobstore"
	"consentdesk/internal/consent"
	"consentdesk/internal/db"
	"consentdesk/internal/envelope"
	"consentdesk/internal/httpapi"
	"consentdesk/internal/keys"
)

type Options struct {
	DBPath        string
	SystemKeyPath string
	BlobDir       string
	BindAddr      string
	Port          int
	MaxBodyBytes  int64
	TLSCertPath   string
	TLSKeyPath    string
	TokenSecret   string
	TokenTTL      time.Duration
	Logger        *slog.Logger
}

func Run(ctx context.Context, opt Options) error {
	if opt.DBPath == "" {
		return errors.New("db path is required")
	}
	if opt.Logger == nil {
		return errors.New("logger is required")
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

	keyPEM, err := os.ReadFile(opt.SystemKeyPath)
	if err != nil {
		return errors.New("missing system key; run setup")
	}
	custodian, err := keys.Load(keyPEM)
	if err != nil {
		return err
	}

	blobs, err := blobstore.New(afero.NewOsFs(), opt.BlobDir)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenIssuer([]byte(opt.TokenSecret), opt.TokenTTL)
	if err != nil {
		return err
	}

	env := envelope.NewManager(custodian)
	recorder := audit.NewRecorder(d, opt.Logger)
	hasher := auth.NewHasher(auth.DefaultArgon2Params())

	api := &httpapi.Server{
		DB:           d,
		Tokens:       tokens,
		Hasher:       hasher,
		Pipeline:     account.NewPipeline(d, hasher, opt.Logger),
		Library:      consent.NewLibrary(d, env, blobs, opt.Logger),
		Authority:    consent.NewAuthority(d, env, recorder, opt.Logger),
		Gate:         consent.NewGate(d, blobs, recorder, opt.Logger),
		Logger:       opt.Logger,
		BindAddr:     opt.BindAddr,
		Port:         opt.Port,
		CertPath:     opt.TLSCertPath,
		KeyPath:      opt.TLSKeyPath,
		MaxBodyBytes: opt.MaxBodyBytes,
	}

	opt.Logger.Info("starting http api", "bind", opt.BindAddr, "port", opt.Port, "tls", opt.TLSCertPath != "")
	return api.ListenAndServe()
}
