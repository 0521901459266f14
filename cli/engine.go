package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/digitorus/pdfcosign"
	"github.com/digitorus/pdfcosign/config"
	"github.com/digitorus/pdfcosign/internal/metrics"
	"github.com/digitorus/pdfcosign/keys"
	"github.com/digitorus/pdfcosign/session"
	"github.com/digitorus/pdfcosign/sign"
	"github.com/digitorus/pdfcosign/store"
	"github.com/digitorus/pdfcosign/upload"
)

// resources holds what an invocation opened and must close.
type resources struct {
	closers []func() error
}

func (r *resources) add(fn func() error) {
	r.closers = append(r.closers, fn)
}

func (r *resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) openAllocator(ctx context.Context, res *resources) (session.Allocator, error) {
	cfg := a.cfg.Allocator
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	switch cfg.Backend {
	case "redis":
		client, err := session.DialRedis(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		res.add(client.Close)
		return session.NewRedis(client, session.WithTTL(cfg.TTL)), nil
	case "postgres":
		alloc, db, err := session.OpenPostgres(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		res.add(db.Close)
		if err := alloc.Migrate(ctx); err != nil {
			return nil, err
		}
		return alloc, nil
	default:
		return session.NewMemory(), nil
	}
}

func (a *app) openStore(ctx context.Context, res *resources) (store.Store, error) {
	if a.cfg.Store.Backend != "sqlite" {
		return store.NewMemory(), nil
	}
	s, err := store.OpenSQLite(ctx, a.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	res.add(s.Close)
	return s, nil
}

func (a *app) keyProvider() keys.Provider {
	cfg := a.cfg.Signing
	passphrase := ""
	if cfg.PassphraseEnv != "" {
		passphrase = os.Getenv(cfg.PassphraseEnv)
	}
	if cfg.PKCS12 != "" {
		return keys.PKCS12{File: cfg.PKCS12, Password: passphrase}
	}
	p := keys.Files{
		CertificateFile: cfg.Certificate,
		KeyFile:         cfg.Key,
		ChainFiles:      cfg.Chain,
	}
	if passphrase != "" {
		p.Passphrase = []byte(passphrase)
	}
	return p
}

func (a *app) uploader() (upload.Uploader, error) {
	cfg := a.cfg.Upload
	if !cfg.Enabled {
		return nil, nil
	}
	u, err := upload.NewGraph(upload.Config{
		BaseURL: cfg.BaseURL,
		SiteID:  cfg.SiteID,
		DriveID: cfg.DriveID,
		Folder:  cfg.Folder,
		Tokens:  upload.StaticToken{Value: os.Getenv(cfg.TokenEnv)},
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func sealSettings(cfg config.SigningConfig) pdfcosign.SealSettings {
	tsa := sign.TSA{
		URL:      cfg.TSA.URL,
		Username: cfg.TSA.Username,
		Timeout:  cfg.TSA.Timeout,
	}
	if cfg.TSA.PasswordEnv != "" {
		tsa.Password = os.Getenv(cfg.TSA.PasswordEnv)
	}
	return pdfcosign.SealSettings{
		Reason:          cfg.Reason,
		Location:        cfg.Location,
		ContactInfo:     cfg.ContactInfo,
		DigestAlgorithm: cfg.DigestAlgorithm(),
		TSA:             tsa,
	}
}

// newEngine assembles an engine from the loaded configuration.
func (a *app) newEngine(ctx context.Context) (*pdfcosign.Engine, *resources, error) {
	res := &resources{}
	fail := func(err error) (*pdfcosign.Engine, *resources, error) {
		_ = res.Close()
		return nil, nil, err
	}

	allocator, err := a.openAllocator(ctx, res)
	if err != nil {
		return fail(fmt.Errorf("failed to open %s allocator: %w", a.cfg.Allocator.Backend, err))
	}
	st, err := a.openStore(ctx, res)
	if err != nil {
		return fail(fmt.Errorf("failed to open %s store: %w", a.cfg.Store.Backend, err))
	}
	up, err := a.uploader()
	if err != nil {
		return fail(fmt.Errorf("failed to configure upload: %w", err))
	}
	stampOpts, err := a.cfg.Stamp.Options()
	if err != nil {
		return fail(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)
	if addr := a.cfg.Metrics.Listen; addr != "" {
		res.add(a.serveMetrics(addr, reg))
	}

	opts := []pdfcosign.Option{
		pdfcosign.WithStore(st),
		pdfcosign.WithStampOptions(stampOpts),
		pdfcosign.WithSealSettings(sealSettings(a.cfg.Signing)),
		pdfcosign.WithTimeout(a.cfg.Signing.Timeout),
		pdfcosign.WithLogger(a.logger),
		pdfcosign.WithMetrics(m),
	}
	if up != nil {
		opts = append(opts, pdfcosign.WithUploader(up))
	}

	engine, err := pdfcosign.New(allocator, a.keyProvider(), opts...)
	if err != nil {
		return fail(err)
	}
	return engine, res, nil
}

// serveMetrics exposes reg on addr until the returned function is called.
func (a *app) serveMetrics(addr string, reg *prometheus.Registry) func() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
