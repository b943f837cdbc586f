// Package engine assembles the trust store, revocation checker, chain
// builder, association mapper and validators from the application
// configuration, and validates documents end to end.
package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/georgepadayatti/sealtrust/association"
	"github.com/georgepadayatti/sealtrust/chain"
	"github.com/georgepadayatti/sealtrust/config"
	"github.com/georgepadayatti/sealtrust/digital"
	"github.com/georgepadayatti/sealtrust/hybrid"
	"github.com/georgepadayatti/sealtrust/revocation"
	"github.com/georgepadayatti/sealtrust/truststore"
)

// Report is the complete verdict for one document.
type Report struct {
	FilePath string          `json:"file_path"`
	Digital  *digital.Result `json:"digital_validation"`
	Hybrid   *hybrid.Result  `json:"hybrid_validation"`
}

// Option customizes an Engine.
type Option func(*options)

type options struct {
	clock   clockwork.Clock
	checker revocation.Checker
	online  []revocation.OnlineOption
}

// WithClock sets the evaluation clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithRevocationChecker replaces the checker selected by the revocation mode.
func WithRevocationChecker(checker revocation.Checker) Option {
	return func(o *options) { o.checker = checker }
}

// WithOnlineOptions passes options to the online checker.
func WithOnlineOptions(opts ...revocation.OnlineOption) Option {
	return func(o *options) { o.online = append(o.online, opts...) }
}

// Engine validates documents against one trust store.
type Engine struct {
	config   *config.AppConfig
	logger   *zap.Logger
	store    *truststore.Store
	loader   *truststore.Loader
	reloader *truststore.Reloader
	report   *truststore.LoadReport
	digital  *digital.Validator
	hybrid   *hybrid.Validator
}

// New builds an engine. The trust store is loaded immediately; an
// unreadable trust source fails construction.
func New(cfg *config.AppConfig, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultAppConfig()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	store := truststore.NewStore(logger)
	loader := truststore.NewLoader(cfg.TrustStore.Sources(), logger)
	report, err := loader.LoadInto(store)
	if err != nil {
		return nil, fmt.Errorf("failed to load trust store: %w", err)
	}

	checker := o.checker
	if checker == nil {
		checker, err = newChecker(cfg.Revocation, o, logger)
		if err != nil {
			return nil, err
		}
	}

	table, err := cfg.Associations.LoadTable()
	if err != nil {
		return nil, fmt.Errorf("failed to load association table: %w", err)
	}

	builder := chain.NewBuilder(checker, o.clock, logger)
	builder.MaxDepth = cfg.Chain.MaxDepth
	policy := digital.Policy{RequireTimeValidity: cfg.Validation.RequireTimeValidity}

	hv, err := hybrid.NewValidator(cfg.Compliance.Rules(), logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:  cfg,
		logger:  logger,
		store:   store,
		loader:  loader,
		report:  report,
		digital: digital.NewValidator(store, builder, association.NewMapper(table), policy, logger),
		hybrid:  hv,
	}
	logger.Info("Validation engine ready",
		zap.String("revocation_mode", cfg.Revocation.Mode),
		zap.Int("trusted_certificates", store.Snapshot().Len()),
		zap.Strings("associations", table.IDs()))
	return e, nil
}

func newChecker(cfg *config.RevocationConfig, o *options, logger *zap.Logger) (revocation.Checker, error) {
	switch cfg.Mode {
	case config.RevocationOffline:
		crls, warnings, err := revocation.LoadCRLDirs(cfg.CRLDirs...)
		if err != nil {
			return nil, fmt.Errorf("failed to load CRLs: %w", err)
		}
		for _, w := range warnings {
			logger.Warn("CRL file skipped", zap.String("reason", w))
		}
		return revocation.NewCRLSetChecker(o.clock, crls...), nil
	case config.RevocationOnline:
		fc := cfg.FetcherConfig()
		fc.Clock = o.clock
		opts := []revocation.OnlineOption{revocation.WithLogger(logger)}
		if cfg.CRLFirst {
			opts = append(opts, revocation.WithCRLFirst())
		}
		opts = append(opts, o.online...)
		return revocation.NewOnlineChecker(fc, opts...), nil
	default:
		return revocation.NoopChecker{}, nil
	}
}

// Store returns the trust store.
func (e *Engine) Store() *truststore.Store {
	return e.store
}

// LoadReport returns the report of the most recent trust store load.
func (e *Engine) LoadReport() *truststore.LoadReport {
	if e.reloader != nil {
		if r := e.reloader.LastReport(); r != nil {
			return r
		}
	}
	return e.report
}

// StartReload schedules trust store reloads when the configuration names
// a schedule. It is a no-op otherwise.
func (e *Engine) StartReload() error {
	schedule := e.config.TrustStore.ReloadSchedule
	if schedule == "" {
		return nil
	}
	if e.reloader == nil {
		e.reloader = truststore.NewReloader(e.loader, e.store, e.logger)
	}
	return e.reloader.Start(schedule)
}

// Close stops scheduled reloads.
func (e *Engine) Close() {
	if e.reloader != nil {
		e.reloader.Stop()
	}
}

// ValidateFile reads and validates the document at path. seal may be nil
// when no seal verdict is available.
func (e *Engine) ValidateFile(ctx context.Context, path string, seal *hybrid.SealResult) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return e.ValidateBytes(ctx, path, data, seal)
}

// ValidateBytes validates a document already in memory.
func (e *Engine) ValidateBytes(ctx context.Context, path string, data []byte, seal *hybrid.SealResult) (*Report, error) {
	d, err := e.digital.ValidatePDF(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	report := &Report{
		FilePath: path,
		Digital:  d,
		Hybrid:   e.hybrid.Validate(seal, d),
	}
	e.logger.Info("Document validated",
		zap.String("file", path),
		zap.String("trust_status", string(d.TrustStatus)),
		zap.String("compliance_status", string(report.Hybrid.ComplianceStatus)))
	return report, nil
}
