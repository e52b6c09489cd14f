// Package bootstrap arma el pipeline de emisión sobre PostgreSQL para los binarios.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/facturador-sunat/internal/application/billing"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/pdf"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/postgres"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/redislock"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat/signer"
	"github.com/jhoicas/facturador-sunat/pkg/config"
	"github.com/jhoicas/facturador-sunat/pkg/logger"
)

// Pipeline servicios listos para usar. Close libera el pool y Redis.
type Pipeline struct {
	Pool      *pgxpool.Pool
	Companies *postgres.CompanyRepo
	Issue     *billing.IssueService
	PDF       *billing.PDFUseCase

	cfg     *config.Config
	log     *logger.Logger
	closers []func()
}

// New conecta a PostgreSQL, aplica migraciones y arma el servicio de emisión.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Pipeline, error) {
	taxRate, err := cfg.SUNAT.TaxRate()
	if err != nil {
		return nil, err
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
	}
	p := &Pipeline{Pool: pool, cfg: cfg, log: log, closers: []func(){pool.Close}}

	if err := postgres.RunMigrations(ctx, pool, log.Component("migrations")); err != nil {
		p.Close()
		return nil, err
	}

	p.Companies = postgres.NewCompanyRepository(pool)
	invoiceRepo := postgres.NewInvoiceRepository(pool)
	saleRepo := postgres.NewSaleRepository(pool)

	builder := sunat.NewUBLBuilder(sunat.BuilderConfig{
		TaxRate:  taxRate,
		Location: cfg.SUNAT.Location(),
		Currency: cfg.SUNAT.Currency,
	}, log.Component("ubl"))

	var certs billing.CredentialLoader = signer.NewCertificateLoader()
	if cfg.SUNAT.UsesCertFiles() {
		log.Warn().Str("cert_path", cfg.SUNAT.CertPath).Msg("firma con certificado en archivo para todas las empresas")
		certs = signer.NewFileLoader(cfg.SUNAT.CertPath, cfg.SUNAT.KeyPath, cfg.SUNAT.CertPassword)
	}

	p.Issue = billing.NewIssueService(billing.IssueServiceDeps{
		Tx:          postgres.NewTxRunner(pool),
		Allocator:   billing.NewSeriesAllocator(cfg.SUNAT.AllocationAttempts, log.Component("series")),
		Companies:   p.Companies,
		Credentials: postgres.NewCredentialRepository(pool),
		Sales:       saleRepo,
		Invoices:    invoiceRepo,
		Submissions: postgres.NewSubmissionRepository(pool),
		Builder:     builder,
		Certs:       certs,
		Signer:      signer.NewDigitalSignatureService(log.Component("signer")),
		Submitter:   sunat.NewSOAPClient(cfg.SUNAT, log.Component("sunat")),
	}, billing.PipelineConfig{
		Environment:      cfg.SUNAT.Environment,
		BetaSOLUser:      cfg.SUNAT.BetaSOLUser,
		BetaSOLPassword:  cfg.SUNAT.BetaSOLPassword,
		RetryBaseBackoff: cfg.Sweeper.BaseBackoff,
	}, log.Component("issuance"))

	p.PDF = billing.NewPDFUseCase(invoiceRepo, p.Companies, pdf.NewMarotoPDFGenerator())
	return p, nil
}

// NewSweeper arma el barrido de reintentos. Con Redis configurado el barrido corre
// bajo un lease compartido; sin Redis, solo debe haber una réplica con el barrido activo.
func (p *Pipeline) NewSweeper(ctx context.Context) (*billing.RetrySweeper, error) {
	var lease billing.Lease
	if p.cfg.Redis.Enabled() {
		client, err := redislock.Connect(ctx, p.cfg.Redis)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, func() { _ = client.Close() })
		lease = redislock.New(client)
	} else {
		p.log.Warn().Msg("REDIS_ADDR vacío: el barrido de reintentos corre sin lease")
	}
	return billing.NewRetrySweeper(p.Issue, lease, billing.SweeperConfig{
		Interval:    p.cfg.Sweeper.Interval,
		BatchSize:   p.cfg.Sweeper.BatchSize,
		MaxAttempts: p.cfg.Sweeper.MaxAttempts,
		StaleAfter:  p.cfg.Sweeper.StaleAfter,
	}, p.log.Component("sweeper")), nil
}

// Close libera las conexiones en orden inverso.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}
