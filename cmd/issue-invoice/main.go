// Command issue-invoice corre el pipeline de emisión para una venta y termina con
// código 0 solo si SUNAT aceptó el comprobante.
//
//	issue-invoice --company-id <id> --sale-id <id>
//	issue-invoice --company-id <id> --sale-id <id> --reissue
//	issue-invoice --company-id <id> --retry F001-0001
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jhoicas/facturador-sunat/internal/application/dto"
	"github.com/jhoicas/facturador-sunat/internal/bootstrap"
	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/pkg/config"
	"github.com/jhoicas/facturador-sunat/pkg/logger"
)

// Códigos de salida.
const (
	exitAccepted  = 0
	exitError     = 1
	exitUsage     = 2
	exitRejected  = 3
	exitNotClosed = 4 // SEND_ERROR o sin terminar: se puede reintentar
)

// issuer lo implementa *billing.IssueService.
type issuer interface {
	Issue(ctx context.Context, companyID, saleID string) (*dto.IssueResult, error)
	Reissue(ctx context.Context, companyID, saleID string) (*dto.IssueResult, error)
	Retry(ctx context.Context, companyID, documentID string) (*dto.IssueResult, error)
}

type options struct {
	companyID string
	saleID    string
	retry     string
	reissue   bool
	asJSON    bool
}

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	v := viper.New()
	opts, err := parseFlags(v, args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitAccepted
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		fmt.Fprintln(stderr, "configuración:", err)
		return exitError
	}
	log := logger.NewWithWriter(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel}, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintln(stderr, "inicializar:", err)
		return exitError
	}
	defer pipeline.Close()

	return execute(ctx, pipeline.Issue, opts, stdout, stderr)
}

func parseFlags(v *viper.Viper, args []string, stderr io.Writer) (options, error) {
	fs := pflag.NewFlagSet("issue-invoice", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("company-id", "", "empresa emisora (o SUNAT_COMPANY_ID)")
	fs.String("sale-id", "", "venta cerrada a emitir")
	fs.String("retry", "", "reenviar el comprobante indicado (F001-0001) sin pedir otro número")
	fs.Bool("reissue", false, "emitir con un número nuevo una venta cuyo comprobante fue rechazado")
	fs.Bool("json", false, "imprimir el resultado en JSON")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return options{}, err
	}
	_ = v.BindEnv("company-id", "SUNAT_COMPANY_ID")

	opts := options{
		companyID: v.GetString("company-id"),
		saleID:    v.GetString("sale-id"),
		retry:     v.GetString("retry"),
		reissue:   v.GetBool("reissue"),
		asJSON:    v.GetBool("json"),
	}
	switch {
	case opts.companyID == "":
		return opts, errors.New("--company-id es obligatorio")
	case opts.retry != "" && (opts.saleID != "" || opts.reissue):
		return opts, errors.New("--retry no se combina con --sale-id ni --reissue")
	case opts.retry == "" && opts.saleID == "":
		return opts, errors.New("indique --sale-id o --retry")
	}
	return opts, nil
}

func execute(ctx context.Context, svc issuer, opts options, stdout, stderr io.Writer) int {
	var (
		res *dto.IssueResult
		err error
	)
	switch {
	case opts.retry != "":
		res, err = svc.Retry(ctx, opts.companyID, opts.retry)
	case opts.reissue:
		res, err = svc.Reissue(ctx, opts.companyID, opts.saleID)
	default:
		res, err = svc.Issue(ctx, opts.companyID, opts.saleID)
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, domain.ErrAuthorityRejection) {
			return exitRejected
		}
		return exitError
	}

	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else {
		printResult(stdout, res)
	}
	return exitCode(res.Status)
}

func printResult(w io.Writer, res *dto.IssueResult) {
	fmt.Fprintf(w, "%s %s\n", res.DocumentID, res.Status)
	if res.ResponseCode != "" || res.ResponseMessage != "" {
		fmt.Fprintf(w, "  SUNAT [%s] %s\n", res.ResponseCode, res.ResponseMessage)
	}
	if res.LastError != "" {
		fmt.Fprintf(w, "  último error: %s (reintentos: %d)\n", res.LastError, res.RetryCount)
	}
}

func exitCode(status string) int {
	switch status {
	case entity.InvoiceStatusAccepted:
		return exitAccepted
	case entity.InvoiceStatusRejected:
		return exitRejected
	default:
		return exitNotClosed
	}
}
