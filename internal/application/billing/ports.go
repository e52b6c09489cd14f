package billing

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
	domsunat "github.com/jhoicas/facturador-sunat/internal/domain/sunat"
	infrasunat "github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat/signer"
)

// IssuanceTxRunner ejecuta la asignación de número y el alta del comprobante PENDING
// en una misma transacción: o se confirman ambos o ninguno. La venta queda bloqueada
// hasta el commit, así dos emisiones de la misma venta no numeran a la vez.
type IssuanceTxRunner interface {
	RunIssuance(ctx context.Context, companyID, saleID string, fn func(
		seriesRepo repository.SeriesRepository,
		invoiceRepo repository.InvoiceRepository,
	) error) error
}

// DocumentBuilder arma el árbol UBL a partir de la venta.
type DocumentBuilder interface {
	Today() time.Time
	BuildAt(sale *entity.Sale, number domsunat.AllocatedNumber, issuer *entity.Company, issueDate time.Time) (*infrasunat.InvoiceDocument, error)
}

// CredentialLoader convierte el material guardado del emisor en un par usable.
type CredentialLoader interface {
	Load(cred entity.SigningCredential) (tls.Certificate, error)
}

// DocumentSigner firma el XML UBL. Firmar un documento ya firmado lo devuelve igual.
type DocumentSigner interface {
	Sign(documentID string, unsigned []byte, cert tls.Certificate) (*signer.SignedInvoice, error)
}

// Submitter envía el ZIP a SUNAT. Los fallos de transporte vuelven como resultado, no como error.
// Check rechaza antes de enviar lo que nunca podría salir (domain.ErrUnsendable).
type Submitter interface {
	Check(req infrasunat.SubmitRequest) error
	Submit(ctx context.Context, req infrasunat.SubmitRequest) (*infrasunat.SubmissionOutcome, error)
}

// Lease candado distribuido con expiración. acquired=false si otro proceso lo tiene.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// InvoicePDFGenerator genera la representación impresa del comprobante.
type InvoicePDFGenerator interface {
	GenerateInvoicePDF(ctx context.Context, doc *infrasunat.InvoiceDocument, inv *entity.Invoice, qrPayload string) ([]byte, error)
}
