package sunat

import (
	"errors"
	"fmt"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	pkgsunat "github.com/jhoicas/facturador-sunat/pkg/sunat"
)

// ValidateSale revisa que la venta pueda convertirse en comprobante antes de gastar
// un correlativo. Los errores se agrupan con errors.Join y todos envuelven ErrBuildValidation.
func ValidateSale(sale *entity.Sale, issuer *entity.Company) error {
	if sale == nil {
		return fmt.Errorf("%w: venta nula", domain.ErrBuildValidation)
	}
	if issuer == nil {
		return fmt.Errorf("%w: emisor nulo", domain.ErrBuildValidation)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrBuildValidation}, args...)...))
	}

	if sale.CompanyID != issuer.ID {
		add("la venta %s no pertenece a la empresa %s", sale.ID, issuer.ID)
	}
	if issuer.RUC == "" {
		add("el emisor no tiene RUC")
	}
	if _, ok := pkgsunat.SeriesPrefixByDocType[sale.DocumentTypeCode]; !ok {
		add("tipo de comprobante %q no soportado", sale.DocumentTypeCode)
	}
	if len(sale.Lines) == 0 {
		add("la venta debe tener al menos un ítem")
	}
	for i, l := range sale.Lines {
		if !l.Quantity.IsPositive() {
			add("ítem %d: cantidad debe ser mayor a cero", i+1)
		}
		if l.UnitPrice.IsNegative() {
			add("ítem %d: precio unitario negativo", i+1)
		}
	}
	if sale.Total.IsNegative() || sale.Subtotal.IsNegative() || sale.TaxAmount.IsNegative() {
		add("los montos de la venta no pueden ser negativos")
	}

	c := sale.Customer
	switch sale.DocumentTypeCode {
	case pkgsunat.DocTypeFactura:
		if c.IdentityType != pkgsunat.IdentityTypeRUC {
			add("la factura exige cliente con RUC (tipo 6), se recibió tipo %q", c.IdentityType)
		} else if err := pkgsunat.ValidateRUC(c.IdentityNumber); err != nil {
			add("cliente: %v", err)
		}
	case pkgsunat.DocTypeBoleta:
		switch c.IdentityType {
		case "", pkgsunat.IdentityTypeNone:
		case pkgsunat.IdentityTypeDNI:
			if err := pkgsunat.ValidateDNI(c.IdentityNumber); err != nil {
				add("cliente: %v", err)
			}
		case pkgsunat.IdentityTypeRUC:
			if err := pkgsunat.ValidateRUC(c.IdentityNumber); err != nil {
				add("cliente: %v", err)
			}
		}
	}
	return errors.Join(errs...)
}
