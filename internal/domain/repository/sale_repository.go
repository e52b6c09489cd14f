package repository

import (
	"context"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

// SaleRepository lectura de ventas cerradas. El punto de venta es dueño de los datos.
type SaleRepository interface {
	GetByID(ctx context.Context, companyID, saleID string) (*entity.Sale, error)
}
