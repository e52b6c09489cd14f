package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
)

var _ repository.SaleRepository = (*SaleRepo)(nil)

// SaleRepo lectura de ventas cerradas (sales + sale_lines).
type SaleRepo struct {
	q Querier
}

// NewSaleRepository construye el adaptador.
func NewSaleRepository(q Querier) *SaleRepo {
	return &SaleRepo{q: q}
}

// GetByID devuelve la venta con sus ítems, o nil, nil si no existe para esa empresa.
func (r *SaleRepo) GetByID(ctx context.Context, companyID, saleID string) (*entity.Sale, error) {
	query := `
		SELECT id, company_id, document_type_code, customer_id_type, customer_id_number, customer_name,
			customer_address, customer_email, subtotal, tax_amount, total, currency, payment_method,
			created_at, completed_at
		FROM sales WHERE company_id = $1 AND id = $2`
	var s entity.Sale
	var address, email *string
	err := r.q.QueryRow(ctx, query, companyID, saleID).Scan(
		&s.ID, &s.CompanyID, &s.DocumentTypeCode, &s.Customer.IdentityType, &s.Customer.IdentityNumber, &s.Customer.Name,
		&address, &email, &s.Subtotal, &s.TaxAmount, &s.Total, &s.Currency, &s.PaymentMethod,
		&s.CreatedAt, &s.CompletedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}
	s.Customer.Address = stringOrEmpty(address)
	s.Customer.Email = stringOrEmpty(email)

	rows, err := r.q.Query(ctx, `
		SELECT product_ref, description, quantity, unit_price, unit_code, tax_affected
		FROM sale_lines WHERE sale_id = $1 ORDER BY line_no`, saleID)
	if err != nil {
		return nil, fmt.Errorf("list sale lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l entity.SaleLine
		if err := rows.Scan(&l.ProductRef, &l.Description, &l.Quantity, &l.UnitPrice, &l.UnitCode, &l.TaxAffected); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		s.Lines = append(s.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sale lines: %w", err)
	}
	return &s, nil
}
