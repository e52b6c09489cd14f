package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

// RUCs válidos (dígito verificador correcto) para pruebas.
const (
	IssuerRUC   = "20123456786"
	CustomerRUC = "20100070970"
)

// Company emisor de prueba.
func Company(id string) *entity.Company {
	return &entity.Company{
		ID:        id,
		Name:      "EMPRESA DE PRUEBA SAC",
		TradeName: "PRUEBA",
		RUC:       IssuerRUC,
		Address:   "AV. AREQUIPA 123, LIMA",
		Ubigeo:    "150101",
		Status:    entity.CompanyStatusActive,
	}
}

// TwoLineSale factura con un ítem exonerado de 10.00 y uno gravado de 20.00.
func TwoLineSale(id, companyID string) *entity.Sale {
	return &entity.Sale{
		ID:               id,
		CompanyID:        companyID,
		DocumentTypeCode: "01",
		Customer: entity.SaleCustomer{
			IdentityType:   "6",
			IdentityNumber: CustomerRUC,
			Name:           "CLIENTE CORPORATIVO SA",
			Address:        "JR. DE LA UNION 456, LIMA",
		},
		Lines: []entity.SaleLine{
			{ProductRef: "P-001", Description: "Libro escolar", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(10), UnitCode: "NIU"},
			{ProductRef: "P-002", Description: "Mochila", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(20), UnitCode: "NIU", TaxAffected: true},
		},
		Subtotal:      decimal.RequireFromString("30.00"),
		TaxAmount:     decimal.RequireFromString("3.60"),
		Total:         decimal.RequireFromString("33.60"),
		Currency:      "PEN",
		PaymentMethod: "Contado",
		CreatedAt:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		CompletedAt:   time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC),
	}
}
