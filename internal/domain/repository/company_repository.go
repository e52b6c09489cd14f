package repository

import (
	"context"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

// CompanyRepository define el puerto de persistencia para Company (DIP).
// La implementación vive en infrastructure.
type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
	GetByRUC(ctx context.Context, ruc string) (*entity.Company, error)
}

// CredentialRepository material de firma y usuario SOL por empresa.
// El almacenamiento trata los bytes como opacos.
type CredentialRepository interface {
	GetByCompany(ctx context.Context, companyID string) (*entity.CompanyCredentials, error)
}
