package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
)

var _ repository.CredentialRepository = (*CredentialRepo)(nil)

// CredentialRepo signing_credentials: bytes opacos, la interpretación es del firmador.
type CredentialRepo struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository construye el adaptador.
func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

// GetByCompany devuelve nil, nil si la empresa no tiene credenciales registradas.
func (r *CredentialRepo) GetByCompany(ctx context.Context, companyID string) (*entity.CompanyCredentials, error) {
	query := `
		SELECT shape, key_pem, cert_pem, pkcs12_bundle, pkcs12_password, sol_user, sol_password
		FROM signing_credentials WHERE company_id = $1`
	var (
		shape                   string
		keyPEM, certPEM, bundle []byte
		p12Pass                 *string
		solUser, solPass        *string
	)
	err := r.pool.QueryRow(ctx, query, companyID).Scan(&shape, &keyPEM, &certPEM, &bundle, &p12Pass, &solUser, &solPass)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get signing credential: %w", err)
	}

	creds := &entity.CompanyCredentials{
		CompanyID: companyID,
		Signing:   entity.SigningCredential{Shape: entity.CredentialShape(shape)},
		SOL:       entity.SOLCredentials{Username: stringOrEmpty(solUser), Password: stringOrEmpty(solPass)},
	}
	switch creds.Signing.Shape {
	case entity.CredentialShapePEM:
		creds.Signing.PEM = &entity.PEMCredential{KeyPEM: keyPEM, CertPEM: certPEM}
	case entity.CredentialShapePKCS12:
		creds.Signing.PKCS12 = &entity.PKCS12Credential{Bundle: bundle, Password: stringOrEmpty(p12Pass)}
	}
	return creds, nil
}
