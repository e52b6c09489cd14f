package entity

import "time"

// Company representa al emisor (tenant). Cada empresa firma y envía con sus propias credenciales.
type Company struct {
	ID        string
	Name      string // Razón social
	TradeName string // Nombre comercial (opcional)
	RUC       string // 11 dígitos, tipo de documento "6"
	Address   string
	Ubigeo    string // Código de ubicación geográfica INEI
	Phone     string
	Email     string
	Status    string // active, suspended, inactive
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Estados de empresa.
const (
	CompanyStatusActive    = "active"
	CompanyStatusSuspended = "suspended"
	CompanyStatusInactive  = "inactive"
)
