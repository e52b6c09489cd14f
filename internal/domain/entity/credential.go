package entity

// CredentialShape distingue cómo está almacenado el certificado del emisor.
type CredentialShape string

const (
	CredentialShapePEM    CredentialShape = "pem"
	CredentialShapePKCS12 CredentialShape = "pkcs12"
)

// SigningCredential material de firma del emisor. Solo uno de PEM o PKCS12 aplica según Shape.
// Nunca se imprime: String() oculta el contenido.
type SigningCredential struct {
	Shape  CredentialShape
	PEM    *PEMCredential
	PKCS12 *PKCS12Credential
}

// PEMCredential llave y certificado ya separados.
type PEMCredential struct {
	KeyPEM  []byte
	CertPEM []byte
}

// PKCS12Credential contenedor .pfx/.p12 con su contraseña.
type PKCS12Credential struct {
	Bundle   []byte
	Password string
}

func (c SigningCredential) String() string { return "SigningCredential{" + string(c.Shape) + "}" }

// SOLCredentials usuario secundario SOL para los servicios de SUNAT.
type SOLCredentials struct {
	Username string // sin el prefijo RUC
	Password string
}

func (c SOLCredentials) String() string { return "SOLCredentials{" + c.Username + "}" }

// CompanyCredentials agrupa lo que el emisor provisiona fuera de banda.
type CompanyCredentials struct {
	CompanyID string
	Signing   SigningCredential
	SOL       SOLCredentials
}
