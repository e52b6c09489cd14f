// Carga del certificado del emisor desde un contenedor PKCS#12 o un par PEM.
// Nunca se escribe material de la llave en logs ni en mensajes de error.

package signer

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

const certificateBlock = "CERTIFICATE"

// encabezados PEM de llave privada aceptados (PKCS#8, PKCS#1, SEC 1).
var privateKeyBlocks = map[string]bool{
	"PRIVATE KEY":     true,
	"RSA PRIVATE KEY": true,
	"EC PRIVATE KEY":  true,
}

// CertificateLoader convierte la credencial almacenada en un tls.Certificate listo para firmar.
type CertificateLoader struct{}

// NewCertificateLoader crea el servicio.
func NewCertificateLoader() *CertificateLoader { return &CertificateLoader{} }

// Load elige la rama según la forma de la credencial.
func (l *CertificateLoader) Load(cred entity.SigningCredential) (tls.Certificate, error) {
	switch cred.Shape {
	case entity.CredentialShapePEM:
		if cred.PEM == nil {
			return tls.Certificate{}, fmt.Errorf("%w: credencial PEM vacía", domain.ErrCredential)
		}
		return LoadFromPEM(cred.PEM.KeyPEM, cred.PEM.CertPEM)
	case entity.CredentialShapePKCS12:
		if cred.PKCS12 == nil {
			return tls.Certificate{}, fmt.Errorf("%w: credencial PKCS#12 vacía", domain.ErrCredential)
		}
		return LoadFromPKCS12(cred.PKCS12.Bundle, cred.PKCS12.Password)
	default:
		return tls.Certificate{}, fmt.Errorf("%w: forma de credencial desconocida %q", domain.ErrCredential, cred.Shape)
	}
}

// FileLoader firma siempre con el certificado en disco, sin importar la credencial
// guardada de la empresa. Sirve para desarrollo y para la CLI.
type FileLoader struct {
	certPath, keyPath, password string
}

// NewFileLoader crea el cargador de archivos.
func NewFileLoader(certPath, keyPath, password string) *FileLoader {
	return &FileLoader{certPath: certPath, keyPath: keyPath, password: password}
}

// Load lee los archivos en cada llamada para tomar un certificado renovado sin reiniciar.
func (l *FileLoader) Load(entity.SigningCredential) (tls.Certificate, error) {
	return LoadFromFiles(l.certPath, l.keyPath, l.password)
}

// LoadFromPEM valida los encabezados PEM y que la llave corresponda al certificado.
// No intenta reparar PEM mal formado.
func LoadFromPEM(keyPEM, certPEM []byte) (tls.Certificate, error) {
	keyType, ok := firstBlockType(keyPEM)
	if !ok {
		return tls.Certificate{}, fmt.Errorf("%w: la llave no contiene un bloque PEM", domain.ErrCredential)
	}
	if !privateKeyBlocks[keyType] {
		return tls.Certificate{}, fmt.Errorf("%w: encabezado de llave no soportado %q", domain.ErrCredential, keyType)
	}
	certType, ok := firstBlockType(certPEM)
	if !ok || certType != certificateBlock {
		return tls.Certificate{}, fmt.Errorf("%w: el certificado no contiene un bloque PEM CERTIFICATE", domain.ErrCredential)
	}
	return pairFromPEM(certPEM, keyPEM)
}

// LoadFromPKCS12 abre el contenedor con la contraseña (vacía si no tiene) y exige
// exactamente una llave y un certificado. Con más de uno no se adivina cuál usar.
func LoadFromPKCS12(bundle []byte, password string) (tls.Certificate, error) {
	if len(bundle) == 0 {
		return tls.Certificate{}, fmt.Errorf("%w: contenedor PKCS#12 vacío", domain.ErrCredential)
	}
	blocks, err := pkcs12.ToPEM(bundle, password)
	var unsupported pkcs12.NotImplementedError
	if errors.As(err, &unsupported) {
		// PBES2/AES con MAC SHA-256, lo que exporta OpenSSL 3 por defecto.
		return loadPKCS12Chain(bundle, password)
	}
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: abrir PKCS#12: %v", domain.ErrCredential, err)
	}
	var keys, certs []*pem.Block
	for _, b := range blocks {
		switch {
		case b.Type == certificateBlock:
			certs = append(certs, b)
		case privateKeyBlocks[b.Type]:
			keys = append(keys, b)
		}
	}
	if len(keys) != 1 {
		return tls.Certificate{}, fmt.Errorf("%w: se esperaba una llave privada en el PKCS#12, hay %d", domain.ErrCredential, len(keys))
	}
	if len(certs) != 1 {
		return tls.Certificate{}, fmt.Errorf("%w: se esperaba un certificado en el PKCS#12, hay %d", domain.ErrCredential, len(certs))
	}
	return pairFromPEM(pem.EncodeToMemory(certs[0]), pem.EncodeToMemory(keys[0]))
}

// loadPKCS12Chain lee el contenedor con go-pkcs12, que sí entiende PBES2.
// Mantiene la misma regla: una llave y un certificado, sin cadena.
func loadPKCS12Chain(bundle []byte, password string) (tls.Certificate, error) {
	key, leaf, chain, err := gopkcs12.DecodeChain(bundle, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: abrir PKCS#12: %v", domain.ErrCredential, err)
	}
	if n := 1 + len(chain); n != 1 {
		return tls.Certificate{}, fmt.Errorf("%w: se esperaba un certificado en el PKCS#12, hay %d", domain.ErrCredential, n)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: tipo de llave no soportado en el PKCS#12", domain.ErrCredential)
	}
	return pairFromPEM(
		pem.EncodeToMemory(&pem.Block{Type: certificateBlock, Bytes: leaf.Raw}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	)
}

// LoadFromFiles carga desde disco: .p12/.pfx con password o certificado + llave PEM.
// Si keyPath está vacío se asume que certPath contiene ambos bloques.
func LoadFromFiles(certPath, keyPath, password string) (tls.Certificate, error) {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: leer %s: %v", domain.ErrCredential, certPath, err)
	}
	lower := strings.ToLower(certPath)
	if strings.HasSuffix(lower, ".p12") || strings.HasSuffix(lower, ".pfx") {
		return LoadFromPKCS12(certData, password)
	}
	keyData := certData
	if keyPath != "" {
		if keyData, err = os.ReadFile(keyPath); err != nil {
			return tls.Certificate{}, fmt.Errorf("%w: leer %s: %v", domain.ErrCredential, keyPath, err)
		}
	}
	return LoadFromPEM(onlyBlocks(keyData, isPrivateKeyBlock), onlyBlocks(certData, isCertificateBlock))
}

func pairFromPEM(certPEM, keyPEM []byte) (tls.Certificate, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: la llave no corresponde al certificado o está dañada", domain.ErrCredential)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: parsear certificado: %v", domain.ErrCredential, err)
	}
	pair.Leaf = leaf
	return pair, nil
}

func firstBlockType(data []byte) (string, bool) {
	block, _ := pem.Decode(data)
	if block == nil {
		return "", false
	}
	return block.Type, true
}

func isPrivateKeyBlock(b *pem.Block) bool  { return privateKeyBlocks[b.Type] }
func isCertificateBlock(b *pem.Block) bool { return b.Type == certificateBlock }

// onlyBlocks filtra un archivo combinado (cert + llave) y devuelve los bloques que cumplen keep.
func onlyBlocks(data []byte, keep func(*pem.Block) bool) []byte {
	var out []byte
	rest := data
	for {
		var b *pem.Block
		b, rest = pem.Decode(rest)
		if b == nil {
			break
		}
		if keep(b) {
			out = append(out, pem.EncodeToMemory(b)...)
		}
	}
	if out == nil {
		return data
	}
	return out
}
