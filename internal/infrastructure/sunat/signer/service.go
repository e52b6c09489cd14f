// Firma XMLDSig envuelta para comprobantes UBL 2.1 (SUNAT).
// La firma se inyecta en ext:UBLExtensions/ext:UBLExtension/ext:ExtensionContent.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/facturador-sunat/internal/domain"
)

// SignedInvoice es el resultado de firmar un comprobante.
type SignedInvoice struct {
	DocumentID     string
	XML            []byte
	DigestValue    string
	SignatureValue string
	SignedAt       time.Time
}

// DigitalSignatureService firma el XML con la llave RSA del emisor.
type DigitalSignatureService struct {
	log zerolog.Logger
	now func() time.Time
}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService(log zerolog.Logger) *DigitalSignatureService {
	return &DigitalSignatureService{log: log, now: time.Now}
}

// Sign devuelve el documento firmado. Si el XML ya trae una firma en ExtensionContent
// se devuelve tal cual, sin volver a firmar. Ante cualquier error no hay salida parcial.
func (s *DigitalSignatureService) Sign(documentID string, unsigned []byte, cert tls.Certificate) (*SignedInvoice, error) {
	if len(unsigned) == 0 {
		return nil, fmt.Errorf("%w: XML vacío", domain.ErrSigning)
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: el certificado debe incluir llave privada RSA", domain.ErrSigning)
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("%w: certificado sin cadena", domain.ErrSigning)
	}
	x509Cert := cert.Leaf
	if x509Cert == nil {
		var err error
		if x509Cert, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, fmt.Errorf("%w: parsear certificado: %v", domain.ErrSigning, err)
		}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(unsigned); err != nil {
		return nil, fmt.Errorf("%w: parsear XML: %v", domain.ErrSigning, err)
	}
	content, existing, err := locateSignatureSlot(doc)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Debug().Str("document_id", documentID).Msg("documento ya firmado, se omite la firma")
		return &SignedInvoice{
			DocumentID:     documentID,
			XML:            unsigned,
			DigestValue:    childText(existing, "SignedInfo", "Reference", "DigestValue"),
			SignatureValue: childText(existing, "SignatureValue"),
			SignedAt:       s.now(),
		}, nil
	}
	if now := s.now(); now.After(x509Cert.NotAfter) {
		s.log.Warn().Str("document_id", documentID).Time("not_after", x509Cert.NotAfter).Msg("certificado vencido, SUNAT podría rechazar el comprobante")
	}

	// 1) Digest del documento sin firma (transformación enveloped + C14N exclusiva)
	canonicalDoc, err := canonicalRoot(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalizar documento: %v", domain.ErrSigning, err)
	}
	docDigest := sha256.Sum256(canonicalDoc)
	docDigestB64 := base64.StdEncoding.EncodeToString(docDigest[:])

	// 2) SignedInfo
	signedInfoXML := buildSignedInfo(docDigestB64)
	canonicalSignedInfo, err := Canonicalize([]byte(signedInfoXML))
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalizar SignedInfo: %v", domain.ErrSigning, err)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, fmt.Errorf("%w: firmar SignedInfo: %v", domain.ErrSigning, err)
	}
	signatureValueB64 := base64.StdEncoding.EncodeToString(signatureValue)

	// 3) Inyección
	certB64 := base64.StdEncoding.EncodeToString(x509Cert.Raw)
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(buildSignature(signedInfoXML, signatureValueB64, certB64)); err != nil {
		return nil, fmt.Errorf("%w: parsear Signature: %v", domain.ErrSigning, err)
	}
	content.AddChild(sigDoc.Root())

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: serializar: %v", domain.ErrSigning, err)
	}
	if err := Verify(out); err != nil {
		return nil, fmt.Errorf("%w: la firma generada no verifica: %v", domain.ErrSigning, err)
	}
	return &SignedInvoice{
		DocumentID:     documentID,
		XML:            out,
		DigestValue:    docDigestB64,
		SignatureValue: signatureValueB64,
		SignedAt:       s.now(),
	}, nil
}

// Canonicalize aplica C14N exclusiva sin comentarios.
func Canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// canonicalRoot serializa solo el elemento raíz (sin declaración XML) y lo canonicaliza.
func canonicalRoot(doc *etree.Document) ([]byte, error) {
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("documento sin raíz")
	}
	tmp := etree.NewDocument()
	tmp.SetRoot(root.Copy())
	raw, err := tmp.WriteToBytes()
	if err != nil {
		return nil, err
	}
	return Canonicalize(raw)
}

func buildSignedInfo(docDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgExcC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<ds:Reference URI="">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<ds:Transform Algorithm="` + AlgExcC14N + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func buildSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" Id="` + SignatureID + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue>` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

// locateSignatureSlot devuelve el ExtensionContent destinado a la firma y, si ya existe,
// el nodo ds:Signature que contiene.
func locateSignatureSlot(doc *etree.Document) (content, existing *etree.Element, err error) {
	root := doc.Root()
	if root == nil {
		return nil, nil, fmt.Errorf("%w: documento sin raíz", domain.ErrSigning)
	}
	exts := firstChild(root, extensionsTag)
	if exts == nil {
		return nil, nil, fmt.Errorf("%w: no se encontró ext:UBLExtensions", domain.ErrSigning)
	}
	var empty *etree.Element
	for _, ext := range exts.ChildElements() {
		if ext.Tag != extensionTag {
			continue
		}
		ec := firstChild(ext, contentTag)
		if ec == nil {
			continue
		}
		if sig := firstChild(ec, signatureTag); sig != nil {
			return ec, sig, nil
		}
		if empty == nil && len(ec.ChildElements()) == 0 {
			empty = ec
		}
	}
	if empty == nil {
		return nil, nil, fmt.Errorf("%w: no hay ext:ExtensionContent libre para la firma", domain.ErrSigning)
	}
	return empty, nil, nil
}

func firstChild(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// childText sigue la ruta de nombres locales y devuelve el texto del último nodo.
func childText(el *etree.Element, path ...string) string {
	cur := el
	for _, tag := range path {
		if cur = firstChild(cur, tag); cur == nil {
			return ""
		}
	}
	return strings.TrimSpace(cur.Text())
}
