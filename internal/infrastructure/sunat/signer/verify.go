package signer

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Verify comprueba el digest del documento y la firma de SignedInfo con el
// certificado incluido en KeyInfo.
func Verify(signed []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signed); err != nil {
		return fmt.Errorf("parsear XML firmado: %w", err)
	}
	content, sig, err := locateSignatureSlot(doc)
	if err != nil {
		return err
	}
	if sig == nil {
		return errors.New("el documento no tiene ds:Signature")
	}
	signedInfo := firstChild(sig, "SignedInfo")
	if signedInfo == nil {
		return errors.New("ds:SignedInfo ausente")
	}

	cert, err := keyInfoCertificate(sig)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("el certificado no tiene llave pública RSA")
	}
	sigValue, err := decodeBase64(childText(sig, "SignatureValue"))
	if err != nil {
		return fmt.Errorf("SignatureValue: %w", err)
	}

	siCopy := signedInfo.Copy()
	if siCopy.SelectAttr("xmlns:"+siCopy.Space) == nil && siCopy.Space != "" {
		siCopy.CreateAttr("xmlns:"+siCopy.Space, NamespaceDS)
	}
	siDoc := etree.NewDocument()
	siDoc.SetRoot(siCopy)
	siRaw, err := siDoc.WriteToBytes()
	if err != nil {
		return err
	}
	canonicalSI, err := Canonicalize(siRaw)
	if err != nil {
		return fmt.Errorf("canonicalizar SignedInfo: %w", err)
	}
	h := sha256.Sum256(canonicalSI)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sigValue); err != nil {
		return fmt.Errorf("SignatureValue no corresponde: %w", err)
	}

	want := childText(signedInfo, "Reference", "DigestValue")
	content.RemoveChild(sig)
	canonicalDoc, err := canonicalRoot(doc)
	if err != nil {
		return fmt.Errorf("canonicalizar documento: %w", err)
	}
	got := sha256.Sum256(canonicalDoc)
	if base64.StdEncoding.EncodeToString(got[:]) != want {
		return errors.New("DigestValue no corresponde al contenido")
	}
	return nil
}

func keyInfoCertificate(sig *etree.Element) (*x509.Certificate, error) {
	raw, err := decodeBase64(childText(sig, "KeyInfo", "X509Data", "X509Certificate"))
	if err != nil {
		return nil, fmt.Errorf("X509Certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, fmt.Errorf("X509Certificate: %w", err)
	}
	return cert, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, errors.New("valor vacío")
	}
	return base64.StdEncoding.DecodeString(s)
}
