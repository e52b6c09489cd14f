package sunat

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// maxZipEntry límite de lectura de una entrada del CDR.
const maxZipEntry = 5 << 20

// CompressXMLToZip empaqueta el XML firmado en un ZIP en memoria con una sola entrada.
func CompressXMLToZip(xmlBytes []byte, xmlFilename string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	fw, err := zw.Create(xmlFilename)
	if err != nil {
		return nil, fmt.Errorf("zip: crear entrada %s: %w", xmlFilename, err)
	}
	if _, err := fw.Write(xmlBytes); err != nil {
		return nil, fmt.Errorf("zip: escribir XML: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: cerrar archivo: %w", err)
	}
	return buf.Bytes(), nil
}

// FileBaseName nombre que SUNAT exige para el comprobante: {RUC}-{TT}-{SERIE}-{CORRELATIVO}.
// Es determinista, así un reintento envía exactamente el mismo archivo.
func FileBaseName(ruc, docType, documentID string) string {
	return strings.TrimSpace(ruc) + "-" + docType + "-" + strings.TrimSpace(documentID)
}

// Filenames devuelve el nombre del XML interno y del ZIP que se envía.
func Filenames(ruc, docType, documentID string) (xmlName, zipName string) {
	base := FileBaseName(ruc, docType, documentID)
	return base + ".xml", base + ".zip"
}

// extractXML devuelve la primera entrada .xml del ZIP (el CDR viene como R-{nombre}.xml).
func extractXML(zipBytes []byte) ([]byte, string, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, "", fmt.Errorf("zip: abrir: %w", err)
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", fmt.Errorf("zip: abrir %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxZipEntry))
		rc.Close()
		if err != nil {
			return nil, "", fmt.Errorf("zip: leer %s: %w", f.Name, err)
		}
		return data, f.Name, nil
	}
	return nil, "", fmt.Errorf("zip: no contiene XML")
}
