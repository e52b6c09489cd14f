package sunat

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// CDR constancia de recepción (ApplicationResponse) devuelta por SUNAT.
type CDR struct {
	FileName     string
	ResponseCode string
	Description  string
	ReferenceID  string
	Notes        []string
}

// Code devuelve ResponseCode como entero; -1 si no es numérico.
func (c CDR) Code() int {
	n, err := strconv.Atoi(strings.TrimSpace(c.ResponseCode))
	if err != nil {
		return -1
	}
	return n
}

// Accepted: 0 aceptado, 4000 en adelante aceptado con observaciones.
func (c CDR) Accepted() bool {
	code := c.Code()
	return code == 0 || code >= 4000
}

// Rejected: 2000 a 3999 son rechazos del comprobante.
func (c CDR) Rejected() bool {
	code := c.Code()
	return code >= 2000 && code < 4000
}

type applicationResponse struct {
	Notes        []string `xml:"Note"`
	ResponseCode string   `xml:"DocumentResponse>Response>ResponseCode"`
	Description  string   `xml:"DocumentResponse>Response>Description"`
	ReferenceID  string   `xml:"DocumentResponse>Response>ReferenceID"`
}

// ParseCDR abre el ZIP del CDR y lee el código de respuesta.
func ParseCDR(zipBytes []byte) (*CDR, error) {
	data, name, err := extractXML(zipBytes)
	if err != nil {
		return nil, err
	}
	var ar applicationResponse
	if err := decodeXML(data, &ar); err != nil {
		return nil, fmt.Errorf("cdr: parsear %s: %w", name, err)
	}
	if strings.TrimSpace(ar.ResponseCode) == "" {
		return nil, fmt.Errorf("cdr: %s sin ResponseCode", name)
	}
	return &CDR{
		FileName:     name,
		ResponseCode: strings.TrimSpace(ar.ResponseCode),
		Description:  strings.TrimSpace(ar.Description),
		ReferenceID:  strings.TrimSpace(ar.ReferenceID),
		Notes:        ar.Notes,
	}, nil
}

// decodeXML acepta respuestas en ISO-8859-1, que SUNAT usa en varios servicios.
func decodeXML(data []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader
	return dec.Decode(v)
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "utf-8", "utf8", "":
		return input, nil
	case "iso-8859-1", "iso8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("charset no soportado %q", label)
}
