package sunat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat/sunattest"
)

func TestParseCDR(t *testing.T) {
	cdr, err := sunat.ParseCDR(sunattest.CDRZip("20123456786-01-F001-0001.zip", "0", "La Factura numero F001-0001, ha sido aceptada"))
	require.NoError(t, err)
	assert.Equal(t, "R-20123456786-01-F001-0001.xml", cdr.FileName)
	assert.Equal(t, "20123456786-01-F001-0001", cdr.ReferenceID)
	assert.True(t, cdr.Accepted())
	assert.False(t, cdr.Rejected())
}

func TestParseCDR_ISO88591(t *testing.T) {
	body := `<?xml version="1.0" encoding="ISO-8859-1"?>` +
		`<ApplicationResponse xmlns:cac="urn:cac" xmlns:cbc="urn:cbc"><cbc:Note>4252 - Observación</cbc:Note>` +
		`<cac:DocumentResponse><cac:Response><cbc:ResponseCode>4252</cbc:ResponseCode>` +
		`<cbc:Description>Aceptada con observación</cbc:Description></cac:Response></cac:DocumentResponse></ApplicationResponse>`
	latin, err := charmap.ISO8859_1.NewEncoder().String(body)
	require.NoError(t, err)
	zipBytes, err := sunat.CompressXMLToZip([]byte(latin), "R-20123456786-01-F001-0002.xml")
	require.NoError(t, err)

	cdr, err := sunat.ParseCDR(zipBytes)
	require.NoError(t, err)
	assert.Equal(t, "Aceptada con observación", cdr.Description)
	assert.Equal(t, []string{"4252 - Observación"}, cdr.Notes)
	assert.True(t, cdr.Accepted())
}

func TestParseCDR_Invalido(t *testing.T) {
	_, err := sunat.ParseCDR([]byte("no es zip"))
	assert.Error(t, err)

	zipBytes, err := sunat.CompressXMLToZip([]byte("<ApplicationResponse/>"), "R-x.xml")
	require.NoError(t, err)
	_, err = sunat.ParseCDR(zipBytes)
	assert.Error(t, err, "sin ResponseCode")
}
