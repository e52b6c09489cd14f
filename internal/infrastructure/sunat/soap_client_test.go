package sunat_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat/sunattest"
	"github.com/jhoicas/facturador-sunat/pkg/config"
)

func newClient(endpoint string) *sunat.SOAPClient {
	cfg := config.SUNATConfig{Environment: config.SUNATEnvBeta, Timeout: 45 * time.Second}
	return sunat.NewSOAPClientWithEndpoint(endpoint, cfg, zerolog.Nop())
}

func submitRequest(t *testing.T) sunat.SubmitRequest {
	zipBytes, err := sunat.CompressXMLToZip([]byte("<Invoice/>"), "20123456786-01-F001-0001.xml")
	require.NoError(t, err)
	return sunat.SubmitRequest{
		FileName: sunat.FileBaseName("20123456786", "01", "F001-0001"),
		ZipBytes: zipBytes,
		Username: sunat.SOLUsername("20123456786", "MODDATOS"),
		Password: "moddatos",
	}
}

func TestSubmit_Aceptado(t *testing.T) {
	srv := sunattest.NewServer(sunattest.Accept)
	defer srv.Close()

	out, err := newClient(srv.URL).Submit(context.Background(), submitRequest(t))
	require.NoError(t, err)
	assert.Equal(t, sunat.OutcomeAccepted, out.Kind)
	assert.Equal(t, domain.HTTPOutcomeSuccess, out.HTTPOutcome)
	assert.Equal(t, "0", out.ResponseCode)
	assert.NotEmpty(t, out.CDR)
	assert.NotEmpty(t, out.Raw)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "20123456786MODDATOS", reqs[0].Username)
	assert.Equal(t, "moddatos", reqs[0].Password)
	assert.Equal(t, "20123456786-01-F001-0001.zip", reqs[0].FileName)
}

func TestSubmit_CDRConRechazo(t *testing.T) {
	srv := sunattest.NewServer(func(_ int, req sunattest.Request) sunattest.Reply {
		return sunattest.Reply{Body: sunattest.SendBillResponse(sunattest.CDRZip(req.FileName, "2335", "El documento electrónico ingresado ha sido alterado"))}
	})
	defer srv.Close()

	out, err := newClient(srv.URL).Submit(context.Background(), submitRequest(t))
	require.NoError(t, err)
	assert.Equal(t, sunat.OutcomeRejected, out.Kind)
	assert.Equal(t, "2335", out.ResponseCode)
}

func TestSubmit_CDRConObservaciones(t *testing.T) {
	srv := sunattest.NewServer(func(_ int, req sunattest.Request) sunattest.Reply {
		return sunattest.Reply{Body: sunattest.SendBillResponse(sunattest.CDRZip(req.FileName, "4252", "Observación"))}
	})
	defer srv.Close()

	out, err := newClient(srv.URL).Submit(context.Background(), submitRequest(t))
	require.NoError(t, err)
	assert.Equal(t, sunat.OutcomeAccepted, out.Kind)
}

func TestSubmit_FaultCliente(t *testing.T) {
	srv := sunattest.NewServer(func(int, sunattest.Request) sunattest.Reply {
		return sunattest.Reply{Status: http.StatusInternalServerError, Body: sunattest.Fault("soap-env:Client.0306", "No se puede leer (parsear) el archivo XML")}
	})
	defer srv.Close()

	out, err := newClient(srv.URL).Submit(context.Background(), submitRequest(t))
	require.NoError(t, err)
	assert.Equal(t, sunat.OutcomeRejected, out.Kind)
	assert.Equal(t, "0306", out.ResponseCode)
	assert.Contains(t, out.Message, "parsear")
	assert.Nil(t, out.Err)
}

func TestSubmit_FaultServidor(t *testing.T) {
	srv := sunattest.NewServer(func(int, sunattest.Request) sunattest.Reply {
		return sunattest.Reply{Status: http.StatusInternalServerError, Body: sunattest.Fault("soap-env:Server", "Servicio no disponible")}
	})
	defer srv.Close()

	out, err := newClient(srv.URL).Submit(context.Background(), submitRequest(t))
	require.NoError(t, err)
	assert.Equal(t, sunat.OutcomeTransportError, out.Kind)
	assert.True(t, errors.Is(out.Err, domain.ErrTransport))
	assert.NotEmpty(t, out.Raw, "la respuesta cruda se conserva")
}

func TestSubmit_5xxSinFaultYRespuestaVacia(t *testing.T) {
	srv := sunattest.NewServer(func(attempt int, _ sunattest.Request) sunattest.Reply {
		if attempt == 1 {
			return sunattest.Reply{Status: http.StatusBadGateway, Body: []byte("<html>Bad Gateway</html>")}
		}
		return sunattest.Reply{}
	})
	defer srv.Close()
	client := newClient(srv.URL)

	out, err := client.Submit(context.Background(), submitRequest(t))
	require.NoError(t, err)
	assert.Equal(t, sunat.OutcomeTransportError, out.Kind)

	out, err = client.Submit(context.Background(), submitRequest(t))
	require.NoError(t, err)
	assert.Equal(t, sunat.OutcomeTransportError, out.Kind)
}

func TestSubmit_Timeout(t *testing.T) {
	srv := sunattest.NewServer(func(int, sunattest.Request) sunattest.Reply {
		return sunattest.Reply{Delay: 2 * time.Second, Body: []byte("tarde")}
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := newClient(srv.URL).Submit(ctx, submitRequest(t))
	require.NoError(t, err)
	assert.Equal(t, sunat.OutcomeTransportError, out.Kind)
	assert.Equal(t, domain.HTTPOutcomeTimeout, out.HTTPOutcome)

	var te *domain.TransportError
	require.ErrorAs(t, out.Err, &te)
	assert.Equal(t, domain.HTTPOutcomeTimeout, te.Outcome)
}

func TestSubmit_ErrorDeRed(t *testing.T) {
	srv := sunattest.NewServer(sunattest.Accept)
	url := srv.URL
	srv.Close()

	out, err := newClient(url).Submit(context.Background(), submitRequest(t))
	require.NoError(t, err)
	assert.Equal(t, sunat.OutcomeTransportError, out.Kind)
	assert.Equal(t, domain.HTTPOutcomeNetworkError, out.HTTPOutcome)
}

func TestSubmit_SolicitudInvalida(t *testing.T) {
	_, err := newClient("http://localhost").Submit(context.Background(), sunat.SubmitRequest{})
	assert.ErrorIs(t, err, domain.ErrUnsendable)
	assert.NotErrorIs(t, err, domain.ErrTransport)
}

func TestCheck_NoEnviable(t *testing.T) {
	req := submitRequest(t)
	noUser := req
	noUser.Username = ""

	cases := []struct {
		name     string
		endpoint string
		req      sunat.SubmitRequest
	}{
		{"sin usuario SOL", "http://localhost", noUser},
		{"endpoint vacío", "", req},
		{"endpoint sin host", "billService", req},
		{"esquema no http", "ftp://sunat.gob.pe/ol-ti-itcpfegem/billService", req},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(tc.endpoint)
			assert.ErrorIs(t, client.Check(tc.req), domain.ErrUnsendable)
			_, err := client.Submit(context.Background(), tc.req)
			assert.ErrorIs(t, err, domain.ErrUnsendable)
		})
	}
	assert.NoError(t, newClient("https://e-beta.sunat.gob.pe/ol-ti-itcpfegem-beta/billService").Check(req))
}

func TestNewSOAPClient_TimeoutMinimo(t *testing.T) {
	c := sunat.NewSOAPClientWithEndpoint("http://localhost", config.SUNATConfig{Timeout: time.Second}, zerolog.Nop())
	assert.Equal(t, config.MinSUNATTimeout, c.Timeout())
}

func TestFilenames(t *testing.T) {
	xmlName, zipName := sunat.Filenames("20123456786", "01", "F001-0001")
	assert.Equal(t, "20123456786-01-F001-0001.xml", xmlName)
	assert.Equal(t, "20123456786-01-F001-0001.zip", zipName)
	assert.Equal(t, "20123456786MODDATOS", sunat.SOLUsername("20123456786", "20123456786MODDATOS"))
}
