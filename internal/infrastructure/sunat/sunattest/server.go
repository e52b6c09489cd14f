// Package sunattest levanta un billService falso para pruebas del envío a SUNAT.
package sunattest

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Request lo que el servidor recibió en un sendBill.
type Request struct {
	Username string
	Password string
	FileName string
	Zip      []byte
}

// Reply respuesta a devolver. Delay simula un servicio lento.
type Reply struct {
	Status int
	Body   []byte
	Delay  time.Duration
}

// Responder decide la respuesta por intento (1, 2, ...).
type Responder func(attempt int, req Request) Reply

// Server billService falso.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	requests []Request
}

// NewServer arranca el servidor; cerrar con Close.
func NewServer(respond Responder) *Server {
	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := parseRequest(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write(Fault("soap-env:Client", err.Error()))
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		attempt := len(s.requests)
		s.mu.Unlock()

		reply := respond(attempt, req)
		if reply.Delay > 0 {
			select {
			case <-time.After(reply.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if reply.Status == 0 {
			reply.Status = http.StatusOK
		}
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.WriteHeader(reply.Status)
		_, _ = w.Write(reply.Body)
	}))
	return s
}

// Requests copia de lo recibido hasta ahora.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Accept responde con un CDR de código 0 para el archivo recibido.
func Accept(_ int, req Request) Reply {
	return Reply{Body: SendBillResponse(CDRZip(req.FileName, "0", "La Factura ha sido aceptada"))}
}

// SendBillResponse envuelve el ZIP del CDR en la respuesta SOAP.
func SendBillResponse(cdrZip []byte) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/"><soap-env:Body>` +
		`<br:sendBillResponse xmlns:br="http://service.sunat.gob.pe"><applicationResponse>` +
		base64.StdEncoding.EncodeToString(cdrZip) +
		`</applicationResponse></br:sendBillResponse></soap-env:Body></soap-env:Envelope>`)
}

// Fault respuesta SOAP Fault.
func Fault(code, message string) []byte {
	var msg bytes.Buffer
	_ = xml.EscapeText(&msg, []byte(message))
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/"><soap-env:Body><soap-env:Fault>` +
		`<faultcode>` + code + `</faultcode><faultstring>` + msg.String() + `</faultstring>` +
		`</soap-env:Fault></soap-env:Body></soap-env:Envelope>`)
}

// CDRZip arma el ZIP R-{archivo}.xml con un ApplicationResponse mínimo.
func CDRZip(fileName, responseCode, description string) []byte {
	base := trimExt(fileName)
	doc := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>`+
		`<ar:ApplicationResponse xmlns:ar="urn:oasis:names:specification:ubl:schema:xsd:ApplicationResponse-2" `+
		`xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2" `+
		`xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">`+
		`<cbc:ID>1</cbc:ID><cac:DocumentResponse><cac:Response><cbc:ReferenceID>%s</cbc:ReferenceID>`+
		`<cbc:ResponseCode>%s</cbc:ResponseCode><cbc:Description>%s</cbc:Description></cac:Response>`+
		`</cac:DocumentResponse></ar:ApplicationResponse>`, base, responseCode, description)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, _ := zw.Create("R-" + base + ".xml")
	_, _ = fw.Write([]byte(doc))
	_ = zw.Close()
	return buf.Bytes()
}

func trimExt(name string) string {
	for _, ext := range []string{".zip", ".xml"} {
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

type envelope struct {
	Username string `xml:"Header>Security>UsernameToken>Username"`
	Password string `xml:"Header>Security>UsernameToken>Password"`
	FileName string `xml:"Body>sendBill>fileName"`
	Content  string `xml:"Body>sendBill>contentFile"`
}

func parseRequest(body io.Reader) (Request, error) {
	var env envelope
	if err := xml.NewDecoder(body).Decode(&env); err != nil {
		return Request{}, err
	}
	zipBytes, err := base64.StdEncoding.DecodeString(env.Content)
	if err != nil {
		return Request{}, fmt.Errorf("contentFile no es base64: %w", err)
	}
	return Request{Username: env.Username, Password: env.Password, FileName: env.FileName, Zip: zipBytes}, nil
}
