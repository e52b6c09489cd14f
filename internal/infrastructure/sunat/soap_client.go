package sunat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/pkg/config"
)

const (
	soapNS     = "http://schemas.xmlsoap.org/soap/envelope/"
	soapNSSer  = "http://service.sunat.gob.pe"
	soapNSWsse = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	wssePwType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
	soapAction = "urn:sendBill"

	maxResponseSize = 4 << 20
)

// OutcomeKind resultado de un envío desde el punto de vista del flujo de emisión.
type OutcomeKind string

const (
	OutcomeAccepted       OutcomeKind = "accepted"
	OutcomeRejected       OutcomeKind = "rejected"
	OutcomeTransportError OutcomeKind = "transportError"
)

// SubmitRequest datos de un envío sendBill.
type SubmitRequest struct {
	FileName string // sin extensión: {RUC}-{TT}-{SERIE}-{CORRELATIVO}
	ZipBytes []byte
	Username string // RUC + usuario SOL
	Password string
}

// SubmissionOutcome respuesta interpretada. Raw siempre conserva el cuerpo recibido.
type SubmissionOutcome struct {
	Kind         OutcomeKind
	HTTPOutcome  string // domain.HTTPOutcome*
	HTTPStatus   int
	ResponseCode string
	Message      string
	CDR          []byte // ZIP de la constancia
	Notes        []string
	Raw          []byte
	Err          error // *domain.TransportError cuando Kind es transportError
}

// SOAPClient cliente del billService de SUNAT. No reintenta; los reintentos
// los gobierna el estado del comprobante.
type SOAPClient struct {
	endpoint   string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewSOAPClient construye el cliente con el timeout configurado (nunca menor a 30 s).
// La validación TLS solo se relaja en beta y con el flag explícito.
func NewSOAPClient(cfg config.SUNATConfig, log zerolog.Logger) *SOAPClient {
	return NewSOAPClientWithEndpoint(cfg.Endpoint(), cfg, log)
}

// NewSOAPClientWithEndpoint igual que NewSOAPClient pero con URL explícita.
func NewSOAPClientWithEndpoint(endpoint string, cfg config.SUNATConfig, log zerolog.Logger) *SOAPClient {
	timeout := cfg.Timeout
	if timeout < config.MinSUNATTimeout {
		timeout = config.MinSUNATTimeout
	}
	insecure := cfg.InsecureTLS && cfg.Environment == config.SUNATEnvBeta
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure, //nolint:gosec // solo beta
	}
	if insecure {
		log.Warn().Str("endpoint", endpoint).Msg("validación TLS desactivada (beta)")
	}
	return &SOAPClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		log:        log,
	}
}

// Timeout efectivo del cliente HTTP.
func (c *SOAPClient) Timeout() time.Duration { return c.httpClient.Timeout }

// ── Estructuras SOAP ──────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName   xml.Name   `xml:"soapenv:Envelope"`
	XmlnsSoap string     `xml:"xmlns:soapenv,attr"`
	XmlnsSer  string     `xml:"xmlns:ser,attr"`
	XmlnsWsse string     `xml:"xmlns:wsse,attr"`
	Header    soapHeader `xml:"soapenv:Header"`
	Body      soapBody   `xml:"soapenv:Body"`
}

type soapHeader struct {
	Security wsseSecurity `xml:"wsse:Security"`
}

type wsseSecurity struct {
	UsernameToken wsseUsernameToken `xml:"wsse:UsernameToken"`
}

type wsseUsernameToken struct {
	Username string       `xml:"wsse:Username"`
	Password wssePassword `xml:"wsse:Password"`
}

type wssePassword struct {
	Type  string `xml:"Type,attr"`
	Value string `xml:",chardata"`
}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

type sendBillBody struct {
	XMLName     xml.Name `xml:"ser:sendBill"`
	FileName    string   `xml:"fileName"`
	ContentFile string   `xml:"contentFile"`
}

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	SendBillResponse *sendBillResponse `xml:"sendBillResponse"`
	Fault            *soapFault        `xml:"Fault"`
}

type sendBillResponse struct {
	ApplicationResponse string `xml:"applicationResponse"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
	Detail      string `xml:"detail>message"`
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Check valida la solicitud y el endpoint sin abrir conexión. Sus errores envuelven
// domain.ErrUnsendable: no son fallos de transporte y reintentar no los corrige.
func (c *SOAPClient) Check(req SubmitRequest) error {
	if req.FileName == "" || len(req.ZipBytes) == 0 {
		return fmt.Errorf("%w: nombre de archivo o contenido vacío", domain.ErrUnsendable)
	}
	if req.Username == "" {
		return fmt.Errorf("%w: usuario SOL vacío", domain.ErrUnsendable)
	}
	u, err := url.Parse(c.endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: endpoint SUNAT inválido %q", domain.ErrUnsendable, c.endpoint)
	}
	return nil
}

// Submit envía el ZIP con sendBill. El error de retorno solo indica una solicitud
// que no se pudo armar (domain.ErrUnsendable); los fallos de red se devuelven como
// outcome transportError.
func (c *SOAPClient) Submit(ctx context.Context, req SubmitRequest) (*SubmissionOutcome, error) {
	if err := c.Check(req); err != nil {
		return nil, err
	}

	payload, err := buildSendBill(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsendable, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: crear request: %v", domain.ErrUnsendable, err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", soapAction)

	log := c.log.With().Str("file_name", req.FileName).Logger()
	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		outcome := domain.HTTPOutcomeNetworkError
		if isTimeout(ctx, err) {
			outcome = domain.HTTPOutcomeTimeout
		}
		log.Warn().Err(err).Str("http_outcome", outcome).Dur("elapsed", time.Since(started)).Msg("sendBill sin respuesta")
		return transportOutcome(outcome, 0, nil, err), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		outcome := domain.HTTPOutcomeNetworkError
		if isTimeout(ctx, err) {
			outcome = domain.HTTPOutcomeTimeout
		}
		return transportOutcome(outcome, resp.StatusCode, raw, fmt.Errorf("leer respuesta: %w", err)), nil
	}

	out := c.interpret(resp.StatusCode, raw)
	log.Info().Str("outcome", string(out.Kind)).Int("http_status", resp.StatusCode).
		Str("response_code", out.ResponseCode).Dur("elapsed", time.Since(started)).Msg("sendBill")
	return out, nil
}

func buildSendBill(req SubmitRequest) ([]byte, error) {
	fileName := req.FileName
	if !strings.HasSuffix(strings.ToLower(fileName), ".zip") {
		fileName += ".zip"
	}
	env := soapEnvelope{
		XmlnsSoap: soapNS,
		XmlnsSer:  soapNSSer,
		XmlnsWsse: soapNSWsse,
		Header: soapHeader{Security: wsseSecurity{UsernameToken: wsseUsernameToken{
			Username: req.Username,
			Password: wssePassword{Type: wssePwType, Value: req.Password},
		}}},
		Body: soapBody{Content: &sendBillBody{
			FileName:    fileName,
			ContentFile: base64.StdEncoding.EncodeToString(req.ZipBytes),
		}},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// interpret clasifica la respuesta:
//   - Fault "Client" o código 2000-3999: rechazo
//   - Fault "Server" u otro: error de transporte
//   - applicationResponse: aceptado salvo que el CDR diga rechazo
func (c *SOAPClient) interpret(status int, raw []byte) *SubmissionOutcome {
	if len(bytes.TrimSpace(raw)) == 0 {
		return transportOutcome(domain.HTTPOutcomeSuccess, status, raw, fmt.Errorf("respuesta vacía (HTTP %d)", status))
	}
	var env soapResponseEnvelope
	if err := decodeXML(raw, &env); err != nil {
		return transportOutcome(domain.HTTPOutcomeSuccess, status, raw, fmt.Errorf("respuesta SOAP ilegible (HTTP %d): %w", status, err))
	}

	if f := env.Body.Fault; f != nil {
		msg := strings.TrimSpace(f.FaultString)
		if d := strings.TrimSpace(f.Detail); d != "" && d != msg {
			msg += " - " + d
		}
		code := faultNumber(f.FaultCode)
		if isClientFault(f.FaultCode) {
			return &SubmissionOutcome{
				Kind: OutcomeRejected, HTTPOutcome: domain.HTTPOutcomeSuccess, HTTPStatus: status,
				ResponseCode: code, Message: msg, Raw: raw,
			}
		}
		return transportOutcome(domain.HTTPOutcomeSuccess, status, raw, fmt.Errorf("SOAP Fault [%s]: %s", f.FaultCode, msg))
	}

	if status >= http.StatusInternalServerError {
		return transportOutcome(domain.HTTPOutcomeSuccess, status, raw, fmt.Errorf("HTTP %d sin Fault", status))
	}
	if env.Body.SendBillResponse == nil || strings.TrimSpace(env.Body.SendBillResponse.ApplicationResponse) == "" {
		return transportOutcome(domain.HTTPOutcomeSuccess, status, raw, fmt.Errorf("respuesta sin applicationResponse (HTTP %d)", status))
	}

	out := &SubmissionOutcome{Kind: OutcomeAccepted, HTTPOutcome: domain.HTTPOutcomeSuccess, HTTPStatus: status, Raw: raw}
	cdrZip, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(env.Body.SendBillResponse.ApplicationResponse), ""))
	if err != nil {
		c.log.Warn().Err(err).Msg("applicationResponse no es base64; se registra como aceptado")
		out.Message = "CDR ilegible"
		return out
	}
	out.CDR = cdrZip
	cdr, err := ParseCDR(cdrZip)
	if err != nil {
		c.log.Warn().Err(err).Msg("CDR ilegible; se registra como aceptado")
		out.Message = "CDR ilegible"
		return out
	}
	out.ResponseCode = cdr.ResponseCode
	out.Message = cdr.Description
	out.Notes = cdr.Notes
	if cdr.Rejected() {
		out.Kind = OutcomeRejected
	}
	return out
}

func transportOutcome(httpOutcome string, status int, raw []byte, err error) *SubmissionOutcome {
	return &SubmissionOutcome{
		Kind:        OutcomeTransportError,
		HTTPOutcome: httpOutcome,
		HTTPStatus:  status,
		Message:     err.Error(),
		Raw:         raw,
		Err:         &domain.TransportError{Outcome: httpOutcome, Raw: raw, Err: err},
	}
}

// isClientFault: SUNAT usa "soap-env:Client.2335" para errores del comprobante y
// a veces solo el número. Los códigos 2000-3999 también son rechazos.
func isClientFault(code string) bool {
	if strings.Contains(code, "Client") {
		return true
	}
	if n, err := strconv.Atoi(faultNumber(code)); err == nil {
		return n >= 2000 && n < 4000
	}
	return false
}

// faultNumber extrae el número final de un faultcode ("soap-env:Client.0306" → "0306").
func faultNumber(code string) string {
	code = strings.TrimSpace(code)
	i := len(code)
	for i > 0 && code[i-1] >= '0' && code[i-1] <= '9' {
		i--
	}
	return code[i:]
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SOLUsername compone el usuario de WS-Security: RUC seguido del usuario SOL.
func SOLUsername(ruc, solUser string) string {
	if strings.HasPrefix(solUser, ruc) {
		return solUser
	}
	return ruc + solUser
}
