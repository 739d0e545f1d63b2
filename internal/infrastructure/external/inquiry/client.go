// Package inquiry queries the tax authority's ISEE threshold service over
// SOAP 1.1.
package inquiry

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
)

const (
	defaultSOAPAction    = "http://inps.it/ConsultazioneISEE/ISvcConsultazione/ConsultazioneSogliaIndicatore"
	defaultThresholdCode = "BVBONUS"
	maxResponseBytes     = 1 << 20
)

// Result codes returned in <Esito>
const (
	esitoOK              = "OK"
	esitoDataNotFound    = "DATI_NON_TROVATI"
	esitoInvalidRequest  = "RICHIESTA_INVALIDA"
	esitoInternalError   = "ERRORE_INTERNO"
	esitoDatabaseOffline = "DATABASE_OFFLINE"
	discrepancyPresent   = "SI"
	dsuDateLayout        = "2006-01-02"
)

// Config holds the inquiry endpoint configuration
type Config struct {
	Endpoint      string
	SOAPAction    string
	ThresholdCode string
	Timeout       time.Duration
}

// Client implements port.InquiryClient
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a new inquiry client. A nil httpClient gets one with
// the configured timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.SOAPAction == "" {
		cfg.SOAPAction = defaultSOAPAction
	}
	if cfg.ThresholdCode == "" {
		cfg.ThresholdCode = defaultThresholdCode
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

type requestEnvelope struct {
	XMLName xml.Name    `xml:"soapenv:Envelope"`
	SoapEnv string      `xml:"xmlns:soapenv,attr"`
	Con     string      `xml:"xmlns:con,attr"`
	Body    requestBody `xml:"soapenv:Body"`
}

type requestBody struct {
	Request thresholdRequest `xml:"con:ConsultazioneSogliaIndicatore"`
}

type thresholdRequest struct {
	FiscalCode    string `xml:"con:request>con:CodiceFiscale"`
	ThresholdCode string `xml:"con:request>con:CodiceSoglia"`
	WithFamily    string `xml:"con:request>con:FornituraNucleo"`
	ValidOn       string `xml:"con:request>con:DataValidita"`
}

type responseEnvelope struct {
	Body struct {
		Fault    *soapFault `xml:"Fault"`
		Response struct {
			Result thresholdResult `xml:"ConsultazioneSogliaIndicatoreResult"`
		} `xml:"ConsultazioneSogliaIndicatoreResponse"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type thresholdResult struct {
	RequestID   string         `xml:"IdRichiesta"`
	Esito       string         `xml:"Esito"`
	Description string         `xml:"DescrizioneErrore"`
	Indicator   *indicatorData `xml:"DatiIndicatore"`
}

type indicatorData struct {
	Type          string      `xml:"TipoIndicatore,attr"`
	ProtocolID    string      `xml:"ProtocolloDSU,attr"`
	SubmittedOn   string      `xml:"DataPresentazioneDSU,attr"`
	Discrepancies string      `xml:"PresenzaDifformita,attr"`
	Value         string      `xml:"Valore,attr"`
	Members       []component `xml:"Componente"`
}

type component struct {
	FiscalCode string `xml:"CodiceFiscale,attr"`
}

// Inquire asks for the applicant's ISEE and family composition. A returned
// error is transient; permanent answers come back as outcomes.
func (c *Client) Inquire(ctx context.Context, applicantID string) (*port.InquiryResult, error) {
	payload, err := xml.Marshal(requestEnvelope{
		SoapEnv: "http://schemas.xmlsoap.org/soap/envelope/",
		Con:     "http://inps.it/ConsultazioneISEE",
		Body: requestBody{Request: thresholdRequest{
			FiscalCode:    applicantID,
			ThresholdCode: c.cfg.ThresholdCode,
			WithFamily:    "SI",
			ValidOn:       c.now().Format(dsuDateLayout),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode inquiry request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint,
		bytes.NewReader(append([]byte(xml.Header), payload...)))
	if err != nil {
		return nil, fmt.Errorf("failed to build inquiry request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", c.cfg.SOAPAction)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inquiry request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read inquiry response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("inquiry service returned %d: %s", resp.StatusCode, faultText(body))
	}
	if resp.StatusCode >= 400 {
		return &port.InquiryResult{
			Outcome: port.InquiryInvalidRequest,
			Message: fmt.Sprintf("inquiry service returned %d", resp.StatusCode),
		}, nil
	}

	var env responseEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode inquiry response: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, fmt.Errorf("inquiry fault %s: %s", env.Body.Fault.Code, env.Body.Fault.String)
	}

	return c.toResult(applicantID, env.Body.Response.Result)
}

func (c *Client) toResult(applicantID string, r thresholdResult) (*port.InquiryResult, error) {
	logger := c.logger.With(zap.String("applicant_id", applicantID), zap.String("request_id", r.RequestID))

	switch strings.ToUpper(strings.TrimSpace(r.Esito)) {
	case esitoOK:
	case esitoDataNotFound:
		logger.Info("No ISEE on file")
		return &port.InquiryResult{Outcome: port.InquiryDataNotFound, RequestID: r.RequestID, Message: r.Description}, nil
	case esitoInvalidRequest:
		logger.Warn("Inquiry rejected", zap.String("description", r.Description))
		return &port.InquiryResult{Outcome: port.InquiryInvalidRequest, RequestID: r.RequestID, Message: r.Description}, nil
	case esitoInternalError, esitoDatabaseOffline:
		return nil, fmt.Errorf("inquiry service unavailable (%s): %s", r.Esito, r.Description)
	default:
		return nil, fmt.Errorf("unexpected inquiry outcome %q", r.Esito)
	}

	if r.Indicator == nil {
		return nil, fmt.Errorf("inquiry response %s has no indicator data", r.RequestID)
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(r.Indicator.Value), ",", "."), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ISEE value %q: %w", r.Indicator.Value, err)
	}

	result := &port.InquiryResult{
		Outcome:          port.InquirySuccess,
		RequestID:        r.RequestID,
		ISEEType:         r.Indicator.Type,
		ISEEValue:        value,
		DSUProtocolID:    r.Indicator.ProtocolID,
		HasDiscrepancies: strings.EqualFold(r.Indicator.Discrepancies, discrepancyPresent),
	}
	if r.Indicator.SubmittedOn != "" {
		submitted, err := time.Parse(dsuDateLayout, r.Indicator.SubmittedOn)
		if err != nil {
			return nil, fmt.Errorf("invalid DSU date %q: %w", r.Indicator.SubmittedOn, err)
		}
		result.DSUCreatedAt = submitted
	}
	for _, m := range r.Indicator.Members {
		if code := strings.TrimSpace(m.FiscalCode); code != "" {
			result.FamilyMembers = append(result.FamilyMembers, code)
		}
	}
	return result, nil
}

func faultText(body []byte) string {
	var env responseEnvelope
	if err := xml.Unmarshal(body, &env); err == nil && env.Body.Fault != nil {
		return env.Body.Fault.String
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

var _ port.InquiryClient = (*Client)(nil)
