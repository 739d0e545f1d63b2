package inquiry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
)

const applicant = "RSSMRA85T10A562S"

func envelope(result string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <ConsultazioneSogliaIndicatoreResponse xmlns="http://inps.it/ConsultazioneISEE">
      <ConsultazioneSogliaIndicatoreResult>` + result + `</ConsultazioneSogliaIndicatoreResult>
    </ConsultazioneSogliaIndicatoreResponse>
  </s:Body>
</s:Envelope>`
}

func newTestClient(t *testing.T, status int, body string, inspect func(r *http.Request, body string)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			raw, _ := io.ReadAll(r.Body)
			inspect(r, string(raw))
		}
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{Endpoint: srv.URL, Timeout: time.Second}, nil, nil)
	c.now = func() time.Time { return time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC) }
	return c
}

func TestInquire_Success(t *testing.T) {
	body := envelope(`
		<IdRichiesta>req-42</IdRichiesta>
		<Esito>OK</Esito>
		<DatiIndicatore TipoIndicatore="Ordinario" ProtocolloDSU="INPS-ISEE-2026-1" DataPresentazioneDSU="2026-01-15"
			PresenzaDifformita="NO" Valore="12345,67">
			<Componente CodiceFiscale="RSSMRA85T10A562S"/>
			<Componente CodiceFiscale="BNCLRA87A41F205X"/>
		</DatiIndicatore>`)

	c := newTestClient(t, http.StatusOK, body, func(r *http.Request, payload string) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, defaultSOAPAction, r.Header.Get("SOAPAction"))
		assert.Contains(t, r.Header.Get("Content-Type"), "text/xml")
		assert.Contains(t, payload, "<con:CodiceFiscale>"+applicant+"</con:CodiceFiscale>")
		assert.Contains(t, payload, "<con:CodiceSoglia>BVBONUS</con:CodiceSoglia>")
		assert.Contains(t, payload, "<con:DataValidita>2026-06-01</con:DataValidita>")
	})

	res, err := c.Inquire(context.Background(), applicant)
	require.NoError(t, err)
	assert.Equal(t, port.InquirySuccess, res.Outcome)
	assert.Equal(t, "req-42", res.RequestID)
	assert.Equal(t, "Ordinario", res.ISEEType)
	assert.InDelta(t, 12345.67, res.ISEEValue, 0.001)
	assert.Equal(t, "INPS-ISEE-2026-1", res.DSUProtocolID)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), res.DSUCreatedAt)
	assert.False(t, res.HasDiscrepancies)
	assert.Equal(t, []string{"RSSMRA85T10A562S", "BNCLRA87A41F205X"}, res.FamilyMembers)
}

func TestInquire_PermanentOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		outcome port.InquiryOutcome
	}{
		{
			name:    "data not found",
			status:  http.StatusOK,
			body:    envelope(`<IdRichiesta>r</IdRichiesta><Esito>DATI_NON_TROVATI</Esito><DescrizioneErrore>no DSU</DescrizioneErrore>`),
			outcome: port.InquiryDataNotFound,
		},
		{
			name:    "invalid request",
			status:  http.StatusOK,
			body:    envelope(`<IdRichiesta>r</IdRichiesta><Esito>RICHIESTA_INVALIDA</Esito><DescrizioneErrore>bad code</DescrizioneErrore>`),
			outcome: port.InquiryInvalidRequest,
		},
		{
			name:    "client error status",
			status:  http.StatusBadRequest,
			body:    "bad request",
			outcome: port.InquiryInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.status, tt.body, nil)
			res, err := c.Inquire(context.Background(), applicant)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
		})
	}
}

func TestInquire_TransientErrors(t *testing.T) {
	fault := `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>
		<faultcode>s:Server</faultcode><faultstring>backend timeout</faultstring></s:Fault></s:Body></s:Envelope>`

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"soap fault", http.StatusInternalServerError, fault, "backend timeout"},
		{"unavailable", http.StatusServiceUnavailable, "down", "503"},
		{"internal error outcome", http.StatusOK, envelope(`<Esito>ERRORE_INTERNO</Esito>`), "ERRORE_INTERNO"},
		{"unknown outcome", http.StatusOK, envelope(`<Esito>MAYBE</Esito>`), "unexpected inquiry outcome"},
		{"missing indicator", http.StatusOK, envelope(`<Esito>OK</Esito>`), "no indicator data"},
		{"bad value", http.StatusOK, envelope(`<Esito>OK</Esito><DatiIndicatore Valore="n/a"/>`), "invalid ISEE value"},
		{"garbage", http.StatusOK, "not xml at all <", "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.status, tt.body, nil)
			_, err := c.Inquire(context.Background(), applicant)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestInquire_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, nil, nil)
	_, err := c.Inquire(context.Background(), applicant)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inquiry request failed")
}

func TestInquire_DiscrepancyFlag(t *testing.T) {
	body := envelope(fmt.Sprintf(`<Esito>OK</Esito><DatiIndicatore Valore="9000" PresenzaDifformita="%s">
		<Componente CodiceFiscale="%s"/></DatiIndicatore>`, "SI", applicant))
	c := newTestClient(t, http.StatusOK, body, nil)

	res, err := c.Inquire(context.Background(), applicant)
	require.NoError(t, err)
	assert.True(t, res.HasDiscrepancies)
	assert.True(t, res.DSUCreatedAt.IsZero())
}
