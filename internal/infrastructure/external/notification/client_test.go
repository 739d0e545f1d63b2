package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"created", http.StatusCreated},
		{"client error is not an error", http.StatusBadRequest},
		{"server error is not an error", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "secret", r.Header.Get(defaultAPIKeyHeader))
				var m message
				if assert.NoError(t, json.NewDecoder(r.Body).Decode(&m)) {
					assert.Equal(t, "RSSMRA85T10A562S", m.FiscalCode)
					assert.Equal(t, "hello", m.Content)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(Config{Endpoint: srv.URL, APIKey: "secret"}, nil, nil)
			code, err := c.Send(context.Background(), "RSSMRA85T10A562S", "hello")
			require.NoError(t, err)
			assert.Equal(t, tt.status, code)
		})
	}
}

func TestSend_CustomHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		assert.Empty(t, r.Header.Get(defaultAPIKeyHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, APIKey: "k", APIKeyHeader: "X-Api-Key"}, nil, nil)
	code, err := c.Send(context.Background(), "RSSMRA85T10A562S", "hello")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
}

func TestSend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, nil, nil)
	code, err := c.Send(context.Background(), "RSSMRA85T10A562S", "hello")
	assert.Error(t, err)
	assert.Zero(t, code)
}
