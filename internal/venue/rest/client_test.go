package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "BTC", r.URL.Query().Get("symbol"))
			assert.Equal(t, "v", r.Header.Get("X-Test"))
			_, _ = w.Write([]byte(`{"value": 42}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"gateway down"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 0)
	assert.Equal(t, srv.URL, c.BaseURL())

	var out struct {
		Value int `json:"value"`
	}
	resp, err := c.DoRequest(context.Background(), http.MethodGet, "/ok", &RequestOptions{
		Headers: map[string]string{"X-Test": "v"},
		Params:  map[string]any{"symbol": "BTC"},
	}, &out)
	require.NoError(t, CheckResponse(resp, err))
	assert.Equal(t, 42, out.Value)

	resp, err = c.DoRequest(context.Background(), http.MethodPost, "/bad", &RequestOptions{Data: map[string]any{"a": 1}}, nil)
	err = CheckResponse(resp, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)

	_, err = c.DoRequest(context.Background(), "PATCH", "/ok", nil, nil)
	assert.Error(t, err)
}
