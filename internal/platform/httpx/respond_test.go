package httpx

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	var payload struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"ok"}`))
	require.NoError(t, DecodeJSON(req, &payload))
	require.Equal(t, "ok", payload.Name)
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	body := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))

	var payload struct {
		Name string `json:"name"`
	}
	require.Error(t, DecodeJSON(req, &payload))
}
