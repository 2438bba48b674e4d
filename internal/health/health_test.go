package health

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandlerReportsSuppliedStatus(t *testing.T) {
	h := Handler(func() Status {
		return Status{ConnectionActive: true, SignalsSubscribed: 2, NATSConnected: false}
	}, time.Now())

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, 200, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["connection_active"])
	require.Equal(t, float64(2), body["signals_subscribed"])
	require.Equal(t, false, body["nats_connected"])
}
