package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestParseVmID(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/vms/42/start", nil)
	r = withURLParam(r, "id", "42")

	id, err := parseVmID(r)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}

func TestParseVmIDInvalid(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/vms/not-a-number/start", nil)
	r = withURLParam(r, "id", "not-a-number")

	_, err := parseVmID(r)
	require.Error(t, err)
}

func TestReadWebhookBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/lightning", strings.NewReader(`{"ok":true}`))
	body, err := readWebhookBody(r)
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(body))
}

func TestReadWebhookBodyTruncatesOversizedPayload(t *testing.T) {
	huge := bytes.Repeat([]byte("a"), (1<<20)+10)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/lightning", bytes.NewReader(huge))
	body, err := readWebhookBody(r)
	require.NoError(t, err)
	require.LessOrEqual(t, len(body), 1<<20)
}

func TestRespondErrStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{lnvpserr.Validation("bad"), http.StatusBadRequest},
		{lnvpserr.NotFound("missing"), http.StatusNotFound},
		{lnvpserr.Auth("denied"), http.StatusForbidden},
		{lnvpserr.Conflict("conflict"), http.StatusConflict},
		{lnvpserr.UniqueViolation("dup"), http.StatusConflict},
		{lnvpserr.CapacityExhausted("full"), http.StatusServiceUnavailable},
		{lnvpserr.Fatal(nil, "oops"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		respondErr(w, c.err)
		require.Equal(t, c.want, w.Code)
	}
}
