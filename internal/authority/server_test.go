package authority

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/license"
)

func newTestServer(t *testing.T, opts ServerOptions, licenses ...license.License) (*httptest.Server, *MemoryStore) {
	t.Helper()
	svc, store := newTestService(t, licenses...)
	srv := httptest.NewServer(NewServer(svc, discardLogger(), opts).Routes())
	t.Cleanup(srv.Close)
	return srv, store
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestServer_Activate(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{}, testLicense("u1", 1))

	resp := post(t, srv, PathActivations, `{"user_id":"u1","hardware_id":"hw-a"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["activated"])

	resp = post(t, srv, PathActivations, `{"user_id":"u1","hardware_id":"hw-b"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["activated"])
}

func TestServer_ValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing user", `{"hardware_id":"hw-a"}`},
		{"blank hardware id", `{"user_id":"u1","hardware_id":" "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, PathActivations, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "/errors/validation", decode(t, resp)["type"])
		})
	}
}

func TestServer_Verify(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{}, testLicense("u1", 1, "hw-a"))

	resp := post(t, srv, PathVerify, `{"user_id":"u1","hardware_id":"hw-a"}`)
	assert.Equal(t, true, decode(t, resp)["verified"])

	resp = post(t, srv, PathVerify, `{"user_id":"u1","hardware_id":"hw-z"}`)
	assert.Equal(t, false, decode(t, resp)["verified"])
}

func TestServer_GetLicense(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{}, testLicense("u1", 1, "hw-a"))

	resp, err := srv.Client().Get(srv.URL + PathLicenses + "/u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lic license.License
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lic))
	assert.Equal(t, "u1", lic.UserID)
	assert.True(t, lic.IsHardwareActivated("hw-a"))

	missing, err := srv.Client().Get(srv.URL + PathLicenses + "/nobody")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestServer_Deactivate(t *testing.T) {
	srv, store := newTestServer(t, ServerOptions{}, testLicense("u1", 1, "hw-a"))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+PathActivations,
		strings.NewReader(`{"user_id":"u1","hardware_id":"hw-a"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	lic, err := store.GetLicense(req.Context(), "u1")
	require.NoError(t, err)
	assert.Empty(t, lic.Activations)
}

func TestServer_Login(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{})

	resp := post(t, srv, PathLogin, `{"email":"alice@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "u1", body["user_id"])
	assert.NotEmpty(t, body["refresh_token"])

	resp = post(t, srv, PathLogin, `{"email":"alice@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, srv, PathLogin, `{"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Refresh(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{})

	resp := post(t, srv, PathLogin, `{"email":"alice@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := decode(t, resp)["refresh_token"].(string)

	resp = post(t, srv, PathRefresh, `{"refresh_token":"`+token+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "u1", decode(t, resp)["user_id"])

	resp = post(t, srv, PathRefresh, `{"refresh_token":"forged"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, srv, PathRefresh, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RateLimit(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{RateLimitRPS: 0.001, RateLimitBurst: 2}, testLicense("u1", 1))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, post(t, srv, PathVerify, `{"user_id":"u1","hardware_id":"hw-a"}`).StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServer_HealthAndNotFound(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})})

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/metrics": http.StatusOK,
		"/nowhere": http.StatusNotFound,
	} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}
}
