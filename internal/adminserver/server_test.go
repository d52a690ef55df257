package adminserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	servicenow "github.com/anguspalmer/servicenow"
	"github.com/anguspalmer/servicenow/internal/fake"
)

func newTestServer(t *testing.T) (*Server, []byte) {
	t.Helper()
	client, err := servicenow.New(servicenow.Config{Instance: "dev"})
	if err != nil {
		t.Fatalf("servicenow.New: %v", err)
	}
	for _, name := range []string{"sys_db_object", "sys_dictionary", "sys_choice", "sys_data_policy_rule", "sys_documentation"} {
		client.Fake.Seed(name, &fake.Table{})
	}

	secret := []byte("test-secret")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(Config{
		Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second,
		CORSOrigins: []string{"*"}, JWTSecret: secret, RateLimitPerMin: 1000,
	}, client, logger)
	return s, secret
}

func signToken(t *testing.T, secret []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestHealthzNoAuth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSyncTableRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/table", bytes.NewReader(nil)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSyncTableWithValidToken(t *testing.T) {
	s, secret := newTestServer(t)
	body, _ := json.Marshal(map[string]interface{}{
		"table_yaml": "name: u_dm_host\nis_extendable: true\ncolumns:\n  - name: u_name\n    type: string\n",
		"commit":     false,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/table", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
