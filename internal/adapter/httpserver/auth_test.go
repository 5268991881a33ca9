package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifyToken_Plaintext(t *testing.T) {
	if !VerifyToken("abc", "abc") {
		t.Fatal("exact match rejected")
	}
	if VerifyToken("abc", "abd") {
		t.Fatal("mismatch accepted")
	}
	if VerifyToken("", "") {
		t.Fatal("empty configured secret must never match")
	}
}

func TestVerifyToken_Argon2(t *testing.T) {
	hash, err := HashToken("s3cret", defaultArgon2Params)
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	if !VerifyToken("s3cret", hash) {
		t.Fatal("correct token rejected")
	}
	if VerifyToken("wrong", hash) {
		t.Fatal("wrong token accepted")
	}
	if VerifyToken("s3cret", "argon2id$bad") {
		t.Fatal("malformed hash accepted")
	}
}

func TestAdminGuard(t *testing.T) {
	srv := newTestServer(&stubQueue{}, &stubCache{})
	handler := srv.AdminGuard()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/dlq", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/dlq", nil)
	req.Header.Set("Authorization", "Bearer sekret-admin-token")
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d", rec2.Code)
	}
}
