package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"devflow/api/internal/auth"
)

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v (body=%s)", err, rr.Body.String())
	}
	return payload
}

func envelopeData(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	payload := decodeEnvelope(t, rr)
	if payload["success"] != true {
		t.Fatalf("expected success envelope, got %s", rr.Body.String())
	}
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %s", rr.Body.String())
	}
	return data
}

func envelopeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	payload := decodeEnvelope(t, rr)
	if payload["success"] != false {
		t.Fatalf("expected failure envelope, got %s", rr.Body.String())
	}
	errBody, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %s", rr.Body.String())
	}
	return errBody
}

func signUpViaHTTP(t *testing.T, server *HTTPServer, email string) (token, refresh string) {
	t.Helper()
	body := fmt.Sprintf(`{"name":"Ada Lovelace","username":"ada","email":%q,"password":"s3cret-pass"}`, email)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status = %d body=%s", rr.Code, rr.Body.String())
	}
	data := envelopeData(t, rr)
	return data["token"].(string), data["refreshToken"].(string)
}

func TestSignUpAndSignInOverHTTP(t *testing.T) {
	ms := newMemStore()
	server := NewHTTPServer(newTestService(ms), "*")

	token, refresh := signUpViaHTTP(t, server, "ada@example.com")
	if token == "" || refresh == "" {
		t.Fatal("signup returned empty tokens")
	}

	// Duplicate email is rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		bytes.NewBufferString(`{"name":"Other","username":"other","email":"ada@example.com","password":"s3cret-pass"}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want 409", rr.Code)
	}

	// Sign in with the right password.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/signin",
		bytes.NewBufferString(`{"email":"ada@example.com","password":"s3cret-pass"}`))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("signin status = %d body=%s", rr.Code, rr.Body.String())
	}
	if data := envelopeData(t, rr); data["username"] != "ada" {
		t.Errorf("signin username = %v", data["username"])
	}

	// Wrong password.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/signin",
		bytes.NewBufferString(`{"email":"ada@example.com","password":"wrong-pass"}`))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", rr.Code)
	}
}

func TestSignUpValidationDetails(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		bytes.NewBufferString(`{"name":"","username":"a","email":"not-an-email","password":"x"}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	errBody := envelopeError(t, rr)
	details, ok := errBody["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected field details, got %v", errBody)
	}
	for _, field := range []string{"name", "username", "email", "password"} {
		if _, present := details[field]; !present {
			t.Errorf("details missing %s: %v", field, details)
		}
	}
}

func TestQuestionLifecycleOverHTTP(t *testing.T) {
	ms := newMemStore()
	server := NewHTTPServer(newTestService(ms), "*")
	token, _ := signUpViaHTTP(t, server, "ada@example.com")

	// Create.
	req := httptest.NewRequest(http.MethodPost, "/api/questions",
		bytes.NewBufferString(`{"title":"How do I profile allocations in Go?","content":"pprof shows odd numbers.","tags":["go","pprof"]}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rr.Code, rr.Body.String())
	}
	created := envelopeData(t, rr)
	questionID := created["id"].(string)
	if got := len(created["tags"].([]any)); got != 2 {
		t.Errorf("created tags = %d, want 2", got)
	}

	// Read it back anonymously.
	req = httptest.NewRequest(http.MethodGet, "/api/questions/"+questionID, nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d body=%s", rr.Code, rr.Body.String())
	}
	fetched := envelopeData(t, rr)
	if fetched["title"] != "How do I profile allocations in Go?" {
		t.Errorf("title = %v", fetched["title"])
	}

	// Edit with a reshaped tag set.
	req = httptest.NewRequest(http.MethodPut, "/api/questions/"+questionID,
		bytes.NewBufferString(`{"title":"How do I profile heap allocations in Go?","content":"pprof shows odd numbers.","tags":["go","pprof","memory"]}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("edit status = %d body=%s", rr.Code, rr.Body.String())
	}
	edited := envelopeData(t, rr)
	if got := len(edited["tags"].([]any)); got != 3 {
		t.Errorf("edited tags = %d, want 3", got)
	}

	// Views.
	req = httptest.NewRequest(http.MethodPost, "/api/questions/"+questionID+"/views", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("views status = %d body=%s", rr.Code, rr.Body.String())
	}
	if data := envelopeData(t, rr); data["views"] != float64(1) {
		t.Errorf("views = %v, want 1", data["views"])
	}

	// Listing.
	req = httptest.NewRequest(http.MethodGet, "/api/questions?page=1&pageSize=10", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d body=%s", rr.Code, rr.Body.String())
	}
	listing := envelopeData(t, rr)
	if got := len(listing["questions"].([]any)); got != 1 {
		t.Errorf("listing size = %d, want 1", got)
	}
	if listing["isNext"] != false {
		t.Error("isNext = true, want false")
	}
}

func TestCreateQuestionRequiresBearerOverHTTP(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")

	req := httptest.NewRequest(http.MethodPost, "/api/questions",
		bytes.NewBufferString(`{"title":"A question without a session token","content":"body","tags":["go"]}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if errBody := envelopeError(t, rr); errBody["message"] != "You must be logged in" {
		t.Errorf("message = %v", errBody["message"])
	}
}

func TestExpiredBearerRejectedOverHTTP(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	server := NewHTTPServer(svc, "*")

	token, err := auth.IssueToken([]byte(svc.cfg.JWTSecret), auth.Claims{
		Sub:  "usr_1",
		Name: "Ada",
		JTI:  "jti_expired",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/questions",
		bytes.NewBufferString(`{"title":"A question with an expired token","content":"body","tags":["go"]}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestEditByNonAuthorReturnsForbiddenOverHTTP(t *testing.T) {
	ms := newMemStore()
	server := NewHTTPServer(newTestService(ms), "*")
	authorToken, _ := signUpViaHTTP(t, server, "author@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/questions",
		bytes.NewBufferString(`{"title":"A question owned by its author","content":"body","tags":["go"]}`))
	req.Header.Set("Authorization", "Bearer "+authorToken)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	questionID := envelopeData(t, rr)["id"].(string)

	intruderReq := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		bytes.NewBufferString(`{"name":"Grace","username":"grace","email":"grace@example.com","password":"s3cret-pass"}`))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, intruderReq)
	intruderToken := envelopeData(t, rr)["token"].(string)

	req = httptest.NewRequest(http.MethodPut, "/api/questions/"+questionID,
		bytes.NewBufferString(`{"title":"Hijacked title that is long enough","content":"body","tags":["go"]}`))
	req.Header.Set("Authorization", "Bearer "+intruderToken)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestSessionRefreshAndLogoutOverHTTP(t *testing.T) {
	ms := newMemStore()
	server := NewHTTPServer(newTestService(ms), "*")
	_, refresh := signUpViaHTTP(t, server, "ada@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/session/refresh",
		bytes.NewBufferString(fmt.Sprintf(`{"refreshToken":%q}`, refresh)))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body=%s", rr.Code, rr.Body.String())
	}
	data := envelopeData(t, rr)
	newRefresh := data["refreshToken"].(string)
	if newRefresh == refresh {
		t.Error("refresh token not rotated")
	}

	// Old token is dead after rotation.
	req = httptest.NewRequest(http.MethodPost, "/api/session/refresh",
		bytes.NewBufferString(fmt.Sprintf(`{"refreshToken":%q}`, refresh)))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/session/logout",
		bytes.NewBufferString(fmt.Sprintf(`{"refreshToken":%q}`, newRefresh)))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/session/refresh",
		bytes.NewBufferString(fmt.Sprintf(`{"refreshToken":%q}`, newRefresh)))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("post-logout refresh status = %d, want 401", rr.Code)
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore()), "*")
	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if errBody := envelopeError(t, rr); errBody["message"] != "Not found" {
		t.Errorf("message = %v", errBody["message"])
	}
}
