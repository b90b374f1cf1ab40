package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"devflow/api/internal/apperr"
	"devflow/api/internal/auth"
	"devflow/api/internal/authpw"
	"devflow/api/internal/gate"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeSuccess(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeFailure(w, http.StatusServiceUnavailable, "Database unavailable", nil)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/oauth" {
		s.handleOAuth(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeSuccess(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeSuccess(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"name":          session.UserName,
			"username":      session.Username,
			"image":         session.Image,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, "Refresh token invalid", nil)
			return
		}
		writeSuccess(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeSuccess(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.URL.Path == "/api/questions" {
		switch r.Method {
		case http.MethodGet:
			s.handleListQuestions(w, r)
			return
		case http.MethodPost:
			s.handleCreateQuestion(w, r)
			return
		}
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "questions" {
		questionID := parts[2]
		switch {
		case len(parts) == 3 && r.Method == http.MethodGet:
			s.handleGetQuestion(w, r, questionID)
			return
		case len(parts) == 3 && r.Method == http.MethodPut:
			s.handleEditQuestion(w, r, questionID)
			return
		case len(parts) == 4 && parts[3] == "views" && r.Method == http.MethodPost:
			payload, err := s.service.IncrementViews(r.Context(), questionID)
			if err != nil {
				status, message, details := mapError(err)
				writeFailure(w, status, message, details)
				return
			}
			writeSuccess(w, http.StatusOK, payload)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tags" {
		payload, err := s.service.ListTags(r.Context(), paginationParams(r))
		if err != nil {
			status, message, details := mapError(err)
			writeFailure(w, status, message, details)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "tags" && r.Method == http.MethodGet {
		payload, err := s.service.GetTag(r.Context(), parts[2])
		if err != nil {
			status, message, details := mapError(err)
			writeFailure(w, status, message, details)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		payload, err := s.service.GlobalSearch(r.Context(), query.Get("query"), query.Get("type"), limit, offset)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		writeSuccess(w, http.StatusOK, payload)
		return
	}

	writeFailure(w, http.StatusNotFound, "Not found", nil)
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var params gate.SignUpParams
	if err := decodeBody(r, &params); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	session, err := s.service.SignUp(r.Context(), params)
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeSuccess(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var params gate.SignInParams
	if err := decodeBody(r, &params); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), params)
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeSuccess(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleOAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider          string `json:"provider"`
		ProviderAccountID string `json:"providerAccountId"`
		Name              string `json:"name"`
		Username          string `json:"username"`
		Email             string `json:"email"`
		Image             string `json:"image"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Provider) == "" || strings.TrimSpace(body.Email) == "" {
		writeFailure(w, http.StatusBadRequest, "Provider and email are required", nil)
		return
	}
	session, err := s.service.SignInOAuth(r.Context(), authpw.OAuthRequest{
		Provider:          body.Provider,
		ProviderAccountID: body.ProviderAccountID,
		Name:              body.Name,
		Username:          body.Username,
		Email:             body.Email,
		Image:             body.Image,
	})
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeSuccess(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var params gate.AskQuestionParams
	if err := decodeBody(r, &params); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	payload, err := s.service.CreateQuestion(r.Context(), session, params)
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeSuccess(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleEditQuestion(w http.ResponseWriter, r *http.Request, questionID string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var params gate.EditQuestionParams
	if err := decodeBody(r, &params); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	params.QuestionID = questionID
	payload, err := s.service.EditQuestion(r.Context(), session, params)
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeSuccess(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleGetQuestion(w http.ResponseWriter, r *http.Request, questionID string) {
	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	payload, err := s.service.GetQuestion(r.Context(), session, gate.GetQuestionParams{QuestionID: questionID})
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeSuccess(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	payload, err := s.service.ListQuestions(r.Context(), session, paginationParams(r))
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeSuccess(w, http.StatusOK, payload)
}

func paginationParams(r *http.Request) gate.PaginatedSearchParams {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("pageSize"))
	return gate.PaginatedSearchParams{
		Page:     page,
		PageSize: pageSize,
		Query:    query.Get("query"),
		Filter:   query.Get("filter"),
		Sort:     query.Get("sort"),
	}
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"name":         session.UserName,
		"username":     session.Username,
		"image":        session.Image,
		"expiresAt":    session.ExpiresAt,
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeFailure(w, http.StatusUnauthorized, "You must be logged in", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeFailure(w, http.StatusUnauthorized, "You must be logged in", nil)
			return Session{}, false
		}
		writeFailure(w, http.StatusInternalServerError, "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeSuccess and writeFailure implement the response envelope every
// endpoint shares: {"success":true,"data":...} on the happy path,
// {"success":false,"error":{...}} otherwise.
func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{
		"success": true,
		"data":    data,
	})
}

func writeFailure(w http.ResponseWriter, status int, message string, details map[string][]string) {
	errBody := map[string]any{"message": message}
	if len(details) > 0 {
		errBody["details"] = details
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   errBody,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, message string, details map[string][]string) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.KindValidation:
			return http.StatusBadRequest, appErr.Message, appErr.Fields
		case apperr.KindUnauthorized:
			return http.StatusUnauthorized, appErr.Message, nil
		case apperr.KindForbidden:
			return http.StatusForbidden, appErr.Message, nil
		case apperr.KindNotFound:
			return http.StatusNotFound, appErr.Message, nil
		default:
			return http.StatusInternalServerError, "Server error", nil
		}
	}
	if errors.Is(err, authpw.ErrEmailTaken) || errors.Is(err, authpw.ErrUsernameTaken) {
		return http.StatusConflict, err.Error(), nil
	}
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return http.StatusUnauthorized, err.Error(), nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, "Server error", nil
}
