package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"appraise/internal/idtoken"
	"appraise/internal/ratelimit"
	"appraise/internal/util"
	"appraise/pkg/domain"
	"appraise/pkg/ingest"
	"appraise/pkg/store"
	"appraise/services/portfolio/internal/app"
)

const (
	serviceName          = "portfolio"
	maxJSONBody          = 1 << 20
	provisionTokenHeader = "X-Provision-Token"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Sessions       store.SessionStore
	SessionTTL     time.Duration
	AllowedOrigins []string
	// GenerateLimiter caps generate/refine/feedback calls per client IP; nil disables it.
	GenerateLimiter *ratelimit.FixedWindowLimiter
	TrustedProxies  *util.TrustedProxies
	// IDTokens verifies sign-in provider tokens for POST /api/auth/login; nil disables the route.
	IDTokens *idtoken.Verifier
	DevLogin bool
	// ProvisionToken guards POST /api/sessions; empty disables the route.
	ProvisionToken string
}

// Server exposes HTTP endpoints for the portfolio service.
type Server struct {
	app            *app.App
	sessions       store.SessionStore
	sessionTTL     time.Duration
	allowedOrigins []string
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	idTokens       *idtoken.Verifier
	devLogin       bool
	provisionToken string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		sessions:       cfg.Sessions,
		sessionTTL:     cfg.SessionTTL,
		allowedOrigins: cfg.AllowedOrigins,
		limiter:        cfg.GenerateLimiter,
		trustedProxies: cfg.TrustedProxies,
		idTokens:       cfg.IDTokens,
		devLogin:       cfg.DevLogin,
		provisionToken: strings.TrimSpace(cfg.ProvisionToken),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.Chain(serviceName, s.allowedOrigins, s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/dev-login", s.handleDevLogin)
	s.mux.HandleFunc("/api/sessions", s.handleProvision)
	s.mux.Handle("/api/auth/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/api/auth/logout-all", s.authenticated(s.handleLogoutAll))
	s.mux.Handle("/api/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/settings", s.authenticated(s.handleSettings))
	s.mux.Handle("/api/generate", s.authenticated(s.limited(s.handleGenerate)))
	s.mux.Handle("/api/refine", s.authenticated(s.limited(s.handleRefine)))
	s.mux.Handle("/api/feedback", s.authenticated(s.limited(s.handleFeedback)))
	s.mux.Handle("/api/notes", s.authenticated(s.handleNotes))
	s.mux.Handle("/api/notes/{id}", s.authenticated(s.handleNoteByID))
	s.mux.Handle("/api/notes/{id}/tags", s.authenticated(s.handleNoteTags))
	s.mux.Handle("/api/notes/{id}/tags/{tag}", s.authenticated(s.handleNoteTag))
	s.mux.Handle("/api/folders", s.authenticated(s.handleFolders))
	s.mux.Handle("/api/capabilities", s.authenticated(s.handleCapabilities))
	s.mux.Handle("/api/usage", s.authenticated(s.handleUsage))
	s.mux.Handle("/api/export", s.authenticated(s.handleExport))
	s.mux.Handle("/api/import", s.authenticated(s.handleImport))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, string, string)

// authenticated resolves the bearer token to a user id.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sessions == nil {
			writeError(w, http.StatusInternalServerError, "session store not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, ok, err := s.sessions.GetUserIDByToken(token)
		if err != nil && !errors.Is(err, store.ErrInvalidSession) && !errors.Is(err, store.ErrTokenRevoked) {
			util.LoggerFromContext(r.Context()).Error("session lookup failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		if err != nil || !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", userID))
		next(w, r.WithContext(ctx), token, userID)
	})
}

func (s *Server) limited(next authHandler) authHandler {
	return func(w http.ResponseWriter, r *http.Request, token, userID string) {
		if s.limiter == nil {
			next(w, r, token, userID)
			return
		}
		d := s.limiter.Take(r.Context(), util.ClientIP(r, s.trustedProxies))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r, token, userID)
	}
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expiresIn"`
	User      userProfile `json:"user"`
}

type userProfile struct {
	domain.User
	HasCustomAPIKey bool `json:"hasCustomApiKey"`
}

func profile(u domain.User) userProfile {
	return userProfile{User: u, HasCustomAPIKey: u.HasCustomAPIKey()}
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user domain.User) {
	sess, err := s.app.StartSession(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	token, err := s.sessions.NewSession(sess.User().ID)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("issue session failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     token,
		ExpiresIn: int64(s.sessionTTL.Seconds()),
		User:      profile(sess.User()),
	})
}

type loginRequest struct {
	IDToken string `json:"idToken"`
}

// handleLogin exchanges a sign-in provider ID token for a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.idTokens == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.idTokens.Verify(r.Context(), req.IDToken)
	if err != nil {
		if errors.Is(err, idtoken.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid id token")
			return
		}
		util.LoggerFromContext(r.Context()).Error("id token verification unavailable", "err", err)
		writeError(w, http.StatusBadGateway, "sign-in provider unavailable")
		return
	}
	s.startSession(w, r, domain.User{
		ID:       id.Subject,
		Email:    id.Email,
		Name:     id.Name,
		PhotoURL: id.Picture,
		Provider: id.Provider,
	})
}

func (s *Server) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	if !s.devLogin {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.startSession(w, r, app.DevUser())
}

type provisionRequest struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	PhotoURL    string `json:"photoURL"`
	Provider    string `json:"provider"`
	Plan        string `json:"plan"`
	DefaultMode string `json:"defaultMode"`
}

// handleProvision is called by the auth provider's backend after it has
// verified a login.
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	if s.provisionToken == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	got := strings.TrimSpace(r.Header.Get(provisionTokenHeader))
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.provisionToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req provisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	plan := domain.Plan(strings.TrimSpace(req.Plan))
	switch plan {
	case "", domain.PlanFree, domain.PlanPlus:
	default:
		writeError(w, http.StatusBadRequest, "invalid plan")
		return
	}
	var mode domain.Mode
	if strings.TrimSpace(req.DefaultMode) != "" {
		m, ok := domain.ParseMode(req.DefaultMode)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid defaultMode")
			return
		}
		mode = m
	}
	s.startSession(w, r, domain.User{
		ID:          req.ID,
		Email:       req.Email,
		Name:        req.Name,
		PhotoURL:    req.PhotoURL,
		Provider:    req.Provider,
		Plan:        plan,
		DefaultMode: mode,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, token, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.sessions.DeleteSession(token); err != nil {
		util.LoggerFromContext(r.Context()).Warn("session revoke failed", "err", err)
	}
	s.app.EndSession(userID)
	w.WriteHeader(http.StatusNoContent)
}

// handleLogoutAll revokes every token issued to the user so far.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	revoker, ok := s.sessions.(store.UserSessionRevoker)
	if !ok {
		writeError(w, http.StatusNotImplemented, "session store cannot revoke users")
		return
	}
	if err := revoker.RevokeUserSessions(userID, time.Now()); err != nil {
		util.LoggerFromContext(r.Context()).Error("revoke user sessions failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}
	s.app.EndSession(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sess, err := s.app.Session(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile(sess.User()))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodPatch && r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req app.Settings
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.app.UpdateSettings(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile(user))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.Generate(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.RefineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text, err := s.app.Refine(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type feedbackRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text, err := s.app.SupervisorFeedback(r.Context(), userID, req.Text)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"feedback": text})
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	view, err := s.app.ListNotes(r.Context(), userID, q.Get("q"), q.Get("mode"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleNoteByID(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		note, err := s.app.GetNote(r.Context(), userID, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	case http.MethodPatch, http.MethodPut:
		var req app.NoteUpdate
		if !decodeJSON(w, r, &req) {
			return
		}
		note, err := s.app.UpdateNote(r.Context(), userID, id, req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	case http.MethodDelete:
		if err := s.app.DeleteNote(r.Context(), userID, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (s *Server) handleNoteTags(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req tagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	note, err := s.app.AddTag(r.Context(), userID, r.PathValue("id"), req.Tag)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleNoteTag(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	note, err := s.app.RemoveTag(r.Context(), userID, r.PathValue("id"), r.PathValue("tag"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	folders, err := s.app.FolderView(r.Context(), userID, r.URL.Query().Get("search"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	view, err := s.app.Capabilities(r.Context(), userID, r.URL.Query().Get("mode"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	view, err := s.app.Usage(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	exp, err := s.app.ExportNotes(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, _ string, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxFileBytes+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ingest.ErrFileTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	src, err := s.app.ImportSource(r.Context(), userID, header.Filename, file)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrUnknownUser):
		status = http.StatusUnauthorized
	case errors.Is(err, app.ErrEmptyInput),
		errors.Is(err, app.ErrInvalidMode),
		errors.Is(err, app.ErrInvalidEntryType),
		errors.Is(err, app.ErrInvalidTag):
		status = http.StatusBadRequest
	case errors.Is(err, app.ErrNoteNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrGenerationInProgress):
		status = http.StatusConflict
	case errors.Is(err, app.ErrLimitReached):
		status = http.StatusTooManyRequests
	case errors.Is(err, app.ErrExportDisabled):
		status = http.StatusNotImplemented
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrNoText):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
