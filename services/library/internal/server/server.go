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

	"github.com/abdulaziz-uzb777/library-project/internal/ratelimit"
	"github.com/abdulaziz-uzb777/library-project/internal/security"
	"github.com/abdulaziz-uzb777/library-project/internal/util"
	"github.com/abdulaziz-uzb777/library-project/services/library/internal/app"
)

const (
	accessTokenHeader = "X-Access-Token"
	adminTokenHeader  = "X-Admin-Token"

	maxJSONBytes      = 1 << 20
	multipartMemBytes = 32 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App        *app.App
	PathPrefix string
	// AnonKey, when set, must be sent as "Authorization: Bearer <key>" on
	// every request except CORS preflight.
	AnonKey        string
	TrustedProxies *util.TrustedProxies

	// nil limiters are skipped.
	SignupLimiter   *ratelimit.FixedWindowLimiter
	SigninLimiter   *ratelimit.FixedWindowLimiter
	FeedbackLimiter *ratelimit.FixedWindowLimiter

	// Alerter, when set, counts failed security events and logs a
	// security_alert once a threshold is reached.
	Alerter *security.AuditAlerter
}

// Server exposes the library HTTP API.
type Server struct {
	app             *app.App
	prefix          string
	anonKey         string
	trusted         *util.TrustedProxies
	mux             *http.ServeMux
	signupLimiter   *ratelimit.FixedWindowLimiter
	signinLimiter   *ratelimit.FixedWindowLimiter
	feedbackLimiter *ratelimit.FixedWindowLimiter
	alerter         *security.AuditAlerter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	s := &Server{
		app:             cfg.App,
		prefix:          strings.TrimRight(strings.TrimSpace(cfg.PathPrefix), "/"),
		anonKey:         strings.TrimSpace(cfg.AnonKey),
		trusted:         cfg.TrustedProxies,
		mux:             http.NewServeMux(),
		signupLimiter:   cfg.SignupLimiter,
		signinLimiter:   cfg.SigninLimiter,
		feedbackLimiter: cfg.FeedbackLimiter,
		alerter:         cfg.Alerter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("library", util.WithSecurityHeaders(util.WithCORS(s.withAnonKey(s.mux)))))
}

func (s *Server) routes() {
	handle := func(pattern string, h http.HandlerFunc) {
		method, path, _ := strings.Cut(pattern, " ")
		s.mux.HandleFunc(method+" "+s.prefix+path, h)
	}

	handle("GET /health", s.handleHealth)

	// auth
	handle("POST /auth/signup", s.handleSignup)
	handle("POST /auth/signin", s.handleSignin)
	handle("GET /auth/me", s.withUser(s.handleMe))

	// admin
	handle("POST /admin/login", s.handleAdminLogin)
	handle("POST /admin/logout", s.withAdmin(s.handleAdminLogout))
	handle("GET /admin/users", s.withAdmin(s.handleAdminUsers))
	handle("GET /admin/books", s.withAdmin(s.handleListBooks))
	handle("GET /admin/books/{id}", s.withAdmin(s.handleGetBook))
	handle("POST /admin/books", s.withAdmin(s.handleCreateBook))
	handle("PUT /admin/books/{id}", s.withAdmin(s.handleUpdateBook))
	handle("DELETE /admin/books/{id}", s.withAdmin(s.handleDeleteBook))
	handle("GET /admin/comments", s.withAdmin(s.handleAdminComments))
	handle("DELETE /admin/comments/{id}", s.withAdmin(s.handleDeleteComment))
	handle("GET /admin/feedback", s.withAdmin(s.handleAdminFeedback))
	handle("DELETE /admin/feedback/{id}", s.withAdmin(s.handleDeleteFeedback))

	// books
	handle("GET /books", s.handleListBooks)
	handle("GET /books/ratings/all", s.handleRatingStats)
	handle("GET /books/{id}", s.handleGetBook)
	handle("GET /books/{id}/comments", s.handleListComments)
	handle("POST /books/{id}/comments", s.withUser(s.handleAddComment))
	handle("POST /books/{id}/rate", s.withUser(s.handleRate))
	handle("GET /books/{id}/my-rating", s.withUser(s.handleMyRating))

	// profile lists
	handle("POST /user/favorites", s.withUser(s.handleAddFavorite))
	handle("DELETE /user/favorites/{bookId}", s.withUser(s.handleRemoveFavorite))
	handle("POST /user/recent", s.withUser(s.handleAddRecent))

	handle("POST /feedback", s.handleFeedback)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withAnonKey enforces the shared client key. Preflight requests never
// reach it because WithCORS answers them.
func (s *Server) withAnonKey(next http.Handler) http.Handler {
	if s.anonKey == "" {
		return next
	}
	want := []byte(s.anonKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			s.audit(r, "library.anon_key", "fail")
			writeError(w, http.StatusUnauthorized, "missing or invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// auth wrappers
type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(accessTokenHeader))
		if token == "" {
			s.audit(r, "library.user.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			s.audit(r, "library.user.authorize", "fail", "reason", "invalid_token")
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(adminTokenHeader))
		if token == "" {
			s.audit(r, "library.admin.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := s.app.VerifyAdmin(r.Context(), token); err != nil {
			s.audit(r, "library.admin.authorize", "fail", "reason", "invalid_token")
			s.writeAppError(w, r, err)
			return
		}
		next(w, r)
	}
}

// auth handlers
type signupRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth string `json:"dateOfBirth"`
	Country     string `json:"country"`
	City        string `json:"city"`
	AboutMe     string `json:"aboutMe"`
	Password    string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "library.signup", "rate_limited")
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.SignUp(r.Context(), app.SignUpInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Country:     req.Country,
		City:        req.City,
		AboutMe:     req.AboutMe,
		Password:    req.Password,
	})
	if err != nil {
		s.audit(r, "library.signup", "fail")
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.signup", "success", "user_id", res.Profile.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"login":    res.Login,
		"password": res.Password,
		"message":  "Account created. Keep your login and password to sign in.",
	})
}

type signinRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.signinLimiter, "too many signin attempts") {
		s.audit(r, "library.signin", "rate_limited")
		return
	}
	var req signinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, profile, err := s.app.SignIn(r.Context(), req.Login, req.Password)
	if err != nil {
		s.audit(r, "library.signin", "fail")
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.signin", "success", "user_id", profile.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"accessToken": token,
		"user":        profile,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID string) {
	profile, err := s.app.Me(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": profile})
}

// admin handlers
type adminLoginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := s.app.AdminLogin(r.Context(), req.Password)
	if err != nil {
		s.audit(r, "library.admin.login", "fail")
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.admin.login", "success")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get(adminTokenHeader))
	if err := s.app.AdminLogout(r.Context(), token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.admin.logout", "success")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.app.ListUsers(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	in, pdfFile, cover, cleanup, ok := s.parseBookForm(w, r, "pdfFile")
	if !ok {
		return
	}
	defer cleanup()
	book, err := s.app.CreateBook(r.Context(), in, pdfFile, cover)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.admin.book.create", "success", "book_id", book.ID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "book": book})
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	in, pdfFile, cover, cleanup, ok := s.parseBookForm(w, r, "pdf")
	if !ok {
		return
	}
	defer cleanup()
	book, err := s.app.UpdateBook(r.Context(), r.PathValue("id"), in, pdfFile, cover)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.admin.book.update", "success", "book_id", book.ID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "book": book})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.app.DeleteBook(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.admin.book.delete", "success", "book_id", id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.app.ListAllComments(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteComment(r.Context(), r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminFeedback(w http.ResponseWriter, r *http.Request) {
	feedback, err := s.app.ListFeedback(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": feedback})
}

func (s *Server) handleDeleteFeedback(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteFeedback(r.Context(), r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// book handlers
func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.ListBooks(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": books})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.app.GetBook(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"book": book})
}

func (s *Server) handleRatingStats(w http.ResponseWriter, r *http.Request) {
	ratings, err := s.app.RatingStats(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ratings": ratings})
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.app.ListComments(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

type commentRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request, userID string) {
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	comment, err := s.app.AddComment(r.Context(), userID, r.PathValue("id"), req.Text)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "comment": comment})
}

type rateRequest struct {
	Rating float64 `json:"rating"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request, userID string) {
	var req rateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rating, err := s.app.RateBook(r.Context(), userID, r.PathValue("id"), req.Rating)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rating": rating})
}

func (s *Server) handleMyRating(w http.ResponseWriter, r *http.Request, userID string) {
	rating, err := s.app.MyRating(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*int{"rating": rating})
}

// profile list handlers
type bookRefRequest struct {
	BookID string `json:"bookId"`
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request, userID string) {
	var req bookRefRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	favorites, err := s.app.AddFavorite(r.Context(), userID, req.BookID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "favorites": favorites})
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request, userID string) {
	favorites, err := s.app.RemoveFavorite(r.Context(), userID, r.PathValue("bookId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "favorites": favorites})
}

func (s *Server) handleAddRecent(w http.ResponseWriter, r *http.Request, userID string) {
	var req bookRefRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	recent, err := s.app.AddRecent(r.Context(), userID, req.BookID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "recent": recent})
}

type feedbackRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.feedbackLimiter, "too many feedback messages") {
		s.audit(r, "library.feedback", "rate_limited")
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := s.app.SubmitFeedback(r.Context(), app.FeedbackInput{
		Name:    req.Name,
		Email:   req.Email,
		Message: req.Message,
	}); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// parseBookForm reads the multipart book form. pdfField names the PDF part,
// which differs between create and update. The returned cleanup releases
// temporary files.
func (s *Server) parseBookForm(w http.ResponseWriter, r *http.Request, pdfField string) (app.BookInput, *app.Upload, *app.Upload, func(), bool) {
	noop := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes())
	if err := r.ParseMultipartForm(multipartMemBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return app.BookInput{}, nil, nil, noop, false
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return app.BookInput{}, nil, nil, noop, false
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }
	in := app.BookInput{
		Title:       r.FormValue("title"),
		Author:      r.FormValue("author"),
		Description: r.FormValue("description"),
		Summary:     r.FormValue("summary"),
		Category:    r.FormValue("category"),
	}
	pdfFile, err := formUpload(r, pdfField)
	if err != nil {
		cleanup()
		writeError(w, http.StatusBadRequest, "invalid form data")
		return app.BookInput{}, nil, nil, noop, false
	}
	cover, err := formUpload(r, "coverImage")
	if err != nil {
		cleanup()
		writeError(w, http.StatusBadRequest, "invalid form data")
		return app.BookInput{}, nil, nil, noop, false
	}
	return in, pdfFile, cover, cleanup, true
}

// formUpload returns nil when the part is absent.
func formUpload(r *http.Request, field string) (*app.Upload, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		File:        file,
	}, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeAppError maps application errors to responses. Unexpected errors are
// logged and reported with a generic message.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, app.PublicMessage(err))
	case errors.Is(err, app.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, app.PublicMessage(err))
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid login or password")
	case errors.Is(err, app.ErrInvalidPassword):
		writeError(w, http.StatusUnauthorized, "invalid password")
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, app.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "user profile not found")
	case errors.Is(err, app.ErrCommentNotFound):
		writeError(w, http.StatusNotFound, "comment not found")
	case errors.Is(err, app.ErrFeedbackNotFound):
		writeError(w, http.StatusNotFound, "feedback not found")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForLibrary(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForLibrary(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "missing or invalid api key":
		return "AUTH_INVALID_API_KEY"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "invalid login or password":
		return "AUTH_INVALID_CREDENTIALS"
	case message == "invalid password":
		return "ADMIN_INVALID_PASSWORD"
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "user profile not found":
		return "USER_PROFILE_NOT_FOUND"
	case message == "comment not found":
		return "COMMENT_NOT_FOUND"
	case message == "feedback not found":
		return "FEEDBACK_NOT_FOUND"
	case strings.HasPrefix(message, "rating must be"):
		return "RATING_INVALID_VALUE"
	case strings.HasPrefix(message, "pdf file"):
		return "BOOK_INVALID_PDF"
	case strings.HasPrefix(message, "cover image"):
		return "BOOK_INVALID_COVER"
	case message == "invalid form data":
		return "BOOK_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "SYSTEM_INVALID_JSON"
	case strings.HasPrefix(message, "too many"):
		return "SYSTEM_RATE_LIMITED"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusRequestEntityTooLarge:
		return "BOOK_FILE_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	alert, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alerter unavailable", "event", event, "err", err)
		return
	}
	if alert.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", alert.Count,
			"threshold", alert.Threshold,
			"window_seconds", int(alert.Window.Seconds()),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	allowed, retryAfter := limiter.Allow(r.Context(), util.ClientIP(r, s.trusted))
	if allowed {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter.Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func retryAfterSeconds(secs float64) int {
	return max(1, int(math.Ceil(secs)))
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
