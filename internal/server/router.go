package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/Impulsible/book-collection-api/internal/auth"
	"github.com/Impulsible/book-collection-api/internal/catalog"
	"github.com/Impulsible/book-collection-api/internal/identity"
	"github.com/Impulsible/book-collection-api/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	currentUserContextKey = "bookapi_current_user"
	stateCookieName       = "bookapi_oauth_state"
	stateCookieTTL        = 5 * time.Minute
	bypassTokenHeader     = "X-Test-Token"
	bypassTokenQuery      = "test_token"
	loginPath             = "/auth/google"
)

var (
	errMissingProvider = errors.New("credential provider dependency required")
	errMissingResolver = errors.New("identity resolver dependency required")
	errMissingCodec    = errors.New("session codec dependency required")
	errMissingSessions = errors.New("session store dependency required")
	errMissingCatalog  = errors.New("catalog service dependency required")
)

// bypassUser is the fixed synthetic identity for the test-token channel. It
// is never persisted and never linkable by email.
var bypassUser = session.CurrentUser{
	ID:          "system-test",
	DisplayName: "System Test",
	Email:       "system-test@localhost",
}

// CredentialProvider performs the provider handshake and produces a
// normalized assertion.
type CredentialProvider interface {
	Enabled() bool
	BeginLogin(ctx context.Context, state string) (string, error)
	CompleteLogin(ctx context.Context, params auth.CallbackParams) (identity.Assertion, error)
}

// IdentityResolver maps a verified assertion onto a local account.
type IdentityResolver interface {
	Resolve(ctx context.Context, assertion identity.Assertion) (identity.Identity, error)
}

// SessionCodec converts between identities and session payloads.
type SessionCodec interface {
	Encode(record identity.Identity) session.Payload
	Decode(ctx context.Context, payload session.Payload) (session.CurrentUser, error)
}

// StateIssuer signs and verifies the OAuth state parameter.
type StateIssuer interface {
	Issue() (string, error)
	Verify(state string) error
}

// Options carries router-level settings resolved from configuration.
type Options struct {
	CookieName      string
	SessionTTL      time.Duration
	SecureCookies   bool
	TestToken       string
	SuccessRedirect string
	FailureRedirect string
}

// Dependencies bundles everything the HTTP handler needs.
type Dependencies struct {
	Provider CredentialProvider
	Resolver IdentityResolver
	Codec    SessionCodec
	Sessions session.Store
	States   StateIssuer
	Catalog  *catalog.Service
	Logger   *zap.Logger
	Options  Options
}

// errorResponse is the stable failure shape for every error the API emits.
type errorResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	LoginURL string `json:"loginUrl,omitempty"`
}

// NewHTTPHandler builds the gin router with auth and catalog routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Provider == nil {
		return nil, errMissingProvider
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Codec == nil {
		return nil, errMissingCodec
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalog
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := deps.Options
	if opts.CookieName == "" {
		opts.CookieName = "book_session"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.SuccessRedirect == "" {
		opts.SuccessRedirect = "/"
	}
	if opts.FailureRedirect == "" {
		opts.FailureRedirect = "/auth/failure"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", bypassTokenHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		provider: deps.Provider,
		resolver: deps.Resolver,
		codec:    deps.Codec,
		sessions: deps.Sessions,
		states:   deps.States,
		catalog:  deps.Catalog,
		logger:   logger,
		opts:     opts,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/auth/google", handler.handleBeginLogin)
	router.GET("/auth/google/callback", handler.handleLoginCallback)
	router.GET("/auth/logout", handler.handleLogout)
	router.GET("/auth/status", handler.handleAuthStatus)
	router.GET("/auth/failure", handler.handleLoginFailure)

	router.GET("/books", handler.handleListBooks)
	router.GET("/books/:id", handler.handleGetBook)

	protected := router.Group("/")
	protected.Use(handler.requireAuth)
	protected.POST("/books", handler.handleCreateBook)
	protected.PUT("/books/:id", handler.handleUpdateBook)
	protected.DELETE("/books/:id", handler.handleDeleteBook)

	return router, nil
}

type httpHandler struct {
	provider CredentialProvider
	resolver IdentityResolver
	codec    SessionCodec
	sessions session.Store
	states   StateIssuer
	catalog  *catalog.Service
	logger   *zap.Logger
	opts     Options
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireAuth resolves the caller's identity from either a live session or
// the static bypass token. It performs no writes; failure short-circuits
// with a structured 401 carrying the login URL.
func (h *httpHandler) requireAuth(c *gin.Context) {
	user, status, err := h.authenticate(c)
	if err != nil {
		if status == http.StatusServiceUnavailable {
			h.logger.Error("session decode failed", zap.Error(err))
			c.AbortWithStatusJSON(status, errorResponse{Message: "authentication temporarily unavailable"})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
			Message:  "authentication required",
			LoginURL: loginPath,
		})
		return
	}
	c.Set(currentUserContextKey, user)
	c.Next()
}

// authenticate implements the per-request state machine: bypass token, then
// session, otherwise unauthenticated.
func (h *httpHandler) authenticate(c *gin.Context) (session.CurrentUser, int, error) {
	if h.bypassTokenMatches(c) {
		return bypassUser, http.StatusOK, nil
	}

	cookie, err := c.Request.Cookie(h.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return session.CurrentUser{}, http.StatusUnauthorized, errors.New("no session")
	}
	payload, err := h.sessions.Get(c.Request.Context(), cookie.Value)
	if errors.Is(err, session.ErrNoSession) {
		return session.CurrentUser{}, http.StatusUnauthorized, err
	}
	if err != nil {
		return session.CurrentUser{}, http.StatusServiceUnavailable, err
	}
	user, err := h.codec.Decode(c.Request.Context(), payload)
	if errors.Is(err, session.ErrStale) {
		// Stale pointer at a deleted account is ordinary unauthenticated
		// traffic, not a fault.
		return session.CurrentUser{}, http.StatusUnauthorized, err
	}
	if err != nil {
		return session.CurrentUser{}, http.StatusServiceUnavailable, err
	}
	return user, http.StatusOK, nil
}

// bypassTokenMatches checks the static test token in constant time. The
// channel is disabled entirely unless a token is configured.
func (h *httpHandler) bypassTokenMatches(c *gin.Context) bool {
	configured := h.opts.TestToken
	if configured == "" {
		return false
	}
	presented := c.GetHeader(bypassTokenHeader)
	if presented == "" {
		presented = c.Query(bypassTokenQuery)
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

func currentUser(c *gin.Context) (session.CurrentUser, bool) {
	value, exists := c.Get(currentUserContextKey)
	if !exists {
		return session.CurrentUser{}, false
	}
	user, ok := value.(session.CurrentUser)
	return user, ok
}

func (h *httpHandler) handleBeginLogin(c *gin.Context) {
	if !h.provider.Enabled() {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "login is not configured"})
		return
	}

	state, err := h.states.Issue()
	if err != nil {
		h.logger.Error("failed to issue oauth state", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "login is not configured"})
		return
	}

	target, err := h.provider.BeginLogin(c.Request.Context(), state)
	if err != nil {
		h.logger.Error("failed to begin login", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "identity provider unavailable"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, target)
}

func (h *httpHandler) handleLoginCallback(c *gin.Context) {
	defer h.clearStateCookie(c)

	if !h.validStateEcho(c) {
		h.redirectFailure(c, "invalid_state")
		return
	}

	params := auth.CallbackParams{
		Code:             c.Query("code"),
		ErrorCode:        c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	}
	assertion, err := h.provider.CompleteLogin(c.Request.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrProviderUnavailable):
			h.logger.Error("provider unavailable during callback", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "identity provider unavailable"})
		default:
			h.logger.Warn("login assertion rejected", zap.Error(err))
			h.redirectFailure(c, "login_failed")
		}
		return
	}

	record, err := h.resolver.Resolve(c.Request.Context(), assertion)
	if err != nil {
		if errors.Is(err, identity.ErrConflictingLink) {
			h.logger.Error("conflicting identity link", zap.Error(err))
			c.JSON(http.StatusConflict, errorResponse{Message: "account is linked to a different login"})
			return
		}
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "account storage unavailable"})
		return
	}

	sessionID, err := session.GenerateID()
	if err != nil {
		h.logger.Error("failed to generate session id", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "session unavailable"})
		return
	}
	payload := h.codec.Encode(record)
	if err := h.sessions.Set(c.Request.Context(), sessionID, payload, h.opts.SessionTTL); err != nil {
		h.logger.Error("failed to persist session", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "session unavailable"})
		return
	}

	session.SetCookie(c.Writer, sessionID, h.opts.SessionTTL, session.CookieOptions{
		Name:   h.opts.CookieName,
		Secure: h.opts.SecureCookies,
	})
	h.logger.Info("login completed", zap.String("identity_id", record.ID))
	c.Redirect(http.StatusFound, h.opts.SuccessRedirect)
}

// validStateEcho requires the provider-echoed state to match the cookie we
// set at begin-login and to verify as a token we signed.
func (h *httpHandler) validStateEcho(c *gin.Context) bool {
	echoed := c.Query("state")
	if echoed == "" {
		return false
	}
	cookie, err := c.Request.Cookie(stateCookieName)
	if err != nil || cookie.Value != echoed {
		return false
	}
	if err := h.states.Verify(echoed); err != nil {
		h.logger.Warn("oauth state verification failed", zap.Error(err))
		return false
	}
	return true
}

func (h *httpHandler) clearStateCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *httpHandler) redirectFailure(c *gin.Context, reason string) {
	c.Redirect(http.StatusFound, h.opts.FailureRedirect+"?reason="+url.QueryEscape(reason))
}

func (h *httpHandler) handleLoginFailure(c *gin.Context) {
	reason := c.Query("reason")
	if reason == "" {
		reason = "login_failed"
	}
	c.JSON(http.StatusUnauthorized, errorResponse{
		Message:  reason,
		LoginURL: loginPath,
	})
}

// handleLogout destroys the current session. It is idempotent: no active
// session is a successful no-op.
func (h *httpHandler) handleLogout(c *gin.Context) {
	cookie, err := c.Request.Cookie(h.opts.CookieName)
	if err == nil && cookie.Value != "" {
		if err := h.sessions.Destroy(c.Request.Context(), cookie.Value); err != nil {
			h.logger.Warn("session destroy failed", zap.Error(err))
		}
	}
	session.ClearCookie(c.Writer, session.CookieOptions{
		Name:   h.opts.CookieName,
		Secure: h.opts.SecureCookies,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logged out"})
}

func (h *httpHandler) handleAuthStatus(c *gin.Context) {
	user, _, err := h.authenticate(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false, "user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": user})
}

func (h *httpHandler) handleListBooks(c *gin.Context) {
	books, err := h.catalog.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list books", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "catalog unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": books})
}

func (h *httpHandler) handleGetBook(c *gin.Context) {
	book, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondBookError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": book})
}

func (h *httpHandler) handleCreateBook(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Message: "authentication required", LoginURL: loginPath})
		return
	}
	var input catalog.BookInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	book, err := h.catalog.Create(c.Request.Context(), input, user.ID)
	if err != nil {
		h.respondBookError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": book})
}

func (h *httpHandler) handleUpdateBook(c *gin.Context) {
	var input catalog.BookInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	book, err := h.catalog.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.respondBookError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": book})
}

func (h *httpHandler) handleDeleteBook(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondBookError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) respondBookError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, catalog.ErrBookNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Message: "book not found"})
	case errors.Is(err, catalog.ErrInvalidBook):
		c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
	default:
		h.logger.Error("catalog operation failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "catalog unavailable"})
	}
}
