package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/emitra/internal/auth"
	"github.com/MarkoPoloResearchLab/emitra/internal/model"
	"github.com/MarkoPoloResearchLab/emitra/internal/storage"
)

const (
	contextKeySession         = "httpapi_session"
	authErrorUnauthorized     = "unauthorized"
	authErrorNotAdmin         = "not_admin"
	authErrorInvalidSecret    = "invalid_secret"
	authErrorAlreadyElevated  = "already_elevated"
	authErrorAdminDisabled    = "admin_disabled"
	authErrorInvalidPrincipal = "invalid_principal"
	headerAuthorization       = "Authorization"
	bearerPrefix              = "Bearer "
	anonymousPrincipalPrefix  = "anon:"

	logEventVerifyToken = "verify_token"
	logEventIssueToken  = "issue_token"
	logEventGrantAdmin  = "grant_admin"
	logEventLoadGrant   = "load_admin_grant"
	logEventElevated    = "admin_elevated"
	logFieldPrincipal   = "principal"
)

// TokenService issues bearer tokens and resolves them to sessions.
type TokenService interface {
	Issue(principal string) (string, error)
	Verify(token string) (auth.Session, error)
}

// AdminGrants records which sessions completed elevation.
type AdminGrants interface {
	GrantAdmin(ctx context.Context, grant model.AdminGrant) error
	IsAdmin(ctx context.Context, sessionID string) (bool, error)
}

// AuthManager guards the store API with bearer tokens and admin grants.
type AuthManager struct {
	logger      *zap.Logger
	tokens      TokenService
	grants      AdminGrants
	adminSecret string
}

func NewAuthManager(logger *zap.Logger, tokens TokenService, grants AdminGrants, adminSecret string) *AuthManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthManager{
		logger:      logger,
		tokens:      tokens,
		grants:      grants,
		adminSecret: strings.TrimSpace(adminSecret),
	}
}

// RequireSessionJSON rejects requests without a valid bearer token.
func (authManager *AuthManager) RequireSessionJSON() gin.HandlerFunc {
	return func(context *gin.Context) {
		if _, ok := authManager.ensureSession(context); !ok {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
			return
		}
		context.Next()
	}
}

// RequireAdminJSON additionally requires the token's own session to hold a grant.
// Another session for the same principal does not count.
func (authManager *AuthManager) RequireAdminJSON() gin.HandlerFunc {
	return func(context *gin.Context) {
		session, ok := authManager.ensureSession(context)
		if !ok {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
			return
		}
		isAdmin, grantErr := authManager.grants.IsAdmin(context.Request.Context(), session.ID)
		if grantErr != nil {
			authManager.logger.Warn(logEventLoadGrant, zap.Error(grantErr))
			context.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueQueryFailed})
			return
		}
		if !isAdmin {
			context.AbortWithStatusJSON(http.StatusForbidden, gin.H{jsonKeyError: authErrorNotAdmin})
			return
		}
		context.Next()
	}
}

// SessionFromContext returns the session stored by the session middleware.
func SessionFromContext(context *gin.Context) (auth.Session, bool) {
	value, exists := context.Get(contextKeySession)
	if !exists {
		return auth.Session{}, false
	}
	session, ok := value.(auth.Session)
	return session, ok && session.ID != ""
}

// PrincipalFromContext returns the principal of the stored session.
func PrincipalFromContext(context *gin.Context) (string, bool) {
	session, ok := SessionFromContext(context)
	return session.Principal, ok
}

func (authManager *AuthManager) ensureSession(context *gin.Context) (auth.Session, bool) {
	if session, exists := SessionFromContext(context); exists {
		return session, true
	}
	authorizationHeader := strings.TrimSpace(context.GetHeader(headerAuthorization))
	if !strings.HasPrefix(authorizationHeader, bearerPrefix) {
		return auth.Session{}, false
	}
	session, verifyErr := authManager.tokens.Verify(strings.TrimPrefix(authorizationHeader, bearerPrefix))
	if verifyErr != nil {
		authManager.logger.Debug(logEventVerifyToken, zap.Error(verifyErr))
		return auth.Session{}, false
	}
	context.Set(contextKeySession, session)
	return session, true
}

type connectRequest struct {
	Principal string `json:"principal"`
}

type elevateRequest struct {
	Secret string `json:"secret"`
}

// Connect opens an unprivileged session. An empty principal gets an anonymous one.
func (authManager *AuthManager) Connect(context *gin.Context) {
	var payload connectRequest
	if context.Request.ContentLength != 0 {
		if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
			return
		}
	}
	principal := strings.TrimSpace(payload.Principal)
	if principal == "" {
		principal = anonymousPrincipalPrefix + storage.NewID()
	}
	if _, validationErr := model.ValidatePrincipal(principal); validationErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: authErrorInvalidPrincipal})
		return
	}
	token, issueErr := authManager.tokens.Issue(principal)
	if issueErr != nil {
		authManager.logger.Error(logEventIssueToken, zap.Error(issueErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}
	context.JSON(http.StatusOK, gin.H{"principal": principal, "token": token})
}

// Elevate grants admin rights to the caller's session when the secret matches.
// The grant lives no longer than the token that earned it.
func (authManager *AuthManager) Elevate(context *gin.Context) {
	session, ok := SessionFromContext(context)
	if !ok {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}
	if authManager.adminSecret == "" {
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: authErrorAdminDisabled})
		return
	}
	var payload elevateRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(payload.Secret)), []byte(authManager.adminSecret)) != 1 {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorInvalidSecret})
		return
	}
	grant, grantErr := model.NewAdminGrant(session.ID, session.Principal, session.ExpiresAt)
	if grantErr == nil {
		grantErr = authManager.grants.GrantAdmin(context.Request.Context(), grant)
	}
	switch {
	case errors.Is(grantErr, storage.ErrAdminGrantExists):
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: authErrorAlreadyElevated})
		return
	case grantErr != nil:
		authManager.logger.Warn(logEventGrantAdmin, zap.Error(grantErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}
	authManager.logger.Info(logEventElevated, zap.String(logFieldPrincipal, session.Principal))
	context.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports whether the caller's session holds admin rights.
func (authManager *AuthManager) Status(context *gin.Context) {
	session, ok := SessionFromContext(context)
	if !ok {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}
	isAdmin, grantErr := authManager.grants.IsAdmin(context.Request.Context(), session.ID)
	if grantErr != nil {
		authManager.logger.Warn(logEventLoadGrant, zap.Error(grantErr))
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	context.JSON(http.StatusOK, gin.H{"principal": session.Principal, "is_admin": isAdmin})
}
