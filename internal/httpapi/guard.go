package httpapi

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/emitra/internal/session"
)

// RouteDecision is the guard's verdict for a request path.
type RouteDecision string

const (
	RouteDecisionPublic       RouteDecision = "public"
	RouteDecisionAdmin        RouteDecision = "admin"
	RouteDecisionRedirectRoot RouteDecision = "redirect_root"

	RootPath        = "/"
	AdminPath       = "/admin"
	adminPathPrefix = AdminPath + "/"

	webSessionName          = "emitra_admin"
	webSessionKeyPending    = "pending_admin_path"
	webSessionMaxAgeSeconds = 12 * 60 * 60
	contextKeySessionValues = "httpapi_session_values"

	logEventLoadSession = "load_session"
	logEventSaveSession = "save_session"
)

// ResolveRoute decides how a path is served. Admin paths need a logged-in
// session; everything else is public.
func ResolveRoute(requestPath string, loggedIn bool) RouteDecision {
	if !isAdminPath(requestPath) {
		return RouteDecisionPublic
	}
	if loggedIn {
		return RouteDecisionAdmin
	}
	return RouteDecisionRedirectRoot
}

func isAdminPath(requestPath string) bool {
	cleaned := path.Clean("/" + strings.TrimSpace(requestPath))
	return cleaned == AdminPath || strings.HasPrefix(cleaned, adminPathPrefix)
}

// CookieSessions stores the admin session in a signed cookie.
type CookieSessions struct {
	store  sessions.Store
	secure bool
	logger *zap.Logger
}

// NewCookieSessions signs cookies with secret. Secure limits the cookie to HTTPS.
func NewCookieSessions(secret string, secure bool, logger *zap.Logger) *CookieSessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	cookieStore := sessions.NewCookieStore([]byte(secret))
	cookieStore.Options = &sessions.Options{
		Path:     RootPath,
		MaxAge:   webSessionMaxAgeSeconds,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &CookieSessions{store: cookieStore, secure: secure, logger: logger}
}

// Values returns the request's session, reusing the one the guard already loaded.
func (cookieSessions *CookieSessions) Values(context *gin.Context) *CookieSessionValues {
	if existing, found := context.Get(contextKeySessionValues); found {
		if values, ok := existing.(*CookieSessionValues); ok {
			return values
		}
	}
	sessionInstance, sessionErr := cookieSessions.store.Get(context.Request, webSessionName)
	if sessionErr != nil {
		// A cookie signed with an old key decodes to a fresh session.
		cookieSessions.logger.Debug(logEventLoadSession, zap.Error(sessionErr))
	}
	values := &CookieSessionValues{
		session: sessionInstance,
		request: context.Request,
		writer:  context.Writer,
		logger:  cookieSessions.logger,
	}
	context.Set(contextKeySessionValues, values)
	return values
}

// CookieSessionValues adapts a cookie session to session.KeyValues.
// Every batch is saved immediately, so it must run before the response body is written.
type CookieSessionValues struct {
	session *sessions.Session
	request *http.Request
	writer  http.ResponseWriter
	logger  *zap.Logger
}

func (values *CookieSessionValues) Read(key string) (string, bool) {
	raw, found := values.session.Values[key]
	if !found {
		return "", false
	}
	text, ok := raw.(string)
	return text, ok
}

func (values *CookieSessionValues) WriteBatch(entries ...session.Entry) {
	for _, entry := range entries {
		values.session.Values[entry.Key] = entry.Value
	}
	values.save()
}

func (values *CookieSessionValues) ClearBatch(keys ...string) {
	for _, key := range keys {
		delete(values.session.Values, key)
	}
	values.save()
}

// RememberPendingPath stores the admin deep link to replay after login.
func (values *CookieSessionValues) RememberPendingPath(requestURI string) {
	values.session.Values[webSessionKeyPending] = requestURI
	values.save()
}

// TakePendingPath returns and forgets the stored deep link, defaulting to the admin page.
// Only admin paths are replayed.
func (values *CookieSessionValues) TakePendingPath() string {
	pending, _ := values.Read(webSessionKeyPending)
	if _, found := values.session.Values[webSessionKeyPending]; found {
		delete(values.session.Values, webSessionKeyPending)
		values.save()
	}
	if !strings.HasPrefix(pending, RootPath) || strings.HasPrefix(pending, "//") || !isAdminPath(strings.SplitN(pending, "?", 2)[0]) {
		return AdminPath
	}
	return pending
}

func (values *CookieSessionValues) save() {
	if saveErr := values.session.Save(values.request, values.writer); saveErr != nil {
		values.logger.Warn(logEventSaveSession, zap.Error(saveErr))
	}
}

// Guard redirects unauthenticated admin requests to the root page before any
// admin handler runs, remembering the requested path.
type Guard struct {
	sessions *CookieSessions
}

func NewGuard(cookieSessions *CookieSessions) *Guard {
	return &Guard{sessions: cookieSessions}
}

func (guard *Guard) Middleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		values := guard.sessions.Values(context)
		switch ResolveRoute(context.Request.URL.Path, session.LoggedIn(values)) {
		case RouteDecisionRedirectRoot:
			if context.Request.Method == http.MethodGet {
				values.RememberPendingPath(context.Request.URL.RequestURI())
			}
			context.Redirect(http.StatusFound, RootPath)
			context.Abort()
			return
		}
		context.Next()
	}
}
