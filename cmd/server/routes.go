package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/emitra/internal/auth"
	"github.com/MarkoPoloResearchLab/emitra/internal/content"
	"github.com/MarkoPoloResearchLab/emitra/internal/httpapi"
	"github.com/MarkoPoloResearchLab/emitra/internal/session"
	"github.com/MarkoPoloResearchLab/emitra/internal/storage"
)

const (
	healthRoute                  = "/healthz"
	publicRouteInquiries         = "/api/inquiries"
	apiRouteSessions             = "/api/sessions"
	apiRouteElevate              = "/api/admin/elevate"
	apiRouteStatus               = "/api/admin/status"
	apiRouteAdminInquiries       = "/api/admin/inquiries"
	apiRouteInquiryByID          = "/:id"
	apiRouteInquiryExport        = "/export"
	apiRouteInquiryEvents        = "/events"
	webRouteInquiryRead          = httpapi.AdminPath + "/inquiries/:id/read"
	webRouteInquiryDelete        = httpapi.AdminPath + "/inquiries/:id/delete"
	corsOriginWildcard           = "*"
	corsHeaderAuthorization      = "Authorization"
	corsHeaderContentType        = "Content-Type"
	corsHeaderContentDisposition = "Content-Disposition"
	corsMaxAge                   = 12 * time.Hour
)

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType, corsHeaderContentDisposition}
)

// kioskServer holds the router and the resources that outlive a request.
type kioskServer struct {
	router      *gin.Engine
	broadcaster *httpapi.InquiryEventBroadcaster
}

// Close ends open event streams.
func (server *kioskServer) Close() {
	server.broadcaster.Close()
}

func newKioskServer(configuration ServerConfig, database *gorm.DB, logger *zap.Logger) (*kioskServer, error) {
	catalog, catalogErr := content.Load()
	if catalogErr != nil {
		return nil, fmt.Errorf("load content catalog: %w", catalogErr)
	}

	repository := storage.NewInquiryRepository(database)
	broadcaster := httpapi.NewInquiryEventBroadcaster()
	limiter := httpapi.NewRateLimiter(configuration.RateLimitWindow, configuration.RateLimitRequests)
	publicHandlers := httpapi.NewPublicHandlers(repository, catalog, logger, limiter, broadcaster)
	inquiryHandlers := httpapi.NewInquiryHandlers(repository, catalog, logger, broadcaster)
	healthHandlers := httpapi.NewHealthHandlers(repository, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	router.GET(healthRoute, healthHandlers.Health)

	if configuration.ServeMode.servesWeb() {
		gate, gateErr := session.NewGate(session.Credentials{
			UserID:      configuration.OperatorUserID,
			Password:    configuration.OperatorPassword,
			AdminSecret: configuration.AdminSecret,
		})
		if gateErr != nil {
			broadcaster.Close()
			return nil, gateErr
		}
		cookieSessions := httpapi.NewCookieSessions(configuration.SessionSecret, configuration.CookieSecure, logger)
		webHandlers := httpapi.NewWebHandlers(logger, catalog, repository, publicHandlers, gate, cookieSessions)
		sitemapHandlers := httpapi.NewSitemapHandlers(configuration.PublicBaseURL)
		registerWebRoutes(router, httpapi.NewGuard(cookieSessions), webHandlers, sitemapHandlers, inquiryHandlers)
	}

	if configuration.ServeMode.servesAPI() {
		tokens, tokensErr := auth.NewSessionTokens(configuration.TokenSigningKey, configuration.TokenTTL)
		if tokensErr != nil {
			broadcaster.Close()
			return nil, tokensErr
		}
		authManager := httpapi.NewAuthManager(logger, tokens, repository, configuration.AdminSecret)
		publicCORS := newCORS([]string{corsOriginWildcard}, false)
		var adminCORS gin.HandlerFunc
		if configuration.AdminOrigin != "" {
			adminCORS = newCORS([]string{configuration.AdminOrigin}, true)
		}
		registerAPIRoutes(router, authManager, publicHandlers, inquiryHandlers, publicCORS, adminCORS)
		registerAPIPreflightRoutes(router, publicCORS, adminCORS)
	}

	return &kioskServer{router: router, broadcaster: broadcaster}, nil
}

func newCORS(origins []string, allowCredentials bool) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           corsMaxAge,
	})
}

// registerWebRoutes installs the guard ahead of every page, so unknown /admin
// paths are redirected as well.
func registerWebRoutes(
	router *gin.Engine,
	guard *httpapi.Guard,
	webHandlers *httpapi.WebHandlers,
	sitemapHandlers *httpapi.SitemapHandlers,
	inquiryHandlers *httpapi.InquiryHandlers,
) {
	router.Use(guard.Middleware())

	router.GET(httpapi.RootPath, webHandlers.RenderLanding)
	router.POST(httpapi.ContactPath, webHandlers.SubmitContact)
	router.GET(httpapi.LoginPath, webHandlers.RenderLogin)
	router.POST(httpapi.LoginPath, webHandlers.SubmitLogin)
	router.POST(httpapi.LogoutPath, webHandlers.Logout)
	router.GET(httpapi.SitemapRoutePath, sitemapHandlers.RenderSitemap)

	router.GET(httpapi.AdminPath, webHandlers.RenderAdmin)
	router.GET(httpapi.AdminExportPath, inquiryHandlers.ExportInquiries)
	router.POST(webRouteInquiryRead, webHandlers.UpdateRead)
	router.POST(webRouteInquiryDelete, webHandlers.DeleteInquiry)
}

func registerAPIRoutes(
	router *gin.Engine,
	authManager *httpapi.AuthManager,
	publicHandlers *httpapi.PublicHandlers,
	inquiryHandlers *httpapi.InquiryHandlers,
	publicCORS gin.HandlerFunc,
	adminCORS gin.HandlerFunc,
) {
	publicGroup := router.Group("/")
	publicGroup.Use(publicCORS)
	publicGroup.POST(publicRouteInquiries, publicHandlers.CreateInquiry)

	sessionGroup := router.Group("/")
	if adminCORS != nil {
		sessionGroup.Use(adminCORS)
	}
	sessionGroup.POST(apiRouteSessions, authManager.Connect)
	sessionGroup.POST(apiRouteElevate, authManager.RequireSessionJSON(), authManager.Elevate)
	sessionGroup.GET(apiRouteStatus, authManager.RequireSessionJSON(), authManager.Status)

	adminGroup := router.Group(apiRouteAdminInquiries)
	if adminCORS != nil {
		adminGroup.Use(adminCORS)
	}
	adminGroup.Use(authManager.RequireAdminJSON())
	adminGroup.POST("", inquiryHandlers.CreateInternalInquiry)
	adminGroup.GET("", inquiryHandlers.ListInquiries)
	adminGroup.GET(apiRouteInquiryExport, inquiryHandlers.ExportInquiries)
	adminGroup.GET(apiRouteInquiryEvents, inquiryHandlers.StreamInquiryEvents)
	adminGroup.GET(apiRouteInquiryByID, inquiryHandlers.GetInquiry)
	adminGroup.PATCH(apiRouteInquiryByID, inquiryHandlers.UpdateInquiry)
	adminGroup.DELETE(apiRouteInquiryByID, inquiryHandlers.DeleteInquiry)
}

// registerAPIPreflightRoutes answers OPTIONS requests, which never reach the
// group middleware because no OPTIONS handler is registered on the groups.
func registerAPIPreflightRoutes(router *gin.Engine, publicCORS gin.HandlerFunc, adminCORS gin.HandlerFunc) {
	router.OPTIONS(publicRouteInquiries, publicCORS)
	if adminCORS == nil {
		return
	}
	for _, adminRoute := range []string{
		apiRouteSessions,
		apiRouteElevate,
		apiRouteStatus,
		apiRouteAdminInquiries,
		apiRouteAdminInquiries + apiRouteInquiryExport,
		apiRouteAdminInquiries + apiRouteInquiryEvents,
		apiRouteAdminInquiries + apiRouteInquiryByID,
	} {
		router.OPTIONS(adminRoute, adminCORS)
	}
}
