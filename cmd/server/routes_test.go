package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/emitra/internal/testutil"
)

const testAdminOrigin = "http://localhost:8090"

func testServerConfig(mode ServeMode) ServerConfig {
	return ServerConfig{
		TokenSigningKey:   "signing-key",
		TokenTTL:          time.Hour,
		AdminSecret:       "admin-secret",
		OperatorUserID:    "K107182721",
		OperatorPassword:  "Karauli#34",
		SessionSecret:     "0123456789abcdef0123456789abcdef",
		ServeMode:         mode,
		PublicBaseURL:     "https://emitra.example.in",
		AdminOrigin:       testAdminOrigin,
		RateLimitWindow:   time.Minute,
		RateLimitRequests: 10,
	}
}

func newTestKioskServer(testingT *testing.T, mode ServeMode) *kioskServer {
	testingT.Helper()
	gin.SetMode(gin.TestMode)
	server, serverErr := newKioskServer(testServerConfig(mode), testutil.OpenSQLiteDatabase(testingT), zap.NewNop())
	require.NoError(testingT, serverErr)
	testingT.Cleanup(server.Close)
	return server
}

func serve(router http.Handler, method string, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestAPIPreflightRoutesReturnCORSHeadersForAdminRequests(testingT *testing.T) {
	server := newTestKioskServer(testingT, ServeModeAPI)

	recorder := serve(server.router, http.MethodOptions, "/api/admin/inquiries/12", "", map[string]string{
		"Origin":                         testAdminOrigin,
		"Access-Control-Request-Method":  http.MethodPatch,
		"Access-Control-Request-Headers": "authorization,content-type",
	})

	require.Equal(testingT, http.StatusNoContent, recorder.Code)
	require.Equal(testingT, testAdminOrigin, recorder.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(testingT, "true", recorder.Header().Get("Access-Control-Allow-Credentials"))
}

func TestAPIPreflightRoutesUseWildcardCORSForPublicRequests(testingT *testing.T) {
	server := newTestKioskServer(testingT, ServeModeAPI)

	recorder := serve(server.router, http.MethodOptions, "/api/inquiries", "", map[string]string{
		"Origin":                         "http://partner.example",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "content-type",
	})

	require.Equal(testingT, http.StatusNoContent, recorder.Code)
	require.Equal(testingT, corsOriginWildcard, recorder.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(testingT, recorder.Header().Get("Access-Control-Allow-Credentials"))
}

func TestAdminPreflightIsAbsentWithoutConfiguredOrigin(testingT *testing.T) {
	gin.SetMode(gin.TestMode)
	configuration := testServerConfig(ServeModeAPI)
	configuration.AdminOrigin = ""
	server, serverErr := newKioskServer(configuration, testutil.OpenSQLiteDatabase(testingT), zap.NewNop())
	require.NoError(testingT, serverErr)
	testingT.Cleanup(server.Close)

	recorder := serve(server.router, http.MethodOptions, "/api/admin/inquiries", "", map[string]string{
		"Origin":                        testAdminOrigin,
		"Access-Control-Request-Method": http.MethodGet,
	})
	require.Empty(testingT, recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeModesSelectSurfaces(testingT *testing.T) {
	const inquiryBody = `{"name":"Asha","phone_number":"9876543210","message":"Need Aadhaar update"}`
	jsonHeaders := map[string]string{"Content-Type": "application/json"}

	testCases := []struct {
		name               string
		mode               ServeMode
		landingStatus      int
		adminStatus        int
		submitStatus       int
		sitemapStatus      int
		sessionsStatusCode int
	}{
		{name: "monolith", mode: ServeModeMonolith, landingStatus: http.StatusOK, adminStatus: http.StatusFound, submitStatus: http.StatusCreated, sitemapStatus: http.StatusOK, sessionsStatusCode: http.StatusOK},
		{name: "web", mode: ServeModeWeb, landingStatus: http.StatusOK, adminStatus: http.StatusFound, submitStatus: http.StatusNotFound, sitemapStatus: http.StatusOK, sessionsStatusCode: http.StatusNotFound},
		{name: "api", mode: ServeModeAPI, landingStatus: http.StatusNotFound, adminStatus: http.StatusNotFound, submitStatus: http.StatusCreated, sitemapStatus: http.StatusNotFound, sessionsStatusCode: http.StatusOK},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(t *testing.T) {
			server := newTestKioskServer(t, testCase.mode)

			require.Equal(t, http.StatusOK, serve(server.router, http.MethodGet, healthRoute, "", nil).Code)
			require.Equal(t, testCase.landingStatus, serve(server.router, http.MethodGet, "/", "", nil).Code)
			require.Equal(t, testCase.adminStatus, serve(server.router, http.MethodGet, "/admin", "", nil).Code)
			require.Equal(t, testCase.sitemapStatus, serve(server.router, http.MethodGet, "/sitemap.xml", "", nil).Code)
			require.Equal(t, testCase.submitStatus, serve(server.router, http.MethodPost, publicRouteInquiries, inquiryBody, jsonHeaders).Code)
			require.Equal(t, testCase.sessionsStatusCode, serve(server.router, http.MethodPost, apiRouteSessions, "", nil).Code)
		})
	}
}

func TestNewKioskServerRejectsIncompleteCredentials(testingT *testing.T) {
	configuration := testServerConfig(ServeModeWeb)
	configuration.OperatorPassword = ""

	_, serverErr := newKioskServer(configuration, testutil.OpenSQLiteDatabase(testingT), zap.NewNop())
	require.Error(testingT, serverErr)
}
