package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/emitra/internal/auth"
	"github.com/MarkoPoloResearchLab/emitra/internal/content"
	"github.com/MarkoPoloResearchLab/emitra/internal/httpapi"
	"github.com/MarkoPoloResearchLab/emitra/internal/model"
	"github.com/MarkoPoloResearchLab/emitra/internal/session"
	"github.com/MarkoPoloResearchLab/emitra/internal/storage"
	"github.com/MarkoPoloResearchLab/emitra/internal/testutil"
)

const (
	testAdminSecret       = "kiosk-admin-secret"
	testSigningKey        = "test-signing-key"
	testSessionSecret     = "0123456789abcdef0123456789abcdef"
	testOperatorUserID    = "K107182721"
	testOperatorPassword  = "Karauli#34"
	testCustomerName      = "Asha"
	testCustomerPhone     = "9876543210"
	testCustomerMessage   = "Need Aadhaar update"
	authorizationHeader   = "Authorization"
	bearerTokenPrefix     = "Bearer "
	contentTypeHeader     = "Content-Type"
	formContentType       = "application/x-www-form-urlencoded"
	locationHeader        = "Location"
	testRateLimitRequests = 3
)

type apiHarness struct {
	router      *gin.Engine
	database    *gorm.DB
	repository  *storage.InquiryRepository
	tokens      *auth.SessionTokens
	broadcaster *httpapi.InquiryEventBroadcaster
}

func buildAPIHarness(testingT *testing.T) apiHarness {
	testingT.Helper()

	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	database := testutil.OpenSQLiteDatabase(testingT)
	repository := storage.NewInquiryRepository(database)
	catalog, catalogErr := content.Load()
	require.NoError(testingT, catalogErr)
	tokens, tokensErr := auth.NewSessionTokens(testSigningKey, time.Hour)
	require.NoError(testingT, tokensErr)

	gate, gateErr := session.NewGate(session.Credentials{
		UserID:      testOperatorUserID,
		Password:    testOperatorPassword,
		AdminSecret: testAdminSecret,
	})
	require.NoError(testingT, gateErr)
	cookieSessions := httpapi.NewCookieSessions(testSessionSecret, false, logger)

	broadcaster := httpapi.NewInquiryEventBroadcaster()
	testingT.Cleanup(broadcaster.Close)

	limiter := httpapi.NewRateLimiter(time.Hour, testRateLimitRequests)
	publicHandlers := httpapi.NewPublicHandlers(repository, catalog, logger, limiter, broadcaster)
	inquiryHandlers := httpapi.NewInquiryHandlers(repository, catalog, logger, broadcaster)
	authManager := httpapi.NewAuthManager(logger, tokens, repository, testAdminSecret)
	webHandlers := httpapi.NewWebHandlers(logger, catalog, repository, publicHandlers, gate, cookieSessions)
	healthHandlers := httpapi.NewHealthHandlers(repository, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	router.Use(httpapi.NewGuard(cookieSessions).Middleware())

	router.GET("/healthz", healthHandlers.Health)
	router.POST("/api/inquiries", publicHandlers.CreateInquiry)
	router.POST("/api/sessions", authManager.Connect)
	router.POST("/api/admin/elevate", authManager.RequireSessionJSON(), authManager.Elevate)
	router.GET("/api/admin/status", authManager.RequireSessionJSON(), authManager.Status)

	adminAPI := router.Group("/api/admin/inquiries", authManager.RequireAdminJSON())
	adminAPI.POST("", inquiryHandlers.CreateInternalInquiry)
	adminAPI.GET("", inquiryHandlers.ListInquiries)
	adminAPI.GET("/export", inquiryHandlers.ExportInquiries)
	adminAPI.GET("/events", inquiryHandlers.StreamInquiryEvents)
	adminAPI.GET("/:id", inquiryHandlers.GetInquiry)
	adminAPI.PATCH("/:id", inquiryHandlers.UpdateInquiry)
	adminAPI.DELETE("/:id", inquiryHandlers.DeleteInquiry)

	router.GET(httpapi.RootPath, webHandlers.RenderLanding)
	router.POST(httpapi.ContactPath, webHandlers.SubmitContact)
	router.GET(httpapi.LoginPath, webHandlers.RenderLogin)
	router.POST(httpapi.LoginPath, webHandlers.SubmitLogin)
	router.POST(httpapi.LogoutPath, webHandlers.Logout)
	router.GET(httpapi.AdminPath, webHandlers.RenderAdmin)
	router.GET(httpapi.AdminExportPath, inquiryHandlers.ExportInquiries)
	router.POST(httpapi.AdminPath+"/inquiries/:id/read", webHandlers.UpdateRead)
	router.POST(httpapi.AdminPath+"/inquiries/:id/delete", webHandlers.DeleteInquiry)

	return apiHarness{
		router:      router,
		database:    database,
		repository:  repository,
		tokens:      tokens,
		broadcaster: broadcaster,
	}
}

func performJSONRequest(testingT *testing.T, router http.Handler, method string, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	testingT.Helper()
	var requestBody io.Reader
	if body != nil {
		encoded, encodeErr := json.Marshal(body)
		require.NoError(testingT, encodeErr)
		requestBody = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, requestBody)
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	if body != nil {
		request.Header.Set(contentTypeHeader, "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSON(testingT *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testingT.Helper()
	var payload map[string]any
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &payload))
	return payload
}

func bearerHeaders(token string) map[string]string {
	return map[string]string{authorizationHeader: bearerTokenPrefix + token}
}

// adminToken connects and elevates a principal, returning its bearer token.
func (harness apiHarness) adminToken(testingT *testing.T, principal string) string {
	testingT.Helper()
	connect := performJSONRequest(testingT, harness.router, http.MethodPost, "/api/sessions", map[string]string{"principal": principal}, nil)
	require.Equal(testingT, http.StatusOK, connect.Code)
	token, _ := decodeJSON(testingT, connect)["token"].(string)
	require.NotEmpty(testingT, token)

	elevate := performJSONRequest(testingT, harness.router, http.MethodPost, "/api/admin/elevate", map[string]string{"secret": testAdminSecret}, bearerHeaders(token))
	require.Equal(testingT, http.StatusOK, elevate.Code)
	return token
}

func (harness apiHarness) insertInquiry(testingT *testing.T, input model.InquiryInput) model.Inquiry {
	testingT.Helper()
	inquiry, buildErr := model.NewInquiry(input)
	require.NoError(testingT, buildErr)
	require.NoError(testingT, harness.database.Create(&inquiry).Error)
	return inquiry
}

func contactInput(name string) model.InquiryInput {
	return model.InquiryInput{
		Name:        name,
		PhoneNumber: testCustomerPhone,
		Message:     testCustomerMessage,
	}
}

// browser replays cookies between requests the way a web browser would.
type browser struct {
	testingT *testing.T
	router   http.Handler
	cookies  map[string]*http.Cookie
}

func newBrowser(testingT *testing.T, router http.Handler) *browser {
	return &browser{testingT: testingT, router: router, cookies: make(map[string]*http.Cookie)}
}

func (client *browser) get(path string, headers map[string]string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, path, nil)
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	return client.do(request)
}

func (client *browser) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	request.Header.Set(contentTypeHeader, formContentType)
	return client.do(request)
}

func (client *browser) do(request *http.Request) *httptest.ResponseRecorder {
	client.testingT.Helper()
	for _, cookie := range client.cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	client.router.ServeHTTP(recorder, request)
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.MaxAge < 0 {
			delete(client.cookies, cookie.Name)
			continue
		}
		client.cookies[cookie.Name] = cookie
	}
	return recorder
}

func (client *browser) login() *httptest.ResponseRecorder {
	return client.postForm(httpapi.LoginPath, url.Values{
		"user_id":  {testOperatorUserID},
		"password": {testOperatorPassword},
	})
}

func itoa(identifier uint64) string {
	return strconv.FormatUint(identifier, 10)
}
