package httpapi_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/emitra/internal/httpapi"
)

func TestResolveRoute(t *testing.T) {
	testCases := []struct {
		name     string
		path     string
		loggedIn bool
		expected httpapi.RouteDecision
	}{
		{name: "root logged out", path: "/", expected: httpapi.RouteDecisionPublic},
		{name: "root logged in", path: "/", loggedIn: true, expected: httpapi.RouteDecisionPublic},
		{name: "login page", path: "/login", expected: httpapi.RouteDecisionPublic},
		{name: "admin logged out", path: "/admin", expected: httpapi.RouteDecisionRedirectRoot},
		{name: "admin logged in", path: "/admin", loggedIn: true, expected: httpapi.RouteDecisionAdmin},
		{name: "nested admin logged out", path: "/admin/inquiries/3/read", expected: httpapi.RouteDecisionRedirectRoot},
		{name: "unknown admin path logged out", path: "/admin/does-not-exist", expected: httpapi.RouteDecisionRedirectRoot},
		{name: "dot segments", path: "/public/../admin", expected: httpapi.RouteDecisionRedirectRoot},
		{name: "trailing slash", path: "/admin/", expected: httpapi.RouteDecisionRedirectRoot},
		{name: "admin-like prefix", path: "/administrator", expected: httpapi.RouteDecisionPublic},
		{name: "api admin is token guarded", path: "/api/admin/inquiries", expected: httpapi.RouteDecisionPublic},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(testingT *testing.T) {
			require.Equal(testingT, testCase.expected, httpapi.ResolveRoute(testCase.path, testCase.loggedIn))
		})
	}
}

func TestGuardRedirectsThenReplaysDeepLink(t *testing.T) {
	api := buildAPIHarness(t)
	client := newBrowser(t, api.router)

	blocked := client.get("/admin?read=unread", nil)
	require.Equal(t, http.StatusFound, blocked.Code)
	require.Equal(t, httpapi.RootPath, blocked.Header().Get(locationHeader))

	loggedIn := client.login()
	require.Equal(t, http.StatusSeeOther, loggedIn.Code)
	require.Equal(t, "/admin?read=unread", loggedIn.Header().Get(locationHeader))

	panel := client.get("/admin?read=unread", nil)
	require.Equal(t, http.StatusOK, panel.Code)
	require.Contains(t, panel.Body.String(), `id="inquiry-table"`)
}

func TestGuardBlocksUnknownAdminPaths(t *testing.T) {
	api := buildAPIHarness(t)
	client := newBrowser(t, api.router)

	response := client.get("/admin/does-not-exist", nil)
	require.Equal(t, http.StatusFound, response.Code)
	require.Equal(t, httpapi.RootPath, response.Header().Get(locationHeader))

	mutation := client.postForm("/admin/inquiries/1/delete", url.Values{})
	require.Equal(t, http.StatusFound, mutation.Code)
}

func TestLoginWithoutDeepLinkLandsOnAdmin(t *testing.T) {
	api := buildAPIHarness(t)
	client := newBrowser(t, api.router)

	loggedIn := client.login()
	require.Equal(t, http.StatusSeeOther, loggedIn.Code)
	require.Equal(t, httpapi.AdminPath, loggedIn.Header().Get(locationHeader))

	loginPage := client.get(httpapi.LoginPath, nil)
	require.Equal(t, http.StatusFound, loginPage.Code)
	require.Equal(t, httpapi.AdminPath, loginPage.Header().Get(locationHeader))
}

func TestRejectedLoginKeepsDeepLinkForNextAttempt(t *testing.T) {
	api := buildAPIHarness(t)
	client := newBrowser(t, api.router)

	client.get("/admin?kind=contact", nil)

	rejected := client.postForm(httpapi.LoginPath, url.Values{"user_id": {testOperatorUserID}, "password": {"wrong"}})
	require.Equal(t, http.StatusUnauthorized, rejected.Code)
	require.Contains(t, rejected.Body.String(), `id="login-error"`)

	accepted := client.login()
	require.Equal(t, "/admin?kind=contact", accepted.Header().Get(locationHeader))
}
