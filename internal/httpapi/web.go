package httpapi

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/emitra/internal/console"
	"github.com/MarkoPoloResearchLab/emitra/internal/content"
	"github.com/MarkoPoloResearchLab/emitra/internal/export"
	"github.com/MarkoPoloResearchLab/emitra/internal/model"
	"github.com/MarkoPoloResearchLab/emitra/internal/session"
)

const (
	LoginPath       = "/login"
	LogoutPath      = "/logout"
	ContactPath     = "/contact"
	AdminExportPath = AdminPath + "/export"

	htmlContentType             = "text/html; charset=utf-8"
	languageCookieName          = "emitra_lang"
	languageCookieMaxAgeSeconds = 365 * 24 * 60 * 60
	queryKeyLanguage            = "lang"
	queryKeyNotice              = "notice"
	queryKeyRead                = "read"
	queryKeyKind                = "kind"
	queryKeyCategory            = "category"
	queryKeySearch              = "q"
	headerAcceptLanguage        = "Accept-Language"
	noticeUpdateFailed          = "update_failed"

	formFieldKind     = "kind"
	formFieldName     = "name"
	formFieldPhone    = "phone_number"
	formFieldEmail    = "email"
	formFieldMessage  = "message"
	formFieldCategory = "service_category"
	formFieldUserID   = "user_id"
	formFieldPassword = "password"
	formFieldRead     = "read"

	fieldKeyName     = "name"
	fieldKeyPhone    = "phone"
	fieldKeyEmail    = "email"
	fieldKeyMessage  = "message"
	fieldKeyCategory = "category"

	labelKeySubmitFailed      = "submit_failed"
	labelKeySubmitRateLimited = "submit_rate_limited"
	labelKeyLoginHeading      = "login_heading"
	labelKeyAdminHeading      = "admin_heading"
	labelKeyAdminLoadFailed   = "admin_load_failed"
	labelKeyAdminUpdateFailed = "admin_update_failed"
	labelKeyKindContact       = "kind_contact"
	labelKeyKindService       = "kind_service_request"

	logEventRenderPage     = "render_page"
	logEventLocalizePage   = "localize_page"
	logEventRenderFooter   = "render_footer"
	logEventAdminLogin     = "admin_login"
	logEventAdminLoginFail = "admin_login_rejected"
	logEventAdminLogout    = "admin_logout"
	logEventWebListFailed  = "web_list_inquiries"
	logEventWebUpdate      = "web_update_inquiry"
	logFieldUserID         = "user_id"
	logFieldInquiryID      = "inquiry_id"
)

type contactFieldError struct {
	sentinel error
	field    string
	labelKey string
}

var contactFieldErrors = []contactFieldError{
	{sentinel: model.ErrInvalidInquiryName, field: fieldKeyName, labelKey: "error_name"},
	{sentinel: model.ErrInvalidInquiryPhone, field: fieldKeyPhone, labelKey: "error_phone"},
	{sentinel: model.ErrInvalidInquiryEmail, field: fieldKeyEmail, labelKey: "error_email"},
	{sentinel: model.ErrInvalidInquiryMessage, field: fieldKeyMessage, labelKey: "error_message"},
	{sentinel: model.ErrInvalidInquiryCategory, field: fieldKeyCategory, labelKey: "error_category"},
}

// pageChrome is shared by every rendered page.
type pageChrome struct {
	Title              string
	Page               content.Page
	LoggedIn           bool
	LanguageSwitchHref string
	FooterHTML         template.HTML
}

type contactForm struct {
	Kind            string
	Name            string
	PhoneNumber     string
	Email           string
	Message         string
	ServiceCategory string
}

type landingTemplateData struct {
	pageChrome
	Form        contactForm
	Submitted   bool
	FormError   string
	FieldErrors map[string]string
}

type loginTemplateData struct {
	pageChrome
	UserID string
	Failed bool
}

type adminInquiryRow struct {
	console.Inquiry
	ReceivedAt string
	KindLabel  string
}

type adminTemplateData struct {
	pageChrome
	Rows       []adminInquiryRow
	Counts     console.Counts
	Criteria   console.Criteria
	Categories []string
	Notice     string
}

// WebHandlers renders the bilingual public site and the credential-gated admin panel.
type WebHandlers struct {
	logger          *zap.Logger
	catalog         *content.Catalog
	store           InquiryStore
	public          *PublicHandlers
	gate            *session.Gate
	sessions        *CookieSessions
	landingTemplate *template.Template
	loginTemplate   *template.Template
	adminTemplate   *template.Template
	now             func() time.Time
}

func NewWebHandlers(logger *zap.Logger, catalog *content.Catalog, store InquiryStore, public *PublicHandlers, gate *session.Gate, cookieSessions *CookieSessions) *WebHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebHandlers{
		logger:          logger,
		catalog:         catalog,
		store:           store,
		public:          public,
		gate:            gate,
		sessions:        cookieSessions,
		landingTemplate: parsePageTemplate("landing", landingTemplateHTML),
		loginTemplate:   parsePageTemplate("login", loginTemplateHTML),
		adminTemplate:   parsePageTemplate("admin", adminTemplateHTML),
		now:             time.Now,
	}
}

// RenderLanding serves the home page in the negotiated language.
func (handlers *WebHandlers) RenderLanding(context *gin.Context) {
	chrome, ok := handlers.chrome(context, "")
	if !ok {
		return
	}
	chrome.Title = chrome.Page.Business.Name
	handlers.render(context, http.StatusOK, handlers.landingTemplate, landingTemplateData{
		pageChrome: chrome,
		Form:       contactForm{Kind: string(model.InquiryKindContact)},
	})
}

// SubmitContact stores a contact form submission and re-renders the home page.
func (handlers *WebHandlers) SubmitContact(context *gin.Context) {
	chrome, ok := handlers.chrome(context, RootPath)
	if !ok {
		return
	}
	chrome.Title = chrome.Page.Business.Name

	form := contactForm{
		Kind:            context.PostForm(formFieldKind),
		Name:            context.PostForm(formFieldName),
		PhoneNumber:     context.PostForm(formFieldPhone),
		Email:           context.PostForm(formFieldEmail),
		Message:         context.PostForm(formFieldMessage),
		ServiceCategory: context.PostForm(formFieldCategory),
	}
	_, submitErr := handlers.public.SubmitForm(context.Request.Context(), context.ClientIP(), model.InquiryInput{
		Kind:            form.Kind,
		Name:            form.Name,
		PhoneNumber:     form.PhoneNumber,
		Email:           form.Email,
		Message:         form.Message,
		ServiceCategory: form.ServiceCategory,
	})
	if submitErr == nil {
		handlers.render(context, http.StatusOK, handlers.landingTemplate, landingTemplateData{
			pageChrome: chrome,
			Form:       contactForm{Kind: string(model.InquiryKindContact)},
			Submitted:  true,
		})
		return
	}

	data := landingTemplateData{pageChrome: chrome, Form: form, FieldErrors: map[string]string{}}
	status := http.StatusBadRequest
	switch {
	case errors.Is(submitErr, errRateLimited):
		status = http.StatusTooManyRequests
		data.FormError = chrome.Page.Label(labelKeySubmitRateLimited)
	case validationErrorValue(submitErr) != "":
		data.FormError = chrome.Page.Label(labelKeySubmitFailed)
		for _, fieldError := range contactFieldErrors {
			if errors.Is(submitErr, fieldError.sentinel) {
				data.FieldErrors[fieldError.field] = chrome.Page.Label(fieldError.labelKey)
			}
		}
	default:
		status = http.StatusInternalServerError
		data.FormError = chrome.Page.Label(labelKeySubmitFailed)
	}
	handlers.render(context, status, handlers.landingTemplate, data)
}

// RenderLogin shows the credential form, or sends a logged-in operator to the admin page.
func (handlers *WebHandlers) RenderLogin(context *gin.Context) {
	if session.LoggedIn(handlers.sessions.Values(context)) {
		context.Redirect(http.StatusFound, AdminPath)
		return
	}
	chrome, ok := handlers.chrome(context, "")
	if !ok {
		return
	}
	chrome.Title = chrome.Page.Label(labelKeyLoginHeading)
	handlers.render(context, http.StatusOK, handlers.loginTemplate, loginTemplateData{pageChrome: chrome})
}

// SubmitLogin checks the credential pair and replays the saved admin deep link on success.
func (handlers *WebHandlers) SubmitLogin(context *gin.Context) {
	values := handlers.sessions.Values(context)
	userID := context.PostForm(formFieldUserID)
	if handlers.gate.Login(values, userID, context.PostForm(formFieldPassword)) {
		handlers.logger.Info(logEventAdminLogin, zap.String(logFieldUserID, userID))
		context.Redirect(http.StatusSeeOther, values.TakePendingPath())
		return
	}

	handlers.logger.Warn(logEventAdminLoginFail, zap.String(logFieldUserID, userID))
	chrome, ok := handlers.chrome(context, LoginPath)
	if !ok {
		return
	}
	chrome.Title = chrome.Page.Label(labelKeyLoginHeading)
	handlers.render(context, http.StatusUnauthorized, handlers.loginTemplate, loginTemplateData{
		pageChrome: chrome,
		UserID:     userID,
		Failed:     true,
	})
}

// Logout clears the admin session.
func (handlers *WebHandlers) Logout(context *gin.Context) {
	values := handlers.sessions.Values(context)
	if userID, found := values.Read(session.KeyUserID); found {
		handlers.logger.Info(logEventAdminLogout, zap.String(logFieldUserID, userID))
	}
	handlers.gate.Logout(values)
	context.Redirect(http.StatusSeeOther, RootPath)
}

// RenderAdmin lists inquiries with the requested filters. An empty store shows the demo record.
func (handlers *WebHandlers) RenderAdmin(context *gin.Context) {
	chrome, ok := handlers.chrome(context, "")
	if !ok {
		return
	}
	chrome.Title = chrome.Page.Label(labelKeyAdminHeading)

	readFilter, _ := console.ParseReadFilter(context.Query(queryKeyRead))
	criteria := console.Criteria{
		Read:            readFilter,
		Search:          context.Query(queryKeySearch),
		Kind:            context.Query(queryKeyKind),
		ServiceCategory: context.Query(queryKeyCategory),
	}
	data := adminTemplateData{pageChrome: chrome, Criteria: criteria}
	if context.Query(queryKeyNotice) == noticeUpdateFailed {
		data.Notice = chrome.Page.Label(labelKeyAdminUpdateFailed)
	}

	stored, listErr := handlers.store.List(context.Request.Context())
	if listErr != nil {
		handlers.logger.Warn(logEventWebListFailed, zap.Error(listErr))
		data.Notice = chrome.Page.Label(labelKeyAdminLoadFailed)
		data.Categories = handlers.catalog.ServiceCategories()
		handlers.render(context, http.StatusInternalServerError, handlers.adminTemplate, data)
		return
	}

	inquiries := consoleInquiries(stored)
	if len(inquiries) == 0 {
		inquiries = []console.Inquiry{console.PlaceholderInquiry(handlers.now())}
	}
	data.Counts = console.CountInquiries(inquiries)
	data.Categories = mergeCategories(handlers.catalog.ServiceCategories(), console.ServiceCategories(inquiries))
	for _, inquiry := range console.FilterInquiries(inquiries, criteria) {
		kindLabel := chrome.Page.Label(labelKeyKindContact)
		if inquiry.Kind == string(model.InquiryKindServiceRequest) {
			kindLabel = chrome.Page.Label(labelKeyKindService)
		}
		data.Rows = append(data.Rows, adminInquiryRow{
			Inquiry:    inquiry,
			ReceivedAt: export.Timestamp(inquiry.CreatedAt),
			KindLabel:  kindLabel,
		})
	}
	handlers.render(context, http.StatusOK, handlers.adminTemplate, data)
}

// UpdateRead sets the read flag from the admin table.
func (handlers *WebHandlers) UpdateRead(context *gin.Context) {
	read, parseErr := strconv.ParseBool(context.PostForm(formFieldRead))
	if parseErr != nil {
		handlers.redirectAdmin(context, noticeUpdateFailed)
		return
	}
	handlers.mutateInquiry(context, func(identifier uint64) error {
		return handlers.store.SetRead(context.Request.Context(), identifier, read)
	})
}

// DeleteInquiry removes an inquiry from the admin table.
func (handlers *WebHandlers) DeleteInquiry(context *gin.Context) {
	handlers.mutateInquiry(context, func(identifier uint64) error {
		return handlers.store.Delete(context.Request.Context(), identifier)
	})
}

func (handlers *WebHandlers) mutateInquiry(context *gin.Context, mutation func(uint64) error) {
	identifier, parseErr := strconv.ParseUint(strings.TrimSpace(context.Param("id")), 10, 64)
	if parseErr != nil || identifier == console.PlaceholderID {
		handlers.redirectAdmin(context, noticeUpdateFailed)
		return
	}
	if mutationErr := mutation(identifier); mutationErr != nil {
		handlers.logger.Warn(logEventWebUpdate, zap.Uint64(logFieldInquiryID, identifier), zap.Error(mutationErr))
		handlers.redirectAdmin(context, noticeUpdateFailed)
		return
	}
	handlers.redirectAdmin(context, "")
}

func (handlers *WebHandlers) redirectAdmin(context *gin.Context, notice string) {
	target := AdminPath
	if notice != "" {
		target += "?" + url.Values{queryKeyNotice: {notice}}.Encode()
	}
	context.Redirect(http.StatusSeeOther, target)
}

// chrome localizes the shared page parts. switchPath overrides the path the
// language switcher links to, for pages rendered in response to a POST.
func (handlers *WebHandlers) chrome(context *gin.Context, switchPath string) (pageChrome, bool) {
	language := handlers.language(context)
	page, localizeErr := handlers.catalog.Localize(language)
	if localizeErr != nil {
		handlers.logger.Error(logEventLocalizePage, zap.Error(localizeErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: "page_render_failed"})
		return pageChrome{}, false
	}
	if switchPath == "" {
		switchPath = context.Request.URL.Path
	}
	footerHTML, footerErr := renderFooterHTML(page, switchPath, handlers.now())
	if footerErr != nil {
		handlers.logger.Error(logEventRenderFooter, zap.Error(footerErr))
		footerHTML = template.HTML("")
	}
	return pageChrome{
		Page:               page,
		LoggedIn:           session.LoggedIn(handlers.sessions.Values(context)),
		LanguageSwitchHref: languageSwitchHref(switchPath, language.Other()),
		FooterHTML:         footerHTML,
	}, true
}

// language picks the page language from ?lang=, then the language cookie, then
// Accept-Language. An explicit ?lang= choice is remembered in the cookie.
func (handlers *WebHandlers) language(context *gin.Context) content.Language {
	if chosen, ok := content.ParseLanguage(context.Query(queryKeyLanguage)); ok {
		context.SetCookie(languageCookieName, string(chosen), languageCookieMaxAgeSeconds, RootPath, "", handlers.sessions.secure, true)
		return chosen
	}
	remembered, _ := context.Cookie(languageCookieName)
	return content.Negotiate(remembered, context.GetHeader(headerAcceptLanguage))
}

func (handlers *WebHandlers) render(context *gin.Context, status int, pageTemplate *template.Template, data any) {
	var buffer bytes.Buffer
	if executeErr := pageTemplate.Execute(&buffer, data); executeErr != nil {
		handlers.logger.Error(logEventRenderPage, zap.String("template", pageTemplate.Name()), zap.Error(executeErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: "page_render_failed"})
		return
	}
	context.Data(status, htmlContentType, buffer.Bytes())
}

func languageSwitchHref(currentPath string, target content.Language) string {
	if currentPath == "" {
		currentPath = RootPath
	}
	return currentPath + "?" + url.Values{queryKeyLanguage: {string(target)}}.Encode()
}

func consoleInquiries(stored []model.Inquiry) []console.Inquiry {
	inquiries := make([]console.Inquiry, 0, len(stored))
	for _, inquiry := range stored {
		inquiries = append(inquiries, console.Inquiry{
			ID:              inquiry.ID,
			Kind:            string(inquiry.Kind),
			Name:            inquiry.Name,
			PhoneNumber:     inquiry.PhoneNumber,
			Email:           inquiry.Email,
			Message:         inquiry.Message,
			ServiceCategory: inquiry.ServiceCategory,
			Read:            inquiry.Read,
			Internal:        inquiry.Internal,
			CreatedAt:       inquiry.CreatedAt,
		})
	}
	return inquiries
}

func mergeCategories(groups ...[]string) []string {
	seen := make(map[string]struct{})
	var merged []string
	for _, group := range groups {
		for _, category := range group {
			if _, found := seen[category]; found {
				continue
			}
			seen[category] = struct{}{}
			merged = append(merged, category)
		}
	}
	return merged
}
