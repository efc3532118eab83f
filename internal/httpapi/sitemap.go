package httpapi

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/emitra/internal/content"
)

const (
	SitemapRoutePath      = "/sitemap.xml"
	sitemapContentType    = "application/xml; charset=utf-8"
	sitemapXMLNamespace   = "http://www.sitemaps.org/schemas/sitemap/0.9"
	sitemapXHTMLNamespace = "http://www.w3.org/1999/xhtml"
	sitemapRenderFailure  = "sitemap_render_failed"
	sitemapDefaultBase    = "http://localhost:8080"
	sitemapAlternateRel   = "alternate"
)

// Public pages; each is listed once per site language.
var sitemapPagePaths = []string{
	RootPath,
}

var sitemapLanguages = []content.Language{content.LanguageHindi, content.LanguageEnglish}

type SitemapHandlers struct {
	baseURL    string
	routePaths []string
}

type sitemapAlternateLink struct {
	Rel      string `xml:"rel,attr"`
	HrefLang string `xml:"hreflang,attr"`
	Href     string `xml:"href,attr"`
}

type sitemapURLEntry struct {
	Location   string                 `xml:"loc"`
	Alternates []sitemapAlternateLink `xml:"xhtml:link"`
}

type sitemapURLSet struct {
	XMLName    xml.Name          `xml:"urlset"`
	XMLNS      string            `xml:"xmlns,attr"`
	XHTMLXMLNS string            `xml:"xmlns:xhtml,attr"`
	URLs       []sitemapURLEntry `xml:"url"`
}

func NewSitemapHandlers(baseURL string) *SitemapHandlers {
	return &SitemapHandlers{
		baseURL:    normalizeSitemapBaseURL(baseURL),
		routePaths: append([]string(nil), sitemapPagePaths...),
	}
}

func (handlers *SitemapHandlers) RenderSitemap(context *gin.Context) {
	urlEntries := make([]sitemapURLEntry, 0, len(handlers.routePaths)*len(sitemapLanguages))
	for _, path := range handlers.routePaths {
		alternates := make([]sitemapAlternateLink, 0, len(sitemapLanguages))
		for _, language := range sitemapLanguages {
			alternates = append(alternates, sitemapAlternateLink{
				Rel:      sitemapAlternateRel,
				HrefLang: string(language),
				Href:     handlers.composeURL(path, language),
			})
		}
		for _, language := range sitemapLanguages {
			urlEntries = append(urlEntries, sitemapURLEntry{
				Location:   handlers.composeURL(path, language),
				Alternates: alternates,
			})
		}
	}

	payload := sitemapURLSet{
		XMLNS:      sitemapXMLNamespace,
		XHTMLXMLNS: sitemapXHTMLNamespace,
		URLs:       urlEntries,
	}

	encoded, err := xml.MarshalIndent(payload, "", "  ")
	if err != nil {
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: sitemapRenderFailure})
		return
	}

	document := append([]byte(xml.Header), encoded...)
	context.Data(http.StatusOK, sitemapContentType, document)
}

func (handlers *SitemapHandlers) composeURL(path string, language content.Language) string {
	normalizedPath := "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	return handlers.baseURL + normalizedPath + "?" + url.Values{queryKeyLanguage: {string(language)}}.Encode()
}

func normalizeSitemapBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	trimmed = strings.TrimRight(trimmed, "/")
	if trimmed == "" {
		return sitemapDefaultBase
	}
	return trimmed
}
