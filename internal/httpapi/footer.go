package httpapi

import (
	"html/template"
	"time"

	"github.com/MarkoPoloResearchLab/emitra/internal/content"
	"github.com/MarkoPoloResearchLab/emitra/pkg/footer"
)

const (
	footerElementID  = "site-footer"
	footerBaseClass  = "site-footer bg-dark text-light mt-auto py-4"
	footerInnerClass = "container"

	labelKeyDisclaimerHeading = "disclaimer_heading"
	labelKeyRightsReserved    = "rights_reserved"
	labelKeyLanguageSwitch    = "language_switch"
	labelKeyNavServices       = "nav_services"
	labelKeyNavFAQ            = "nav_faq"
	labelKeyNavContact        = "nav_contact"
	labelKeyNavAdmin          = "nav_admin"
)

// footerConfigForPage builds the site footer for a localized page.
func footerConfigForPage(page content.Page, currentPath string, now time.Time) footer.Config {
	return footer.Config{
		ElementID:  footerElementID,
		BaseClass:  footerBaseClass,
		InnerClass: footerInnerClass,
		Language:   string(page.Language),
		BrandName:  page.Business.Name,
		Tagline:    page.Business.Tagline,
		Contact: footer.Contact{
			Operator: page.Business.Operator,
			Address:  page.Business.Address,
			Phone:    page.Business.Phone,
			Email:    page.Business.Email,
			Hours:    page.Business.Hours,
		},
		DisclaimerHeading: page.Label(labelKeyDisclaimerHeading),
		Disclaimer:        page.Business.Disclaimer,
		RightsText:        page.Label(labelKeyRightsReserved),
		Year:              now.In(time.UTC).Year(),
		Links: []footer.Link{
			{Label: page.Label(labelKeyNavServices), URL: RootPath + "#services"},
			{Label: page.Label(labelKeyNavFAQ), URL: RootPath + "#faq"},
			{Label: page.Label(labelKeyNavContact), URL: RootPath + "#contact"},
			{Label: page.Label(labelKeyNavAdmin), URL: LoginPath},
		},
		LanguageSwitchHref: languageSwitchHref(currentPath, page.Language.Other()),
		LanguageSwitchText: page.Label(labelKeyLanguageSwitch),
	}
}

func renderFooterHTML(page content.Page, currentPath string, now time.Time) (template.HTML, error) {
	return footer.Render(footerConfigForPage(page, currentPath, now))
}
