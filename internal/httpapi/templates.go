package httpapi

import (
	_ "embed"
	"html/template"
)

//go:embed templates/layout.tmpl
var layoutTemplateHTML string

//go:embed templates/landing.tmpl
var landingTemplateHTML string

//go:embed templates/login.tmpl
var loginTemplateHTML string

//go:embed templates/admin.tmpl
var adminTemplateHTML string

// parsePageTemplate compiles one page together with the shared layout blocks.
func parsePageTemplate(name string, pageHTML string) *template.Template {
	compiled := template.Must(template.New(name).Parse(layoutTemplateHTML))
	return template.Must(compiled.Parse(pageHTML))
}
