package footer

import (
	"bytes"
	"html/template"
)

// Link describes a navigation entry displayed in the footer.
type Link struct {
	Label string
	URL   string
}

// Contact lists the kiosk's reachable details. Empty fields are omitted.
type Contact struct {
	Operator string
	Address  string
	Phone    string
	Email    string
	Hours    string
}

// Config captures the text and style hooks required to render the footer.
type Config struct {
	ElementID          string
	BaseClass          string
	InnerClass         string
	Language           string
	BrandName          string
	Tagline            string
	Contact            Contact
	DisclaimerHeading  string
	Disclaimer         string
	RightsText         string
	Year               int
	Links              []Link
	LanguageSwitchHref string
	LanguageSwitchText string
}

var (
	footerTemplate = template.Must(template.New("footer").Parse(`<footer id="{{.ElementID}}" class="{{.BaseClass}}" lang="{{.Language}}">
  <div class="{{.InnerClass}}">
    <div class="row g-4">
      <div class="col-md-5">
        <h2 class="h5 mb-1">{{.BrandName}}</h2>
        {{if .Tagline}}<p class="small mb-2">{{.Tagline}}</p>{{end}}
        <ul class="list-unstyled small mb-0">
          {{with .Contact.Operator}}<li>{{.}}</li>{{end}}
          {{with .Contact.Address}}<li>{{.}}</li>{{end}}
          {{with .Contact.Phone}}<li><a href="tel:{{.}}">{{.}}</a></li>{{end}}
          {{with .Contact.Email}}<li><a href="mailto:{{.}}">{{.}}</a></li>{{end}}
          {{with .Contact.Hours}}<li>{{.}}</li>{{end}}
        </ul>
      </div>
      <div class="col-md-4">
        {{if .Disclaimer}}
        <h2 class="h6">{{.DisclaimerHeading}}</h2>
        <p class="small mb-0">{{.Disclaimer}}</p>
        {{end}}
      </div>
      <div class="col-md-3">
        <ul class="list-unstyled small mb-2">
          {{range .Links}}
          <li><a href="{{.URL}}">{{.Label}}</a></li>
          {{end}}
        </ul>
        {{if .LanguageSwitchHref}}<a class="btn btn-outline-light btn-sm" href="{{.LanguageSwitchHref}}">{{.LanguageSwitchText}}</a>{{end}}
      </div>
    </div>
    <p class="small text-center mt-4 mb-0">&copy; {{.Year}} {{.BrandName}}. {{.RightsText}}</p>
  </div>
</footer>`))
)

// Render returns the footer HTML for the provided configuration.
func Render(config Config) (template.HTML, error) {
	var buffer bytes.Buffer
	if err := footerTemplate.Execute(&buffer, config); err != nil {
		return "", err
	}
	return template.HTML(buffer.String()), nil
}
