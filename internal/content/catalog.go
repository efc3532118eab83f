// Package content holds the bilingual kiosk catalog: business details,
// services, FAQ and interface labels, in Hindi and English.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

var (
	ErrInvalidCatalog = errors.New("content: invalid catalog")
	ErrUnknownService = errors.New("content: unknown service category")
)

// Text is one string in both site languages.
type Text struct {
	English string `yaml:"en"`
	Hindi   string `yaml:"hi"`
}

// In returns the text for language, falling back to the other language when empty.
func (text Text) In(language Language) string {
	if language == LanguageEnglish {
		if text.English != "" {
			return text.English
		}
		return text.Hindi
	}
	if text.Hindi != "" {
		return text.Hindi
	}
	return text.English
}

func (text Text) complete() bool {
	return strings.TrimSpace(text.English) != "" && strings.TrimSpace(text.Hindi) != ""
}

// Business describes the kiosk itself.
type Business struct {
	Name       Text   `yaml:"name"`
	Tagline    Text   `yaml:"tagline"`
	Operator   Text   `yaml:"operator"`
	Address    Text   `yaml:"address"`
	Phone      string `yaml:"phone"`
	Email      string `yaml:"email"`
	Hours      Text   `yaml:"hours"`
	Disclaimer Text   `yaml:"disclaimer"`
}

// ServiceItem is one entry inside a service group. Details are Markdown.
type ServiceItem struct {
	Title   Text `yaml:"title"`
	Details Text `yaml:"details"`
}

// Service is a group of related offerings. Category is the stable value stored on inquiries.
type Service struct {
	ID       string        `yaml:"id"`
	Icon     string        `yaml:"icon"`
	Category string        `yaml:"category"`
	Title    Text          `yaml:"title"`
	Subtitle Text          `yaml:"subtitle"`
	Items    []ServiceItem `yaml:"items"`
}

// Mission is the kiosk's statement of purpose. Content is Markdown.
type Mission struct {
	Title   Text `yaml:"title"`
	Content Text `yaml:"content"`
}

// FAQ is a question with a Markdown answer.
type FAQ struct {
	Question Text `yaml:"question"`
	Answer   Text `yaml:"answer"`
}

// Catalog is the whole site content.
type Catalog struct {
	Business    Business        `yaml:"business"`
	Services    []Service       `yaml:"services"`
	Mission     Mission         `yaml:"mission"`
	WhyChooseUs []Text          `yaml:"why_choose_us"`
	FAQ         []FAQ           `yaml:"faq"`
	Labels      map[string]Text `yaml:"labels"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := catalog.validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func (catalog *Catalog) validate() error {
	if !catalog.Business.Name.complete() {
		return fmt.Errorf("%w: business name needs both languages", ErrInvalidCatalog)
	}
	seenIDs := make(map[string]struct{}, len(catalog.Services))
	seenCategories := make(map[string]struct{}, len(catalog.Services))
	for index, service := range catalog.Services {
		if strings.TrimSpace(service.ID) == "" || strings.TrimSpace(service.Category) == "" {
			return fmt.Errorf("%w: service %d needs an id and a category", ErrInvalidCatalog, index)
		}
		if _, duplicate := seenIDs[service.ID]; duplicate {
			return fmt.Errorf("%w: duplicate service id %s", ErrInvalidCatalog, service.ID)
		}
		if _, duplicate := seenCategories[service.Category]; duplicate {
			return fmt.Errorf("%w: duplicate service category %s", ErrInvalidCatalog, service.Category)
		}
		if !service.Title.complete() {
			return fmt.Errorf("%w: service %s needs a title in both languages", ErrInvalidCatalog, service.ID)
		}
		seenIDs[service.ID] = struct{}{}
		seenCategories[service.Category] = struct{}{}
	}
	if !catalog.Mission.Title.complete() || !catalog.Mission.Content.complete() {
		return fmt.Errorf("%w: mission needs a title and content in both languages", ErrInvalidCatalog)
	}
	for index, question := range catalog.FAQ {
		if !question.Question.complete() || !question.Answer.complete() {
			return fmt.Errorf("%w: faq %d needs both languages", ErrInvalidCatalog, index)
		}
	}
	return nil
}

// ServiceCategories lists the category values in catalog order.
func (catalog *Catalog) ServiceCategories() []string {
	categories := make([]string, 0, len(catalog.Services))
	for _, service := range catalog.Services {
		categories = append(categories, service.Category)
	}
	return categories
}

// ResolveServiceCategory returns the canonical category for a submitted value.
func (catalog *Catalog) ResolveServiceCategory(rawCategory string) (string, error) {
	trimmed := strings.TrimSpace(rawCategory)
	for _, service := range catalog.Services {
		if strings.EqualFold(service.Category, trimmed) || strings.EqualFold(service.ID, trimmed) {
			return service.Category, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownService, trimmed)
}

// Label returns the interface string for key, or the key itself when it is missing.
func (catalog *Catalog) Label(language Language, key string) string {
	text, found := catalog.Labels[key]
	if !found {
		return key
	}
	return text.In(language)
}

// LocalizedServiceItem is a ServiceItem in one language with rendered details.
type LocalizedServiceItem struct {
	Title   string
	Details template.HTML
}

// LocalizedService is a Service in one language.
type LocalizedService struct {
	ID       string
	Icon     string
	Category string
	Title    string
	Subtitle string
	Items    []LocalizedServiceItem
}

// LocalizedMission is the Mission in one language with rendered content.
type LocalizedMission struct {
	Title   string
	Content template.HTML
}

// LocalizedFAQ is an FAQ entry in one language with a rendered answer.
type LocalizedFAQ struct {
	Question string
	Answer   template.HTML
}

// LocalizedBusiness is Business in one language.
type LocalizedBusiness struct {
	Name       string
	Tagline    string
	Operator   string
	Address    string
	Phone      string
	Email      string
	Hours      string
	Disclaimer string
}

// Page is the catalog rendered for one language, ready for templates.
type Page struct {
	Language    Language
	Business    LocalizedBusiness
	Services    []LocalizedService
	Mission     LocalizedMission
	WhyChooseUs []string
	FAQ         []LocalizedFAQ
	labels      map[string]Text
}

// Label returns the interface string for key in the page language.
func (page Page) Label(key string) string {
	text, found := page.labels[key]
	if !found {
		return key
	}
	return text.In(page.Language)
}

// Localize renders the catalog for language, converting Markdown fields to HTML.
func (catalog *Catalog) Localize(language Language) (Page, error) {
	page := Page{
		Language: language,
		Business: LocalizedBusiness{
			Name:       catalog.Business.Name.In(language),
			Tagline:    catalog.Business.Tagline.In(language),
			Operator:   catalog.Business.Operator.In(language),
			Address:    catalog.Business.Address.In(language),
			Phone:      catalog.Business.Phone,
			Email:      catalog.Business.Email,
			Hours:      catalog.Business.Hours.In(language),
			Disclaimer: catalog.Business.Disclaimer.In(language),
		},
		labels: catalog.Labels,
	}

	for _, service := range catalog.Services {
		localized := LocalizedService{
			ID:       service.ID,
			Icon:     service.Icon,
			Category: service.Category,
			Title:    service.Title.In(language),
			Subtitle: service.Subtitle.In(language),
		}
		for _, item := range service.Items {
			details, renderErr := RenderMarkdown(item.Details.In(language))
			if renderErr != nil {
				return Page{}, fmt.Errorf("content: render service %s: %w", service.ID, renderErr)
			}
			localized.Items = append(localized.Items, LocalizedServiceItem{Title: item.Title.In(language), Details: details})
		}
		page.Services = append(page.Services, localized)
	}

	missionContent, renderErr := RenderMarkdown(catalog.Mission.Content.In(language))
	if renderErr != nil {
		return Page{}, fmt.Errorf("content: render mission: %w", renderErr)
	}
	page.Mission = LocalizedMission{Title: catalog.Mission.Title.In(language), Content: missionContent}

	for _, reason := range catalog.WhyChooseUs {
		page.WhyChooseUs = append(page.WhyChooseUs, reason.In(language))
	}

	for index, question := range catalog.FAQ {
		answer, renderErr := RenderMarkdown(question.Answer.In(language))
		if renderErr != nil {
			return Page{}, fmt.Errorf("content: render faq %d: %w", index, renderErr)
		}
		page.FAQ = append(page.FAQ, LocalizedFAQ{Question: question.Question.In(language), Answer: answer})
	}
	return page, nil
}
