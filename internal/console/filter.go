package console

import (
	"fmt"
	"strings"
)

// ReadFilter selects inquiries by read flag.
type ReadFilter string

const (
	ReadFilterAll    ReadFilter = ""
	ReadFilterRead   ReadFilter = "read"
	ReadFilterUnread ReadFilter = "unread"
)

// ParseReadFilter accepts "", "all", "read" and "unread".
func ParseReadFilter(rawFilter string) (ReadFilter, error) {
	switch strings.ToLower(strings.TrimSpace(rawFilter)) {
	case "", "all":
		return ReadFilterAll, nil
	case string(ReadFilterRead):
		return ReadFilterRead, nil
	case string(ReadFilterUnread):
		return ReadFilterUnread, nil
	default:
		return ReadFilterAll, fmt.Errorf("unknown read filter %q", rawFilter)
	}
}

// Criteria narrows the fetched inquiry set. Empty fields match everything.
type Criteria struct {
	Read            ReadFilter
	Search          string
	Kind            string
	ServiceCategory string
}

// FilterInquiries returns the inquiries matching every criterion, in input order.
// Search matches the name case-insensitively or the phone number by digits.
func FilterInquiries(inquiries []Inquiry, criteria Criteria) []Inquiry {
	search := strings.ToLower(strings.TrimSpace(criteria.Search))
	searchDigits := digitsOnly(search)
	kind := strings.TrimSpace(criteria.Kind)
	category := strings.TrimSpace(criteria.ServiceCategory)

	matches := make([]Inquiry, 0, len(inquiries))
	for _, inquiry := range inquiries {
		switch criteria.Read {
		case ReadFilterRead:
			if !inquiry.Read {
				continue
			}
		case ReadFilterUnread:
			if inquiry.Read {
				continue
			}
		}
		if kind != "" && !strings.EqualFold(inquiry.Kind, kind) {
			continue
		}
		if category != "" && !strings.EqualFold(strings.TrimSpace(inquiry.ServiceCategory), category) {
			continue
		}
		if search != "" {
			nameMatches := strings.Contains(strings.ToLower(inquiry.Name), search)
			phoneMatches := searchDigits != "" && strings.Contains(digitsOnly(inquiry.PhoneNumber), searchDigits)
			if !nameMatches && !phoneMatches {
				continue
			}
		}
		matches = append(matches, inquiry)
	}
	return matches
}

// ServiceCategories lists the distinct non-empty categories in first-seen order.
func ServiceCategories(inquiries []Inquiry) []string {
	seen := make(map[string]struct{})
	var categories []string
	for _, inquiry := range inquiries {
		category := strings.TrimSpace(inquiry.ServiceCategory)
		if category == "" {
			continue
		}
		if _, found := seen[category]; found {
			continue
		}
		seen[category] = struct{}{}
		categories = append(categories, category)
	}
	return categories
}

func digitsOnly(value string) string {
	var builder strings.Builder
	for _, character := range value {
		if character >= '0' && character <= '9' {
			builder.WriteRune(character)
		}
	}
	return builder.String()
}
