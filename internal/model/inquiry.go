package model

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// InquiryKind distinguishes general contact messages from service requests.
type InquiryKind string

const (
	InquiryKindContact        InquiryKind = "contact"
	InquiryKindServiceRequest InquiryKind = "serviceRequest"

	inquiryNameMaxLength     = 200
	inquiryPhoneMaxLength    = 32
	inquiryEmailMaxLength    = 320
	inquiryMessageMaxLength  = 4000
	inquiryCategoryMaxLength = 120
)

var (
	ErrInvalidInquiryKind     = errors.New("invalid_inquiry_kind")
	ErrInvalidInquiryName     = errors.New("invalid_inquiry_name")
	ErrInvalidInquiryPhone    = errors.New("invalid_inquiry_phone")
	ErrInvalidInquiryEmail    = errors.New("invalid_inquiry_email")
	ErrInvalidInquiryMessage  = errors.New("invalid_inquiry_message")
	ErrInvalidInquiryCategory = errors.New("invalid_inquiry_category")
)

// Indian mobile numbers: ten digits starting with 6-9.
var inquiryPhoneExpression = regexp.MustCompile(`^[6-9][0-9]{9}$`)

// Inquiry is a customer-submitted contact or service-request record.
// ID and CreatedAt are assigned by the store; Internal never changes after creation.
type Inquiry struct {
	ID              uint64      `gorm:"primaryKey;autoIncrement"`
	Kind            InquiryKind `gorm:"not null;size:32;index"`
	Name            string      `gorm:"not null;size:200"`
	PhoneNumber     string      `gorm:"not null;size:32;index"`
	Email           string      `gorm:"size:320"`
	Message         string      `gorm:"not null;size:4000"`
	ServiceCategory string      `gorm:"size:120;index"`
	Read            bool        `gorm:"not null;default:false;index"`
	Internal        bool        `gorm:"not null;default:false"`
	CreatedAt       time.Time   `gorm:"autoCreateTime"`
}

// InquiryInput holds the raw values used to construct an Inquiry.
type InquiryInput struct {
	Kind            string
	Name            string
	PhoneNumber     string
	Email           string
	Message         string
	ServiceCategory string
	Internal        bool
}

// ParseInquiryKind normalizes a kind value. An empty value means a general contact.
func ParseInquiryKind(rawKind string) (InquiryKind, error) {
	trimmed := strings.TrimSpace(rawKind)
	switch strings.ToLower(trimmed) {
	case "", strings.ToLower(string(InquiryKindContact)):
		return InquiryKindContact, nil
	case strings.ToLower(string(InquiryKindServiceRequest)), "service_request", "service-request":
		return InquiryKindServiceRequest, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidInquiryKind, trimmed)
	}
}

// NewInquiry constructs an unread Inquiry with validated, normalized fields.
func NewInquiry(input InquiryInput) (Inquiry, error) {
	kind, kindErr := ParseInquiryKind(input.Kind)
	if kindErr != nil {
		return Inquiry{}, kindErr
	}

	name := strings.TrimSpace(input.Name)
	if name == "" || len(name) > inquiryNameMaxLength {
		return Inquiry{}, fmt.Errorf("%w: empty or too long", ErrInvalidInquiryName)
	}

	phoneNumber := normalizePhoneNumber(input.PhoneNumber)
	if len(phoneNumber) > inquiryPhoneMaxLength || !inquiryPhoneExpression.MatchString(phoneNumber) {
		return Inquiry{}, fmt.Errorf("%w: %s", ErrInvalidInquiryPhone, strings.TrimSpace(input.PhoneNumber))
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email != "" {
		if len(email) > inquiryEmailMaxLength {
			return Inquiry{}, fmt.Errorf("%w: too long", ErrInvalidInquiryEmail)
		}
		if _, parseErr := mail.ParseAddress(email); parseErr != nil {
			return Inquiry{}, fmt.Errorf("%w: %v", ErrInvalidInquiryEmail, parseErr)
		}
	}

	message := strings.TrimSpace(input.Message)
	if message == "" || len(message) > inquiryMessageMaxLength {
		return Inquiry{}, fmt.Errorf("%w: empty or too long", ErrInvalidInquiryMessage)
	}

	serviceCategory := strings.TrimSpace(input.ServiceCategory)
	if len(serviceCategory) > inquiryCategoryMaxLength {
		return Inquiry{}, fmt.Errorf("%w: too long", ErrInvalidInquiryCategory)
	}
	if kind == InquiryKindServiceRequest && serviceCategory == "" {
		return Inquiry{}, fmt.Errorf("%w: required for service requests", ErrInvalidInquiryCategory)
	}

	return Inquiry{
		Kind:            kind,
		Name:            name,
		PhoneNumber:     phoneNumber,
		Email:           email,
		Message:         message,
		ServiceCategory: serviceCategory,
		Internal:        input.Internal,
	}, nil
}

// normalizePhoneNumber strips separators and an optional +91/0 prefix.
func normalizePhoneNumber(rawPhoneNumber string) string {
	var builder strings.Builder
	for _, character := range strings.TrimSpace(rawPhoneNumber) {
		if character >= '0' && character <= '9' {
			builder.WriteRune(character)
		}
	}
	digits := builder.String()
	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		return digits[2:]
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		return digits[1:]
	default:
		return digits
	}
}
