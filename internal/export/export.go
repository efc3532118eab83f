// Package export writes inquiry lists as CSV or JSON downloads.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"

	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeJSON = "application/json"

	timestampLayout    = "02/01/2006, 15:04:05"
	fileNameDateLayout = "2006-01-02"
	fileNamePrefix     = "inquiries-"

	kindServiceRequest  = "serviceRequest"
	labelContact        = "Contact"
	labelServiceRequest = "Service Request"
	labelYes            = "Yes"
	labelNo             = "No"
)

var ErrUnknownFormat = errors.New("export: unknown format")

// India Standard Time has no daylight saving, so a fixed zone avoids a tzdata dependency.
var indiaStandardTime = time.FixedZone("IST", 5*60*60+30*60)

var csvHeader = []string{
	"ID",
	"Timestamp",
	"Type",
	"Name",
	"Phone",
	"Email",
	"Service Category",
	"Message",
	"Internal",
	"Read",
}

// Record is one exported inquiry.
type Record struct {
	ID              uint64    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Kind            string    `json:"kind"`
	Name            string    `json:"name"`
	PhoneNumber     string    `json:"phone_number"`
	Email           string    `json:"email,omitempty"`
	ServiceCategory string    `json:"service_category,omitempty"`
	Message         string    `json:"message"`
	Internal        bool      `json:"internal"`
	Read            bool      `json:"read"`
}

// ParseFormat accepts "csv" and "json"; empty means CSV.
func ParseFormat(rawFormat string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(rawFormat))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, rawFormat)
	}
}

// ContentType returns the MIME type for the format.
func (format Format) ContentType() string {
	if format == FormatJSON {
		return contentTypeJSON
	}
	return contentTypeCSV
}

// FileName returns the download name for an export taken at moment.
func (format Format) FileName(moment time.Time) string {
	return fileNamePrefix + moment.In(indiaStandardTime).Format(fileNameDateLayout) + "." + string(format)
}

// Timestamp formats moment the way exports and the admin panel show it, in IST.
func Timestamp(moment time.Time) string {
	return moment.In(indiaStandardTime).Format(timestampLayout)
}

// Write encodes records in the given format.
func Write(writer io.Writer, format Format, records []Record) error {
	switch format {
	case FormatCSV:
		return WriteCSV(writer, records)
	case FormatJSON:
		return WriteJSON(writer, records)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// WriteCSV writes a header row and one row per record, timestamps in IST.
func WriteCSV(writer io.Writer, records []Record) error {
	csvWriter := csv.NewWriter(writer)
	if err := csvWriter.Write(csvHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, record := range records {
		row := []string{
			strconv.FormatUint(record.ID, 10),
			Timestamp(record.CreatedAt),
			kindLabel(record.Kind),
			record.Name,
			record.PhoneNumber,
			record.Email,
			record.ServiceCategory,
			record.Message,
			yesNo(record.Internal),
			yesNo(record.Read),
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("export: write row %d: %w", record.ID, err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// WriteJSON writes the records as an indented JSON array.
func WriteJSON(writer io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("export: encode json: %w", err)
	}
	return nil
}

func kindLabel(kind string) string {
	if kind == kindServiceRequest {
		return labelServiceRequest
	}
	return labelContact
}

func yesNo(value bool) string {
	if value {
		return labelYes
	}
	return labelNo
}
