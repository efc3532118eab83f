package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/MarkoPoloResearchLab/emitra/internal/console"
	"github.com/MarkoPoloResearchLab/emitra/internal/export"
)

const (
	messagePreviewLength = 40
	statusUnread         = "unread"
	statusRead           = "read"
	statusDemo           = "demo"
	kindInternalSuffix   = " (internal)"
	placeholderIDText    = "-"
)

var recoveryHints = map[console.Recovery]string{
	console.RecoveryRetry:  "try the command again",
	console.RecoveryLogout: "check the operator credentials and admin secret, then log in again",
}

// printer writes human-readable results; color is dropped when the output is not a terminal.
type printer struct {
	out       io.Writer
	errOut    io.Writer
	heading   *color.Color
	success   *color.Color
	warning   *color.Color
	failed    *color.Color
	secondary *color.Color
}

func newPrinter(out io.Writer, errOut io.Writer) *printer {
	return &printer{
		out:       out,
		errOut:    errOut,
		heading:   color.New(color.FgCyan, color.Bold),
		success:   color.New(color.FgGreen),
		warning:   color.New(color.FgYellow),
		failed:    color.New(color.FgRed, color.Bold),
		secondary: color.New(color.FgHiBlack),
	}
}

func (printer *printer) inquiries(inquiries []console.Inquiry, counts console.Counts) {
	writer := tabwriter.NewWriter(printer.out, 0, 0, 2, ' ', 0)
	printer.heading.Fprintln(writer, "ID\tRECEIVED\tKIND\tNAME\tPHONE\tCATEGORY\tSTATUS\tMESSAGE")
	for _, inquiry := range inquiries {
		identifier := strconv.FormatUint(inquiry.ID, 10)
		status := printer.warning.Sprint(statusUnread)
		switch {
		case inquiry.Placeholder:
			identifier = placeholderIDText
			status = printer.secondary.Sprint(statusDemo)
		case inquiry.Read:
			status = printer.success.Sprint(statusRead)
		}
		kind := inquiry.Kind
		if inquiry.Internal && !inquiry.Placeholder {
			kind += kindInternalSuffix
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			identifier,
			export.Timestamp(inquiry.CreatedAt),
			kind,
			inquiry.Name,
			inquiry.PhoneNumber,
			inquiry.ServiceCategory,
			status,
			preview(inquiry.Message),
		)
	}
	_ = writer.Flush()
	printer.counts(counts)
}

func (printer *printer) counts(counts console.Counts) {
	fmt.Fprintf(printer.out, "total %d, unread %s, read %d\n",
		counts.Total,
		printer.warning.Sprint(counts.Unread),
		counts.Read,
	)
}

func (printer *printer) successf(format string, arguments ...any) {
	printer.success.Fprintf(printer.out, format+"\n", arguments...)
}

func (printer *printer) warningf(format string, arguments ...any) {
	printer.warning.Fprintf(printer.errOut, format+"\n", arguments...)
}

// failure prints err and, for console failures, the recovery the operator should take.
func (printer *printer) failure(err error) {
	printer.failed.Fprint(printer.errOut, "Error: ")
	fmt.Fprintln(printer.errOut, err)
	var consoleError *console.Error
	if errors.As(err, &consoleError) {
		if hint, found := recoveryHints[consoleError.Recovery()]; found {
			printer.secondary.Fprintf(printer.errOut, "hint: %s\n", hint)
		}
	}
}

func preview(message string) string {
	singleLine := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(singleLine) <= messagePreviewLength {
		return singleLine
	}
	runes := []rune(singleLine)
	return string(runes[:messagePreviewLength-1]) + "…"
}
