package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MarkoPoloResearchLab/emitra/internal/console"
	"github.com/MarkoPoloResearchLab/emitra/internal/export"
	"github.com/MarkoPoloResearchLab/emitra/internal/storeclient"
)

const (
	flagNameRead     = "read"
	flagNameKind     = "kind"
	flagNameCategory = "category"
	flagNameSearch   = "search"
	flagNameFormat   = "format"
	flagNameOutput   = "output"
	flagNameInterval = "interval"
	flagNameCount    = "count"
	flagNameName     = "name"
	flagNamePhone    = "phone"
	flagNameEmail    = "email"
	flagNameMessage  = "message"
	flagNameInternal = "internal"

	kindContact        = "contact"
	kindServiceRequest = "serviceRequest"

	defaultWatchInterval = time.Minute
	standardOutputName   = "-"
	exportFileMode       = 0o644
)

var (
	errInvalidInquiryID  = errors.New("inquiry ids must be positive integers")
	errWatchFailed       = errors.New("refresh failed")
	errEventStreamFailed = errors.New("event stream failed")
)

type criteriaFlags struct {
	read     string
	kind     string
	category string
	search   string
}

func (flags *criteriaFlags) register(command *cobra.Command) {
	command.Flags().StringVar(&flags.read, flagNameRead, "", "read filter: all, read or unread")
	command.Flags().StringVar(&flags.kind, flagNameKind, "", "inquiry kind: contact or serviceRequest")
	command.Flags().StringVar(&flags.category, flagNameCategory, "", "service category")
	command.Flags().StringVar(&flags.search, flagNameSearch, "", "name or phone number search")
}

func (flags *criteriaFlags) criteria() (console.Criteria, error) {
	readFilter, parseErr := console.ParseReadFilter(flags.read)
	if parseErr != nil {
		return console.Criteria{}, parseErr
	}
	return console.Criteria{
		Read:            readFilter,
		Search:          flags.search,
		Kind:            flags.kind,
		ServiceCategory: flags.category,
	}, nil
}

func (application *AdminApplication) listCommand() *cobra.Command {
	var flags criteriaFlags
	command := &cobra.Command{
		Use:   "list",
		Short: "List inquiries",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			criteria, criteriaErr := flags.criteria()
			if criteriaErr != nil {
				return criteriaErr
			}
			adminSession, sessionErr := application.openSession(command)
			if sessionErr != nil {
				return sessionErr
			}
			defer adminSession.Close()

			if _, listErr := adminSession.controller.List(command.Context()); listErr != nil {
				return listErr
			}
			output := newPrinter(command.OutOrStdout(), command.ErrOrStderr())
			output.inquiries(adminSession.controller.Filter(criteria), adminSession.controller.Counts())
			return nil
		},
	}
	flags.register(command)
	return command
}

func (application *AdminApplication) markCommand(read bool) *cobra.Command {
	use, short := "mark-unread", "Mark inquiries as unread"
	if read {
		use, short = "mark-read", "Mark inquiries as read"
	}
	return &cobra.Command{
		Use:   use + " ID...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			identifiers, parseErr := parseIdentifiers(arguments)
			if parseErr != nil {
				return parseErr
			}
			adminSession, sessionErr := application.openSession(command)
			if sessionErr != nil {
				return sessionErr
			}
			defer adminSession.Close()

			result, bulkErr := adminSession.controller.BulkSetRead(command.Context(), identifiers, read)
			if bulkErr != nil {
				return bulkErr
			}
			output := newPrinter(command.OutOrStdout(), command.ErrOrStderr())
			if len(result.Succeeded) > 0 {
				output.successf("updated %s", joinIdentifiers(result.Succeeded))
			}
			return result.Err()
		},
	}
}

func (application *AdminApplication) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete inquiries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			identifiers, parseErr := parseIdentifiers(arguments)
			if parseErr != nil {
				return parseErr
			}
			adminSession, sessionErr := application.openSession(command)
			if sessionErr != nil {
				return sessionErr
			}
			defer adminSession.Close()

			output := newPrinter(command.OutOrStdout(), command.ErrOrStderr())
			var failures []error
			for _, identifier := range identifiers {
				if deleteErr := adminSession.controller.Delete(command.Context(), identifier); deleteErr != nil {
					failures = append(failures, fmt.Errorf("inquiry %d: %w", identifier, deleteErr))
					continue
				}
				output.successf("deleted %d", identifier)
			}
			return errors.Join(failures...)
		},
	}
}

func (application *AdminApplication) exportCommand() *cobra.Command {
	var (
		flags      criteriaFlags
		rawFormat  string
		outputPath string
	)
	command := &cobra.Command{
		Use:   "export",
		Short: "Export inquiries as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			format, formatErr := export.ParseFormat(rawFormat)
			if formatErr != nil {
				return formatErr
			}
			criteria, criteriaErr := flags.criteria()
			if criteriaErr != nil {
				return criteriaErr
			}
			adminSession, sessionErr := application.openSession(command)
			if sessionErr != nil {
				return sessionErr
			}
			defer adminSession.Close()

			if _, listErr := adminSession.controller.List(command.Context()); listErr != nil {
				return listErr
			}
			records := exportRecords(adminSession.controller.Filter(criteria))

			if outputPath == standardOutputName {
				return export.Write(command.OutOrStdout(), format, records)
			}
			if outputPath == "" {
				outputPath = format.FileName(application.now())
			}
			if writeErr := writeExportFile(outputPath, format, records); writeErr != nil {
				return writeErr
			}
			newPrinter(command.OutOrStdout(), command.ErrOrStderr()).successf("wrote %d inquiries to %s", len(records), outputPath)
			return nil
		},
	}
	flags.register(command)
	command.Flags().StringVar(&rawFormat, flagNameFormat, string(export.FormatCSV), "export format: csv or json")
	command.Flags().StringVar(&outputPath, flagNameOutput, standardOutputName, "output file, - for stdout, empty for a dated file name")
	return command
}

func (application *AdminApplication) watchCommand() *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	command := &cobra.Command{
		Use:   "watch",
		Short: "Follow the store and report new inquiries",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			adminSession, sessionErr := application.openSession(command)
			if sessionErr != nil {
				return sessionErr
			}
			defer adminSession.Close()

			output := newPrinter(command.OutOrStdout(), command.ErrOrStderr())
			watchContext, cancelWatch := context.WithCancel(command.Context())
			refreshes := make(chan console.Refresh)
			refresher := console.NewRefresher(interval, adminSession.controller, func(refresh console.Refresh) {
				select {
				case refreshes <- refresh:
				case <-watchContext.Done():
				}
			})
			refresher.Start(watchContext)
			defer refresher.Stop()

			streamFailures := make(chan error)
			streamDone := make(chan struct{})
			streamStarted := false
			defer func() {
				cancelWatch()
				if streamStarted {
					<-streamDone
				}
			}()

			seen := make(map[uint64]struct{})
			firstRefresh := true
			for completed := 0; count <= 0 || completed < count; {
				select {
				case <-watchContext.Done():
					return nil
				case streamErr := <-streamFailures:
					output.warningf("%s: %v", errEventStreamFailed, streamErr)
				case refresh := <-refreshes:
					completed++
					if refresh.Err != nil {
						output.warningf("%s: %v", errWatchFailed, refresh.Err)
						continue
					}
					var arrived []uint64
					for _, inquiry := range refresh.Inquiries {
						if inquiry.Placeholder {
							continue
						}
						if _, known := seen[inquiry.ID]; !known {
							seen[inquiry.ID] = struct{}{}
							arrived = append(arrived, inquiry.ID)
						}
					}
					fmt.Fprintf(command.OutOrStdout(), "%s ", export.Timestamp(refresh.At))
					output.counts(refresh.Counts)
					if !firstRefresh && len(arrived) > 0 {
						output.successf("new: %s", joinIdentifiers(arrived))
					}
					if firstRefresh {
						// Events only matter once the baseline listing is known.
						streamStarted = true
						go followEvents(watchContext, adminSession.controller, refresher, interval, streamFailures, streamDone)
					}
					firstRefresh = false
				}
			}
			return nil
		},
	}
	command.Flags().DurationVar(&interval, flagNameInterval, defaultWatchInterval, "polling interval, also the delay before reopening a dropped event stream")
	command.Flags().IntVar(&count, flagNameCount, 0, "stop after this many refreshes, 0 runs until interrupted")
	return command
}

// followEvents refetches on every stored inquiry the store announces. A
// notification with missed events needs no special case since each refetch
// loads the whole list. A dropped stream is reopened after one interval.
func followEvents(ctx context.Context, controller *console.Controller, refresher *console.Refresher, interval time.Duration, failures chan<- error, done chan<- struct{}) {
	defer close(done)
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	for ctx.Err() == nil {
		followErr := controller.Follow(ctx, func(console.Event) {
			refresher.Trigger()
		})
		if followErr != nil {
			select {
			case failures <- followErr:
			case <-ctx.Done():
				return
			}
		}
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (application *AdminApplication) submitCommand() *cobra.Command {
	var (
		request  storeclient.SubmitRequest
		internal bool
	)
	command := &cobra.Command{
		Use:   "submit",
		Short: "Submit an inquiry, publicly or as an internal counter record",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			var (
				identifier uint64
				submitErr  error
			)
			if internal {
				adminSession, sessionErr := application.openSession(command)
				if sessionErr != nil {
					return sessionErr
				}
				defer adminSession.Close()
				identifier, submitErr = adminSession.controller.SubmitInternal(command.Context(), request)
			} else {
				configuration := application.loadConfiguration()
				client, clientErr := application.newClient(configuration, application.newLogger(configuration, command.ErrOrStderr()))
				if clientErr != nil {
					return clientErr
				}
				identifier, submitErr = client.SubmitInquiry(command.Context(), request)
			}
			if submitErr != nil {
				return submitErr
			}
			newPrinter(command.OutOrStdout(), command.ErrOrStderr()).successf("submitted inquiry %d", identifier)
			return nil
		},
	}
	command.Flags().StringVar(&request.Kind, flagNameKind, kindContact, "inquiry kind: contact or serviceRequest")
	command.Flags().StringVar(&request.Name, flagNameName, "", "customer name")
	command.Flags().StringVar(&request.PhoneNumber, flagNamePhone, "", "10-digit mobile number")
	command.Flags().StringVar(&request.Email, flagNameEmail, "", "customer email")
	command.Flags().StringVar(&request.Message, flagNameMessage, "", "inquiry message")
	command.Flags().StringVar(&request.ServiceCategory, flagNameCategory, "", "service category, required for "+kindServiceRequest)
	command.Flags().BoolVar(&internal, flagNameInternal, false, "record as an internal inquiry using the admin session")
	return command
}

func (application *AdminApplication) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the store is reachable",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			configuration := application.loadConfiguration()
			client, clientErr := application.newClient(configuration, application.newLogger(configuration, command.ErrOrStderr()))
			if clientErr != nil {
				return clientErr
			}
			if healthErr := client.Health(command.Context()); healthErr != nil {
				return healthErr
			}
			newPrinter(command.OutOrStdout(), command.ErrOrStderr()).successf("store at %s is healthy", configuration.StoreURL)
			return nil
		},
	}
}

func parseIdentifiers(arguments []string) ([]uint64, error) {
	identifiers := make([]uint64, 0, len(arguments))
	for _, argument := range arguments {
		identifier, parseErr := strconv.ParseUint(strings.TrimSpace(argument), 10, 64)
		if parseErr != nil || identifier == console.PlaceholderID {
			return nil, fmt.Errorf("%w: %q", errInvalidInquiryID, argument)
		}
		identifiers = append(identifiers, identifier)
	}
	return identifiers, nil
}

func joinIdentifiers(identifiers []uint64) string {
	parts := make([]string, 0, len(identifiers))
	for _, identifier := range identifiers {
		parts = append(parts, strconv.FormatUint(identifier, 10))
	}
	return strings.Join(parts, ", ")
}

// exportRecords converts fetched inquiries, leaving out the demo record.
func exportRecords(inquiries []console.Inquiry) []export.Record {
	records := make([]export.Record, 0, len(inquiries))
	for _, inquiry := range inquiries {
		if inquiry.Placeholder {
			continue
		}
		records = append(records, export.Record{
			ID:              inquiry.ID,
			CreatedAt:       inquiry.CreatedAt,
			Kind:            inquiry.Kind,
			Name:            inquiry.Name,
			PhoneNumber:     inquiry.PhoneNumber,
			Email:           inquiry.Email,
			ServiceCategory: inquiry.ServiceCategory,
			Message:         inquiry.Message,
			Internal:        inquiry.Internal,
			Read:            inquiry.Read,
		})
	}
	return records
}

func writeExportFile(path string, format export.Format, records []export.Record) (err error) {
	file, openErr := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, exportFileMode)
	if openErr != nil {
		return openErr
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return export.Write(file, format, records)
}
