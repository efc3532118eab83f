package console

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarkoPoloResearchLab/emitra/internal/storeclient"
)

const (
	// PlaceholderID marks the display-only record returned for an empty store.
	PlaceholderID uint64 = 0

	defaultBulkConcurrency = 4

	placeholderName    = "Demo Inquiry / डेमो पूछताछ"
	placeholderPhone   = "9000000000"
	placeholderMessage = "No inquiries have been submitted yet. This sample is shown for display only."

	logEventSelfHeal       = "inquiry_session_self_heal"
	logEventBulkPartial    = "inquiry_bulk_partial_failure"
	logFieldOperation      = "operation"
	logFieldFailedCount    = "failed"
	logFieldSucceededCount = "succeeded"
	operationList          = "list"
	operationSetRead       = "set_read"
	operationDelete        = "delete"
	operationFollow        = "follow"
)

// Inquiry is the console's view of a stored inquiry.
type Inquiry = storeclient.Inquiry

// Event announces an inquiry stored after the stream opened.
type Event = storeclient.InquiryEvent

// BulkResult reports per-inquiry outcomes of a bulk update. There is no rollback.
type BulkResult struct {
	Succeeded []uint64
	Failed    map[uint64]error
}

// Err joins the individual failures, or returns nil when every update applied.
func (result BulkResult) Err() error {
	if len(result.Failed) == 0 {
		return nil
	}
	identifiers := make([]uint64, 0, len(result.Failed))
	for identifier := range result.Failed {
		identifiers = append(identifiers, identifier)
	}
	sort.Slice(identifiers, func(left, right int) bool { return identifiers[left] < identifiers[right] })
	failures := make([]error, 0, len(identifiers))
	for _, identifier := range identifiers {
		failures = append(failures, result.Failed[identifier])
	}
	return errors.Join(failures...)
}

// Counts summarizes the fetched set.
type Counts struct {
	Total  int
	Unread int
	Read   int
}

// Controller fetches and mutates inquiries through a ready handle.
type Controller struct {
	initializer     *Initializer
	logger          *zap.Logger
	bulkConcurrency int
	now             func() time.Time

	mutex     sync.Mutex
	inquiries []Inquiry
}

// NewController builds a Controller over the initializer's handle.
func NewController(initializer *Initializer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		initializer:     initializer,
		logger:          logger,
		bulkConcurrency: defaultBulkConcurrency,
		now:             time.Now,
	}
}

// PlaceholderInquiry returns the synthetic record shown for an empty store.
func PlaceholderInquiry(createdAt time.Time) Inquiry {
	return Inquiry{
		ID:          PlaceholderID,
		Kind:        "contact",
		Name:        placeholderName,
		PhoneNumber: placeholderPhone,
		Message:     placeholderMessage,
		Internal:    true,
		CreatedAt:   createdAt.UTC(),
		Placeholder: true,
	}
}

// List fetches every inquiry. An empty store yields exactly one placeholder record.
func (controller *Controller) List(ctx context.Context) ([]Inquiry, error) {
	var fetched []Inquiry
	fetchErr := controller.withHandle(ctx, operationList, func(handle *Handle) error {
		inquiries, listErr := handle.backend.ListInquiries(ctx, handle.token)
		if listErr != nil {
			return listErr
		}
		fetched = inquiries
		return nil
	})
	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(fetched) == 0 {
		fetched = []Inquiry{PlaceholderInquiry(controller.now())}
	}

	controller.mutex.Lock()
	controller.inquiries = append([]Inquiry(nil), fetched...)
	controller.mutex.Unlock()
	return append([]Inquiry(nil), fetched...), nil
}

// SetRead changes one inquiry's read flag.
func (controller *Controller) SetRead(ctx context.Context, identifier uint64, read bool) error {
	if identifier == PlaceholderID {
		return ErrPlaceholderRecord
	}
	mutationErr := controller.withHandle(ctx, operationSetRead, func(handle *Handle) error {
		return handle.backend.SetInquiryRead(ctx, handle.token, identifier, read)
	})
	if mutationErr != nil {
		return mutationErr
	}
	controller.applyRead([]uint64{identifier}, read)
	return nil
}

// Delete removes one inquiry.
func (controller *Controller) Delete(ctx context.Context, identifier uint64) error {
	if identifier == PlaceholderID {
		return ErrPlaceholderRecord
	}
	mutationErr := controller.withHandle(ctx, operationDelete, func(handle *Handle) error {
		return handle.backend.DeleteInquiry(ctx, handle.token, identifier)
	})
	if mutationErr != nil {
		return mutationErr
	}

	controller.mutex.Lock()
	remaining := controller.inquiries[:0]
	for _, inquiry := range controller.inquiries {
		if inquiry.ID != identifier {
			remaining = append(remaining, inquiry)
		}
	}
	controller.inquiries = remaining
	controller.mutex.Unlock()
	return nil
}

// SubmitInternal records an inquiry taken at the counter. Creation is not
// idempotent, so a failure is surfaced without the session self-heal.
func (controller *Controller) SubmitInternal(ctx context.Context, request storeclient.SubmitRequest) (uint64, error) {
	handle, readyErr := controller.initializer.ReadyHandle()
	if readyErr != nil {
		return 0, readyErr
	}
	identifier, submitErr := handle.backend.SubmitInternalInquiry(ctx, handle.token, request)
	if submitErr != nil {
		return 0, dataFetchError(Normalize(submitErr))
	}
	return identifier, nil
}

// BulkSetRead fans out one store call per distinct identifier, best effort.
// The returned error is non-nil only when no call could be made.
func (controller *Controller) BulkSetRead(ctx context.Context, identifiers []uint64, read bool) (BulkResult, error) {
	handle, readyErr := controller.initializer.ReadyHandle()
	if readyErr != nil {
		return BulkResult{}, readyErr
	}

	result := BulkResult{Failed: make(map[uint64]error)}
	var resultMutex sync.Mutex
	group, groupContext := errgroup.WithContext(ctx)
	group.SetLimit(controller.bulkConcurrency)

	seen := make(map[uint64]struct{}, len(identifiers))
	for _, identifier := range identifiers {
		if _, duplicate := seen[identifier]; duplicate {
			continue
		}
		seen[identifier] = struct{}{}
		if identifier == PlaceholderID {
			result.Failed[identifier] = ErrPlaceholderRecord
			continue
		}
		identifier := identifier
		group.Go(func() error {
			updateErr := handle.backend.SetInquiryRead(groupContext, handle.token, identifier, read)
			resultMutex.Lock()
			defer resultMutex.Unlock()
			if updateErr != nil {
				result.Failed[identifier] = Normalize(updateErr)
				return nil
			}
			result.Succeeded = append(result.Succeeded, identifier)
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(result.Succeeded, func(left, right int) bool { return result.Succeeded[left] < result.Succeeded[right] })
	controller.applyRead(result.Succeeded, read)
	if len(result.Failed) > 0 {
		controller.logger.Warn(logEventBulkPartial,
			zap.Int(logFieldSucceededCount, len(result.Succeeded)),
			zap.Int(logFieldFailedCount, len(result.Failed)),
		)
	}
	return result, nil
}

// Inquiries returns the last fetched set.
func (controller *Controller) Inquiries() []Inquiry {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return append([]Inquiry(nil), controller.inquiries...)
}

// Filter applies criteria to the last fetched set without calling the store.
func (controller *Controller) Filter(criteria Criteria) []Inquiry {
	return FilterInquiries(controller.Inquiries(), criteria)
}

// Counts tallies the last fetched set, excluding the placeholder.
func (controller *Controller) Counts() Counts {
	return CountInquiries(controller.Inquiries())
}

// CountInquiries tallies inquiries, excluding the placeholder.
func CountInquiries(inquiries []Inquiry) Counts {
	var counts Counts
	for _, inquiry := range inquiries {
		if inquiry.Placeholder {
			continue
		}
		counts.Total++
		if inquiry.Read {
			counts.Read++
		} else {
			counts.Unread++
		}
	}
	return counts
}

// Follow relays store events to onEvent until ctx ends or the store closes
// the stream. A rejected stream gets the same one-time self-heal as List.
func (controller *Controller) Follow(ctx context.Context, onEvent func(Event)) error {
	followErr := controller.withHandle(ctx, operationFollow, func(handle *Handle) error {
		return handle.backend.StreamInquiryEvents(ctx, handle.token, onEvent)
	})
	if ctx.Err() != nil {
		return nil
	}
	return followErr
}

// withHandle runs call through the ready handle. A failure gets one session
// self-heal (rerun initialization, retry once) before it is surfaced.
func (controller *Controller) withHandle(ctx context.Context, operation string, call func(*Handle) error) error {
	handle, readyErr := controller.initializer.ReadyHandle()
	if readyErr != nil {
		return readyErr
	}

	callErr := call(handle)
	if callErr == nil {
		return nil
	}
	normalized := Normalize(callErr)
	if normalized.Kind != KindAuthorization && normalized.Kind != KindTransient {
		return dataFetchError(normalized)
	}

	controller.logger.Warn(logEventSelfHeal, zap.String(logFieldOperation, operation), zap.Error(normalized))
	healedHandle, healErr := controller.initializer.Retry(ctx)
	if healErr != nil {
		return dataFetchError(Normalize(healErr))
	}
	if retryErr := call(healedHandle); retryErr != nil {
		return dataFetchError(Normalize(retryErr))
	}
	return nil
}

func (controller *Controller) applyRead(identifiers []uint64, read bool) {
	if len(identifiers) == 0 {
		return
	}
	updated := make(map[uint64]struct{}, len(identifiers))
	for _, identifier := range identifiers {
		updated[identifier] = struct{}{}
	}
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	for index := range controller.inquiries {
		if _, found := updated[controller.inquiries[index].ID]; found {
			controller.inquiries[index].Read = read
		}
	}
}

func dataFetchError(cause *Error) *Error {
	if isSessionChanged(cause) {
		return cause
	}
	return &Error{Kind: KindDataFetch, Message: "the inquiry request failed", Err: cause}
}
