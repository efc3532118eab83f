package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/emitra/internal/model"
)

const (
	defaultRateWindow              = 30 * time.Second
	defaultMaxRequestsPerIPPerSpan = 6

	errorValueRateLimited = "rate_limited"
)

// InquiryStore is the persistence the handlers depend on.
type InquiryStore interface {
	Create(ctx context.Context, inquiry *model.Inquiry) error
	List(ctx context.Context) ([]model.Inquiry, error)
	Get(ctx context.Context, identifier uint64) (model.Inquiry, error)
	SetRead(ctx context.Context, identifier uint64, read bool) error
	Delete(ctx context.Context, identifier uint64) error
	CountUnread(ctx context.Context) (int64, error)
}

// ServiceCatalog maps submitted service categories to their canonical names.
type ServiceCatalog interface {
	ResolveServiceCategory(rawCategory string) (string, error)
}

// RateLimiter counts requests per client in fixed time buckets.
type RateLimiter struct {
	window        time.Duration
	maxRequests   int
	now           func() time.Time
	countersMutex sync.Mutex
	countersByIP  map[string]int
	currentBucket int64
}

// NewRateLimiter allows maxRequests per client within each window.
func NewRateLimiter(window time.Duration, maxRequests int) *RateLimiter {
	if window < time.Second {
		window = defaultRateWindow
	}
	if maxRequests <= 0 {
		maxRequests = defaultMaxRequestsPerIPPerSpan
	}
	return &RateLimiter{
		window:       window,
		maxRequests:  maxRequests,
		now:          time.Now,
		countersByIP: make(map[string]int),
	}
}

// Limited records one request from ip and reports whether it exceeds the budget.
func (limiter *RateLimiter) Limited(ip string) bool {
	nowBucket := limiter.now().Unix() / int64(limiter.window.Seconds())
	key := fmt.Sprintf("%s:%d", ip, nowBucket)

	limiter.countersMutex.Lock()
	defer limiter.countersMutex.Unlock()

	if nowBucket != limiter.currentBucket {
		limiter.countersByIP = make(map[string]int)
		limiter.currentBucket = nowBucket
	}
	limiter.countersByIP[key]++
	return limiter.countersByIP[key] > limiter.maxRequests
}

// PublicHandlers accepts inquiries from the public site and API clients.
type PublicHandlers struct {
	store       InquiryStore
	catalog     ServiceCatalog
	logger      *zap.Logger
	limiter     *RateLimiter
	broadcaster *InquiryEventBroadcaster
}

func NewPublicHandlers(store InquiryStore, catalog ServiceCatalog, logger *zap.Logger, limiter *RateLimiter, broadcaster *InquiryEventBroadcaster) *PublicHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewRateLimiter(defaultRateWindow, defaultMaxRequestsPerIPPerSpan)
	}
	return &PublicHandlers{
		store:       store,
		catalog:     catalog,
		logger:      logger,
		limiter:     limiter,
		broadcaster: broadcaster,
	}
}

type createInquiryRequest struct {
	Kind            string `json:"kind"`
	Name            string `json:"name"`
	PhoneNumber     string `json:"phone_number"`
	Email           string `json:"email"`
	Message         string `json:"message"`
	ServiceCategory string `json:"service_category"`
}

func (request createInquiryRequest) input(internal bool) model.InquiryInput {
	return model.InquiryInput{
		Kind:            request.Kind,
		Name:            request.Name,
		PhoneNumber:     request.PhoneNumber,
		Email:           request.Email,
		Message:         request.Message,
		ServiceCategory: request.ServiceCategory,
		Internal:        internal,
	}
}

// CreateInquiry stores a public submission and returns its identifier.
func (handlers *PublicHandlers) CreateInquiry(context *gin.Context) {
	if handlers.limiter.Limited(context.ClientIP()) {
		context.JSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
		return
	}

	var payload createInquiryRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	inquiry, saveErr := saveInquiry(context.Request.Context(), handlers.store, handlers.catalog, handlers.broadcaster, handlers.logger, payload.input(false))
	if saveErr != nil {
		respondInquiryError(context, saveErr)
		return
	}
	context.JSON(http.StatusCreated, gin.H{"id": inquiry.ID})
}

// SubmitForm is used by the web contact form; it shares validation with CreateInquiry.
func (handlers *PublicHandlers) SubmitForm(ctx context.Context, clientIP string, input model.InquiryInput) (model.Inquiry, error) {
	if handlers.limiter.Limited(clientIP) {
		return model.Inquiry{}, errRateLimited
	}
	input.Internal = false
	return saveInquiry(ctx, handlers.store, handlers.catalog, handlers.broadcaster, handlers.logger, input)
}

var errRateLimited = errors.New(errorValueRateLimited)

func buildInquiry(catalog ServiceCatalog, input model.InquiryInput) (model.Inquiry, error) {
	inquiry, validationErr := model.NewInquiry(input)
	if validationErr != nil {
		return model.Inquiry{}, validationErr
	}
	if inquiry.ServiceCategory != "" && catalog != nil {
		resolvedCategory, resolveErr := catalog.ResolveServiceCategory(inquiry.ServiceCategory)
		if resolveErr != nil {
			return model.Inquiry{}, fmt.Errorf("%w: %v", model.ErrInvalidInquiryCategory, resolveErr)
		}
		inquiry.ServiceCategory = resolvedCategory
	}
	return inquiry, nil
}

func saveInquiry(ctx context.Context, store InquiryStore, catalog ServiceCatalog, broadcaster *InquiryEventBroadcaster, logger *zap.Logger, input model.InquiryInput) (model.Inquiry, error) {
	inquiry, buildErr := buildInquiry(catalog, input)
	if buildErr != nil {
		return model.Inquiry{}, buildErr
	}
	if createErr := store.Create(ctx, &inquiry); createErr != nil {
		logger.Warn("save_inquiry", zap.Error(createErr))
		return model.Inquiry{}, createErr
	}
	broadcastInquiryEvent(ctx, store, logger, broadcaster, inquiry)
	return inquiry, nil
}

var inquiryValidationErrors = []error{
	model.ErrInvalidInquiryKind,
	model.ErrInvalidInquiryName,
	model.ErrInvalidInquiryPhone,
	model.ErrInvalidInquiryEmail,
	model.ErrInvalidInquiryMessage,
	model.ErrInvalidInquiryCategory,
}

// validationErrorValue returns the sentinel's value for validation failures, or "" otherwise.
func validationErrorValue(err error) string {
	for _, sentinel := range inquiryValidationErrors {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func respondInquiryError(context *gin.Context, err error) {
	if value := validationErrorValue(err); value != "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: value})
		return
	}
	if errors.Is(err, errRateLimited) {
		context.JSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
		return
	}
	context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
}
