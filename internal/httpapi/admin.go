package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/emitra/internal/export"
	"github.com/MarkoPoloResearchLab/emitra/internal/model"
	"github.com/MarkoPoloResearchLab/emitra/internal/storage"
)

const (
	jsonKeyError     = "error"
	jsonKeyInquiries = "inquiries"

	errorValueInvalidJSON       = "invalid_json"
	errorValueSaveFailed        = "save_failed"
	errorValueQueryFailed       = "query_failed"
	errorValueDeleteFailed      = "delete_failed"
	errorValueInvalidInquiryID  = "invalid_inquiry_id"
	errorValueUnknownInquiry    = "unknown_inquiry"
	errorValueNothingToUpdate   = "nothing_to_update"
	errorValueInvalidFormat     = "invalid_format"
	errorValueStreamUnavailable = "stream_unavailable"

	inquiryCreatedEventName  = "inquiry_created"
	headerContentDisposition = "Content-Disposition"
)

// InquiryHandlers serves the admin inquiry API.
type InquiryHandlers struct {
	store       InquiryStore
	catalog     ServiceCatalog
	logger      *zap.Logger
	broadcaster *InquiryEventBroadcaster
	now         func() time.Time
}

func NewInquiryHandlers(store InquiryStore, catalog ServiceCatalog, logger *zap.Logger, broadcaster *InquiryEventBroadcaster) *InquiryHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InquiryHandlers{
		store:       store,
		catalog:     catalog,
		logger:      logger,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

type inquiryResponse struct {
	ID              uint64 `json:"id"`
	Kind            string `json:"kind"`
	Name            string `json:"name"`
	PhoneNumber     string `json:"phone_number"`
	Email           string `json:"email,omitempty"`
	Message         string `json:"message"`
	ServiceCategory string `json:"service_category,omitempty"`
	Read            bool   `json:"read"`
	Internal        bool   `json:"internal"`
	CreatedAt       int64  `json:"created_at"`
}

func newInquiryResponse(inquiry model.Inquiry) inquiryResponse {
	return inquiryResponse{
		ID:              inquiry.ID,
		Kind:            string(inquiry.Kind),
		Name:            inquiry.Name,
		PhoneNumber:     inquiry.PhoneNumber,
		Email:           inquiry.Email,
		Message:         inquiry.Message,
		ServiceCategory: inquiry.ServiceCategory,
		Read:            inquiry.Read,
		Internal:        inquiry.Internal,
		CreatedAt:       inquiry.CreatedAt.UTC().Unix(),
	}
}

type updateInquiryRequest struct {
	Read *bool `json:"read"`
}

// CreateInternalInquiry records an inquiry taken by the operator at the counter.
func (handlers *InquiryHandlers) CreateInternalInquiry(context *gin.Context) {
	var payload createInquiryRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	inquiry, saveErr := saveInquiry(context.Request.Context(), handlers.store, handlers.catalog, handlers.broadcaster, handlers.logger, payload.input(true))
	if saveErr != nil {
		respondInquiryError(context, saveErr)
		return
	}
	context.JSON(http.StatusCreated, gin.H{"id": inquiry.ID})
}

// ListInquiries returns every inquiry, newest first. An empty store yields an empty list.
func (handlers *InquiryHandlers) ListInquiries(context *gin.Context) {
	inquiries, listErr := handlers.store.List(context.Request.Context())
	if listErr != nil {
		handlers.logger.Warn("list_inquiries", zap.Error(listErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	responses := make([]inquiryResponse, 0, len(inquiries))
	for _, inquiry := range inquiries {
		responses = append(responses, newInquiryResponse(inquiry))
	}
	context.JSON(http.StatusOK, gin.H{jsonKeyInquiries: responses})
}

// GetInquiry returns one inquiry.
func (handlers *InquiryHandlers) GetInquiry(context *gin.Context) {
	identifier, ok := inquiryIdentifier(context)
	if !ok {
		return
	}
	inquiry, loadErr := handlers.store.Get(context.Request.Context(), identifier)
	if loadErr != nil {
		handlers.respondStoreError(context, loadErr, errorValueQueryFailed)
		return
	}
	context.JSON(http.StatusOK, newInquiryResponse(inquiry))
}

// UpdateInquiry changes the read flag; no other field is mutable.
func (handlers *InquiryHandlers) UpdateInquiry(context *gin.Context) {
	identifier, ok := inquiryIdentifier(context)
	if !ok {
		return
	}
	var payload updateInquiryRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	if payload.Read == nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueNothingToUpdate})
		return
	}
	if updateErr := handlers.store.SetRead(context.Request.Context(), identifier, *payload.Read); updateErr != nil {
		handlers.respondStoreError(context, updateErr, errorValueSaveFailed)
		return
	}
	context.JSON(http.StatusOK, gin.H{"id": identifier, "read": *payload.Read})
}

// DeleteInquiry removes one inquiry.
func (handlers *InquiryHandlers) DeleteInquiry(context *gin.Context) {
	identifier, ok := inquiryIdentifier(context)
	if !ok {
		return
	}
	if deleteErr := handlers.store.Delete(context.Request.Context(), identifier); deleteErr != nil {
		handlers.respondStoreError(context, deleteErr, errorValueDeleteFailed)
		return
	}
	context.Status(http.StatusNoContent)
}

// ExportInquiries downloads every inquiry as CSV or JSON.
func (handlers *InquiryHandlers) ExportInquiries(context *gin.Context) {
	format, formatErr := export.ParseFormat(context.Query("format"))
	if formatErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidFormat})
		return
	}
	inquiries, listErr := handlers.store.List(context.Request.Context())
	if listErr != nil {
		handlers.logger.Warn("export_inquiries", zap.Error(listErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	var buffer bytes.Buffer
	if writeErr := export.Write(&buffer, format, exportRecords(inquiries)); writeErr != nil {
		handlers.logger.Error("export_inquiries_encode", zap.Error(writeErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	context.Header(headerContentDisposition, fmt.Sprintf("attachment; filename=%q", format.FileName(handlers.now())))
	context.Data(http.StatusOK, format.ContentType(), buffer.Bytes())
}

// StreamInquiryEvents pushes inquiry_created events over server-sent events.
func (handlers *InquiryHandlers) StreamInquiryEvents(ginContext *gin.Context) {
	if handlers.broadcaster == nil {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	subscription := handlers.broadcaster.Subscribe()
	if subscription == nil {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	defer subscription.Close()

	flusher, flushable := ginContext.Writer.(http.Flusher)
	if !flushable {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}

	ginContext.Header("Content-Type", "text/event-stream")
	ginContext.Header("Cache-Control", "no-cache")
	ginContext.Header("Connection", "keep-alive")
	ginContext.Writer.WriteHeaderNow()
	flusher.Flush()

	requestContext := ginContext.Request.Context()
	for {
		select {
		case <-requestContext.Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			payload := struct {
				InquiryID   uint64 `json:"inquiry_id"`
				Kind        string `json:"kind"`
				Internal    bool   `json:"internal"`
				CreatedAt   int64  `json:"created_at"`
				UnreadCount int64  `json:"unread_count"`
				Missed      int    `json:"missed,omitempty"`
			}{
				InquiryID:   event.InquiryID,
				Kind:        string(event.Kind),
				Internal:    event.Internal,
				CreatedAt:   event.CreatedAt.UTC().Unix(),
				UnreadCount: event.UnreadCount,
				Missed:      event.Missed,
			}
			serializedPayload, marshalErr := json.Marshal(payload)
			if marshalErr != nil {
				handlers.logger.Debug("marshal_inquiry_event_failed", zap.Error(marshalErr))
				continue
			}
			var buffer bytes.Buffer
			buffer.WriteString("event: ")
			buffer.WriteString(inquiryCreatedEventName)
			buffer.WriteString("\n")
			buffer.WriteString("data: ")
			buffer.Write(serializedPayload)
			buffer.WriteString("\n\n")
			if _, writeErr := ginContext.Writer.Write(buffer.Bytes()); writeErr != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (handlers *InquiryHandlers) respondStoreError(context *gin.Context, err error, fallbackValue string) {
	if errors.Is(err, storage.ErrInquiryNotFound) {
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownInquiry})
		return
	}
	handlers.logger.Warn("inquiry_store_failure", zap.Error(err))
	context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: fallbackValue})
}

func inquiryIdentifier(context *gin.Context) (uint64, bool) {
	identifier, parseErr := strconv.ParseUint(strings.TrimSpace(context.Param("id")), 10, 64)
	if parseErr != nil || identifier == 0 {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidInquiryID})
		return 0, false
	}
	return identifier, true
}

func exportRecords(inquiries []model.Inquiry) []export.Record {
	records := make([]export.Record, 0, len(inquiries))
	for _, inquiry := range inquiries {
		records = append(records, export.Record{
			ID:              inquiry.ID,
			CreatedAt:       inquiry.CreatedAt,
			Kind:            string(inquiry.Kind),
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
