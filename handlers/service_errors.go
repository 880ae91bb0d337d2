package handlers

import (
	"net/http"

	"github.com/upb/market-routes/services"
	"github.com/upb/market-routes/utils"
	"go.uber.org/zap"
)

// statusByType is the HTTP status for each domain error type.
// Cancelled items normally stay inside a batch result; a cancelled single
// resolution surfaces as 408.
var statusByType = map[services.ErrorType]int{
	services.ErrorTypeValidation: http.StatusBadRequest,
	services.ErrorTypeNotFound:   http.StatusNotFound,
	services.ErrorTypeCancelled:  http.StatusRequestTimeout,
	services.ErrorTypeExternal:   http.StatusBadGateway,
	services.ErrorTypeInternal:   http.StatusInternalServerError,
}

// HandleServiceError maps domain errors to HTTP responses.
// 5xx answers never echo the underlying cause.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	errType := services.GetErrorType(err)
	status, known := statusByType[errType]
	if !known {
		status = http.StatusInternalServerError
	}

	message := err.Error()
	details := services.GetErrorDetails(err)

	switch {
	case !known:
		logger.Error("unhandled error type", zap.Error(err), zap.String("error_type", string(errType)))
		message, details = "An unexpected error occurred", nil
	case status == http.StatusInternalServerError:
		logger.Error("route computation failed", zap.Error(err))
		message, details = "route could not be computed", nil
	case status == http.StatusBadGateway:
		logger.Warn("upstream routing failure", zap.Error(err))
	}

	if err := utils.WriteError(w, status, message, details); err != nil {
		logger.Error("failed to write error response", zap.Int("status", status), zap.Error(err))
	}
}

// HandleValidationError handles request decoding and struct-tag failures
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	message := "invalid request body: " + err.Error()
	var details map[string]interface{}

	if utils.IsValidationError(err) {
		message = err.Error()
		fields := utils.GetValidationFields(err)
		details = make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
	}

	if err := utils.WriteBadRequest(w, message, details); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
