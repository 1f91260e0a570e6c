package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/y0ug/contentscan/internal/contentscan"
	"github.com/y0ug/contentscan/internal/models"
)

// Error reasons returned in the body of non-2xx responses.
const (
	ReasonMalformedJSON       = "MCS_MALFORMED_JSON"
	ReasonMalformedDescriptor = "MCS_MALFORMED_DESCRIPTOR"
	ReasonFailedToDecrypt     = "MCS_MEDIA_FAILED_TO_DECRYPT"
	ReasonRequestFailed       = "MCS_MEDIA_REQUEST_FAILED"
	ReasonRequestTimeout      = "MCS_MEDIA_REQUEST_TIMEOUT"
	ReasonScanFailed          = "MCS_SCAN_FAILED"
	ReasonBadConfiguration    = "MCS_BAD_CONFIGURATION"
	ReasonCacheFailed         = "MCS_CACHE_FAILED"
	ReasonRequestCancelled    = "MCS_REQUEST_CANCELLED"
	ReasonUnknown             = "M_UNKNOWN"
)

// statusClientClosedRequest is reported when the caller went away before a
// verdict was ready. The scan itself keeps running.
const statusClientClosedRequest = 499

// WriteJSONResponse writes a JSON response with the specified HTTP status and data.
func WriteJSONResponse(w http.ResponseWriter, httpStatus int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// WriteErrorResponse sends an error JSON response.
func WriteErrorResponse(w http.ResponseWriter, reason, info string, httpStatus int) {
	WriteJSONResponse(w, httpStatus, &models.ErrorResponse{Reason: reason, Info: info})
}

// errorStatus maps a pipeline error to its HTTP status, reason and a
// caller-facing message.
func errorStatus(err error) (int, string, string) {
	if contentscan.KindOf(err) == contentscan.KindUnknown {
		switch {
		case errors.Is(err, context.Canceled):
			return statusClientClosedRequest, ReasonRequestCancelled, "Request cancelled before the scan completed"
		case errors.Is(err, context.DeadlineExceeded):
			return http.StatusGatewayTimeout, ReasonRequestTimeout, "Request timed out before the scan completed"
		}
	}
	switch contentscan.KindOf(err) {
	case contentscan.KindInvalidDescriptor:
		return http.StatusBadRequest, ReasonMalformedDescriptor, unwrapMessage(err)
	case contentscan.KindDecrypt:
		return http.StatusBadRequest, ReasonFailedToDecrypt, "Failed to decrypt file"
	case contentscan.KindUpstreamFetch:
		return http.StatusBadGateway, ReasonRequestFailed, "Failed to fetch media"
	case contentscan.KindUpstreamTimeout:
		return http.StatusGatewayTimeout, ReasonRequestTimeout, "Upstream request timed out"
	case contentscan.KindScanInvocation:
		return http.StatusInternalServerError, ReasonScanFailed, "Failed to scan file"
	case contentscan.KindConfiguration:
		return http.StatusInternalServerError, ReasonBadConfiguration, "Server is misconfigured"
	case contentscan.KindCache:
		return http.StatusInternalServerError, ReasonCacheFailed, "Result cache is unavailable"
	default:
		return http.StatusInternalServerError, ReasonUnknown, "Internal server error"
	}
}

func unwrapMessage(err error) string {
	var e *contentscan.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
