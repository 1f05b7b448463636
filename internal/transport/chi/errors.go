package chi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	logpkg "github.com/kailas-cloud/workoutcache/internal/logger"
)

// errorMapping binds a sentinel to its HTTP status and code.
type errorMapping struct {
	sentinel error
	status   int
	code     ErrorCode
}

// errorMappings is ordered from most to least specific: ErrInvalidItem and
// ErrVectorDimMismatch both wrap ErrInvalidQuery.
var errorMappings = []errorMapping{
	{domain.ErrVectorDimMismatch, http.StatusBadRequest, ErrorCodeVectorDimMismatch},
	{domain.ErrInvalidItem, http.StatusBadRequest, ErrorCodeInvalidItem},
	{domain.ErrInvalidQuery, http.StatusBadRequest, ErrorCodeInvalidQuery},
	{domain.ErrNotFound, http.StatusNotFound, ErrorCodeNotFound},
	{domain.ErrRateLimited, http.StatusTooManyRequests, ErrorCodeRateLimited},
	{domain.ErrEmbeddingUnavailable, http.StatusBadGateway, ErrorCodeEmbeddingUnavailable},
	{domain.ErrEmbeddingProviderError, http.StatusBadGateway, ErrorCodeEmbeddingUnavailable},
	{domain.ErrBackendUnavailable, http.StatusServiceUnavailable, ErrorCodeBackendUnavailable},
	{domain.ErrStoreWriteFailure, http.StatusInternalServerError, ErrorCodeStoreWriteFailure},
}

func lookupMapping(err error) (errorMapping, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			return m, true
		}
	}
	return errorMapping{}, false
}

// safeMessage returns the client-facing message. Validation errors keep their
// detail; everything else is reduced to the sentinel text.
func safeMessage(err error, m errorMapping) string {
	if m.status == http.StatusBadRequest || m.status == http.StatusNotFound {
		return err.Error()
	}
	return m.sentinel.Error()
}

// errorCode classifies err for per-item batch results.
func errorCode(err error) ErrorCode {
	if m, ok := lookupMapping(err); ok {
		return m.code
	}
	return ErrorCodeInternalError
}

func errorBody(err error) *ErrorResponse {
	m, ok := lookupMapping(err)
	if !ok {
		return &ErrorResponse{Code: ErrorCodeInternalError, Message: "internal error"}
	}
	return &ErrorResponse{Code: m.code, Message: safeMessage(err, m)}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	if m, ok := lookupMapping(err); ok {
		if m.status >= http.StatusInternalServerError {
			log.Warn("upstream error", zap.Error(err))
		} else {
			log.Debug("request rejected", zap.Error(err))
		}
		writeError(w, m.status, m.code, safeMessage(err, m))
		return
	}
	if errors.Is(err, context.Canceled) {
		log.Debug("request cancelled", zap.Error(err))
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, ErrorCodeBackendUnavailable, "request timed out")
		return
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
