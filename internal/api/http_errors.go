package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
)

func httpStatusForDomainError(err error) int {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return http.StatusInternalServerError
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusBadRequest
	case core.ErrCatAuth:
		return http.StatusUnauthorized
	case core.ErrCatAdmission:
		return http.StatusForbidden
	case core.ErrCatNotFound:
		return http.StatusNotFound
	case core.ErrCatConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorBody shapes an error response. Domain errors expose their code and
// message; anything else collapses to a generic internal error so wrapped
// causes never leak to clients.
func errorBody(err error) map[string]string {
	var domErr *core.DomainError
	if errors.As(err, &domErr) && domErr != nil {
		return map[string]string{"code": domErr.Code, "error": domErr.Message}
	}
	return map[string]string{"code": "INTERNAL", "error": "internal server error"}
}

func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status := httpStatusForDomainError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	respondJSON(w, status, errorBody(err))
}
