package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/park285/code-duel/internal/duel"
	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/internal/problem"
	"github.com/park285/code-duel/pkg/duelapi"
	"go.uber.org/zap"
)

var errInvalidJSON = errors.New("invalid JSON body")

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.reportServerError(r, err)
	}
}

func (h *Handlers) reportServerError(r *http.Request, err error) {
	obslog.L().Error("gateway_error",
		zap.String("method", r.Method),
		zap.String("url", r.URL.String()),
		zap.Error(err),
	)
}

func (h *Handlers) errorMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.writeJSON(w, r, status, duelapi.ErrorResponse{Error: message})
}

func (h *Handlers) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	h.errorMessage(w, r, http.StatusBadRequest, message)
}

func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.reportServerError(r, err)
	h.errorMessage(w, r, http.StatusInternalServerError, "The server encountered a problem and could not process your request")
}

func (h *Handlers) notFound(w http.ResponseWriter, r *http.Request) {
	h.errorMessage(w, r, http.StatusNotFound, "The requested resource could not be found")
}

func (h *Handlers) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.errorMessage(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("The %s method is not supported for this resource", r.Method))
}

// storeError maps domain sentinels to a status code.
func (h *Handlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, duel.ErrMatchNotFound):
		h.errorMessage(w, r, http.StatusNotFound, "Match not found")
	case errors.Is(err, problem.ErrNotFound):
		h.errorMessage(w, r, http.StatusNotFound, "Problem not found")
	case errors.Is(err, duel.ErrMatchExists):
		h.errorMessage(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, duel.ErrInvalidArgs),
		errors.Is(err, duel.ErrNotJoinable),
		errors.Is(err, duel.ErrFull):
		h.badRequest(w, r, err.Error())
	default:
		h.serverError(w, r, err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errInvalidJSON
	}
	return nil
}
