package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/tunevault/tunevault/internal/apperr"
)

type Response struct {
	Status string             `json:"status"`
	Data   interface{}        `json:"data,omitempty"`
	Error  *apperr.Serialized `json:"error,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Status: "ok",
		Data:   data,
	})
}

// WriteError maps an error's kind onto an HTTP status and writes its
// serialized form.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(Response{
		Status: "error",
		Error:  apperr.Serialize(err),
	})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidUsage:
		return http.StatusBadRequest
	case apperr.KindNotFound, apperr.KindNoCandidatesFound:
		return http.StatusNotFound
	case apperr.KindDuplicate:
		return http.StatusConflict
	case apperr.KindIntegrity, apperr.KindConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func ReadJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.InvalidUsage("malformed request body: %v", err)
	}
	return nil
}
