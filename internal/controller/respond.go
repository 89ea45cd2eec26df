// internal/controller/respond.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/m15x/disparo-backend/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors onto wire codes. Unknown errors surface as a
// generic 500 so internals never leak to callers.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "server_error"

	switch {
	case errors.Is(err, appErrors.ErrMissingToken), errors.Is(err, appErrors.ErrTokenExpired):
		status = http.StatusUnauthorized
		code = err.Error()
	case errors.Is(err, appErrors.ErrInvalidToken):
		status = http.StatusForbidden
		code = err.Error()
	case errors.Is(err, appErrors.ErrInvalidStage), errors.Is(err, appErrors.ErrMissingFields):
		status = http.StatusBadRequest
		code = err.Error()
	case errors.Is(err, appErrors.ErrRunInProgress):
		status = http.StatusConflict
		code = err.Error()
	case errors.Is(err, appErrors.ErrSendNotFound), appErrors.IsNotFound(err):
		status = http.StatusNotFound
		code = err.Error()
	}

	writeJSON(w, status, map[string]string{"error": code})
}
