package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/gramorx/studybuddy-server/internal/errors"
	"github.com/gramorx/studybuddy-server/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.InvalidInput("body", "Invalid request body").WithCause(err)
	}
	return nil
}
