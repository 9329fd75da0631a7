package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"lepm/internal/model"
)

// NoBody tells Respond to send the status code without a payload.
type NoBody struct{}

// Respond writes v as a JSON response.
func Respond(w http.ResponseWriter, code int, v any) {
	if _, ok := v.(NoBody); ok {
		w.WriteHeader(code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// RespondError maps the error's kind to its HTTP status and writes a JSON
// error body. Internal errors are logged with their cause; the cause is not
// echoed to the client.
func RespondError(w http.ResponseWriter, log *slog.Logger, err error) {
	kind := model.KindOf(err)
	status := StatusOf(kind)
	msg := err.Error()
	if kind == model.KindInternal {
		if log != nil {
			log.Error("request failed", "err", err)
		}
		msg = "internal error"
	}
	Respond(w, status, errorBody{Error: msg, Kind: kind.String()})
}

// StatusOf returns the stable HTTP status for an error kind.
func StatusOf(kind model.Kind) int {
	switch kind {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindInvalidArgument:
		return http.StatusBadRequest
	case model.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
