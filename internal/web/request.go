package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"lepm/internal/model"
)

const maxBodySize = 1 << 20 // 1 MB

// Decode reads the JSON body of a request into a value of T. It limits the
// body size, disallows unknown fields, and rejects bodies with more than a
// single JSON value.
func Decode[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	var data T
	if err := dec.Decode(&data); err != nil {
		return data, model.InvalidArgumentf("decode request: %v", err)
	}

	var trailing struct{}
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return data, model.InvalidArgumentf("request body must contain a single JSON value")
		}
		return data, model.InvalidArgumentf("decode request: %v", err)
	}
	return data, nil
}

// PathID parses the named path segment as a positive integer id.
func PathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.InvalidArgumentf("invalid %s %q", name, raw)
	}
	return id, nil
}
