package server

import (
	"encoding/json"
	"net/http"

	"github.com/elifarley/vandamme-proxy/internal/apierror"
)

func httpResponseJSON(w http.ResponseWriter, msg any, code int) {
	v, err := json.Marshal(msg)
	if err != nil {
		v, _ = json.Marshal(map[string]string{"error": "failed to encode response"})
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(v)
}

// httpResponseError writes the closed client-visible error envelope for
// aerr, per spec §7: a stable error_type string and a safe message, never
// the wrapped Cause.
func httpResponseError(w http.ResponseWriter, aerr *apierror.Error) {
	httpResponseJSON(w, map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    string(aerr.Kind),
			"message": aerr.Message,
		},
	}, aerr.Kind.Status())
}
