package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/jx"
)

// writeJSONError writes {"error": msg} with the given status, the error
// shape used by every API response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
