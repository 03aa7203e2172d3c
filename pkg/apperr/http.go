package apperr

import (
	"net/http"

	"github.com/go-faster/jx"
)

// Encode writes the error envelope {statusCode, message, errors} for err.
// Errors that are not *Error are reported as a bare 500.
func Encode(e *jx.Encoder, err error) int {
	typed, ok := As(err)
	if !ok {
		typed = New(KindInternal, "internal server error")
	}
	status := typed.StatusCode()
	message := typed.Message()
	if typed.Kind() == KindInternal {
		message = "internal server error"
	}

	e.ObjStart()
	e.FieldStart("statusCode")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	if d := typed.Details(); len(d) > 0 && typed.Kind() != KindInternal {
		e.FieldStart("errors")
		e.ObjStart()
		for k, v := range d {
			e.FieldStart(k)
			e.Str(v)
		}
		e.ObjEnd()
	}
	e.ObjEnd()
	return status
}

// WriteHTTP renders err as a JSON error response.
func WriteHTTP(w http.ResponseWriter, err error) {
	var e jx.Encoder
	status := Encode(&e, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
