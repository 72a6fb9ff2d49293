package requestid

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

const (
	Header      = "X-Request-ID"
	maxIDLength = 128
)

var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Middleware tags each request with an ID taken from the first valid header
// in headers, falling back to X-Request-ID and then to a new UUID. Gateways
// that send a delivery ID header can be listed first so a redelivered event
// keeps its correlation ID across attempts.
func Middleware(headers ...string) func(http.Handler) http.Handler {
	lookup := append(append([]string{}, headers...), Header)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			for _, h := range lookup {
				if v := r.Header.Get(h); isValid(v) {
					id = v
					break
				}
			}
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(Header, id)
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
		})
	}
}

func isValid(id string) bool {
	return id != "" && len(id) <= maxIDLength && validID.MatchString(id)
}
