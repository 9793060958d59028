package handler

import (
	"net/http"
	"strconv"

	"github.com/stayline/whatsapp-bridge-go/internal/httputil"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// ParseLimit reads the limit query parameter for list endpoints. The
// projection is bounded already; the limit only trims the response.
func ParseLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > MaxLimit {
		return DefaultLimit
	}
	return limit
}
