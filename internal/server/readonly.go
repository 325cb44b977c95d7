package server

import (
	"net/http"

	"github.com/HerbHall/panupgrade/pkg/models"
)

// ReadOnlyMiddleware rejects every request that could change state. Only
// GET, HEAD and OPTIONS pass; everything else gets 405. The WebSocket
// upgrade is a GET and keeps working.
func ReadOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		WriteProblem(w, models.APIProblem{
			Type:     ProblemTypeMethodNotAllowed,
			Title:    "Method Not Allowed",
			Status:   http.StatusMethodNotAllowed,
			Detail:   "server is in read-only mode",
			Instance: r.URL.Path,
		})
	})
}
