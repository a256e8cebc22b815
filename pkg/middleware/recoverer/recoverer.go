// Package recoverer provides a middleware that turns handler panics into a
// logged 500 response with a JSON error body.
package recoverer

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

var serverErrorResponse = errorResponse{
	Status:  "error",
	Message: "server error occurred",
}

func New(logger *slog.Logger) func(http.Handler) http.Handler {
	const op = "middleware.recoverer.New"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// net/http relies on this panic to abort the response.
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error(
					"something went wrong, panic occurred",
					slog.Group(op,
						slog.String("request_id", middleware.GetReqID(r.Context())),
						slog.String("err", fmt.Sprint(rec)),
						slog.String("stack", string(debug.Stack())),
					),
				)

				if r.Header.Get("Connection") != "Upgrade" {
					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, serverErrorResponse)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
