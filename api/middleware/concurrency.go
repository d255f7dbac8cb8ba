package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/pharmacy-backend/api/responses"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/workerpool"
)

// Concurrency bounds in-flight requests. Requests wait for a slot until their
// context ends.
func Concurrency(pool *workerpool.Limiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if pool == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := pool.Run(r.Context(), func(ctx context.Context) error {
				next.ServeHTTP(w, r)
				return nil
			})
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "server busy"))
			}
		})
	}
}
