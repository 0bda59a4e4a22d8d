// Package middleware holds the REST-layer middleware: authentication,
// request logging and HTTP metrics.
package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/pkg/auth"
)

// Authenticate validates the bearer token and stores the user in the
// request context
func Authenticate(validator *auth.JWTValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := validator.ValidateToken(r.Header.Get("Authorization"))
			if err != nil {
				logger.Debug("Authentication failed",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := valueobjects.NewUserID(claims.UserID)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
