package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Option adjusts the middleware.
type Option func(*options)

type options struct {
	skip map[string]bool
}

// SkipPaths exempts the given request paths from the key check, e.g. health
// probes and the metrics endpoint.
func SkipPaths(paths ...string) Option {
	return func(o *options) {
		for _, p := range paths {
			o.skip[p] = true
		}
	}
}

// APIKey returns echo middleware enforcing API key authentication.
//
// Behaviour:
//   - If mode != "apikey" or key == "", all requests are allowed.
//   - Otherwise the value of header is compared to key in constant time.
//   - A missing, empty, or incorrect key returns 401.
func APIKey(mode, header, key string, opts ...Option) echo.MiddlewareFunc {
	o := options{skip: map[string]bool{}}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if mode != "apikey" || key == "" {
			return next
		}
		return func(c echo.Context) error {
			if o.skip[c.Request().URL.Path] {
				return next(c)
			}
			got := c.Request().Header.Get(header)
			if got == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			return next(c)
		}
	}
}
