package api

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// cspDirective is one Content-Security-Policy directive and its allowed
// sources. Directives without sources serialize as bare names.
type cspDirective struct {
	name    string
	sources []string
}

// cspDirectives is the board's policy, in serialization order.
var cspDirectives = []cspDirective{
	{"default-src", []string{"'self'"}},
	{"script-src", []string{"'self'", "'unsafe-inline'"}},
	{"style-src", []string{"'self'", "'unsafe-inline'", "https://fonts.googleapis.com"}},
	{"img-src", []string{"'self'", "data:", "https://*.blob.core.windows.net"}},
	{"font-src", []string{"'self'", "https://fonts.gstatic.com"}},
	{"connect-src", []string{"'self'", "https://*.blob.core.windows.net"}},
	{"object-src", []string{"'none'"}},
	{"base-uri", []string{"'self'"}},
	{"form-action", []string{"'self'"}},
	{"frame-ancestors", []string{"'none'"}},
	{"upgrade-insecure-requests", nil},
}

// BuildCSPHeader serializes the policy as
// "directive v1 v2; directive2 ...; bare-directive".
func BuildCSPHeader(directives []cspDirective) string {
	parts := make([]string, 0, len(directives))
	for _, d := range directives {
		if len(d.sources) == 0 {
			parts = append(parts, d.name)
			continue
		}
		parts = append(parts, d.name+" "+strings.Join(d.sources, " "))
	}
	return strings.Join(parts, "; ")
}

// CSPMiddleware stamps every response with the board's security policy.
func CSPMiddleware() echo.MiddlewareFunc {
	header := BuildCSPHeader(cspDirectives)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("Content-Security-Policy", header)
			return next(c)
		}
	}
}
