package http

import (
	"net/http"
	"strconv"
	"time"

	xutil "Guardrail/pkg/util"

	"github.com/labstack/echo/v4"
)

// QueryInt reads a non-negative integer query parameter. An absent
// parameter yields def; a malformed one is a 400.
func QueryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, NewAppError("ERR_QUERY", name, name+" must be a non-negative integer", http.StatusBadRequest).WithParam("value", raw)
	}
	return n, nil
}

// QueryTime reads an RFC3339 or unix-seconds timestamp. An absent parameter
// yields def; a malformed one is a 400 rather than a silent fallback, since
// point-in-time answers for the wrong instant look plausible.
func QueryTime(c echo.Context, name string, def time.Time) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	t, ok := xutil.ParseTime(raw)
	if !ok {
		return time.Time{}, NewAppError("ERR_QUERY", name, name+" must be RFC3339 or unix seconds", http.StatusBadRequest).WithParam("value", raw)
	}
	return t, nil
}
