package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// message writes the standard error body {"message": msg}.
func message(c echo.Context, code int, msg string) error {
	return c.JSON(code, echo.Map{"message": msg})
}

// NewHTTPErrorHandler answers every error that reaches echo with a
// {"message"} body.  echo.HTTPErrors keep their code and text; anything else
// is logged and reported as a generic 500 so no internal detail leaks.
func NewHTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := "Internal server error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if code < http.StatusInternalServerError {
				msg = http.StatusText(code)
				if s, ok := he.Message.(string); ok && s != "" {
					msg = s
				} else if he.Message != nil {
					msg = fmt.Sprint(he.Message)
				}
			}
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("method", c.Request().Method),
				slog.String("path", c.Path()),
				slog.Any("err", err))
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = message(c, code, msg)
		}
		if werr != nil {
			logger.Error("write error response", slog.Any("err", werr))
		}
	}
}
