package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func TestHTTPErrorHandler(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"internal detail hidden", errors.New("dial tcp 10.0.0.3:3306: refused"), http.StatusInternalServerError, "Internal server error"},
		{"http error keeps message", echo.NewHTTPError(http.StatusMethodNotAllowed, "Method Not Allowed"), http.StatusMethodNotAllowed, "Method Not Allowed"},
		{"http error without message", &echo.HTTPError{Code: http.StatusNotFound}, http.StatusNotFound, "Not Found"},
		{"server http error hidden", echo.NewHTTPError(http.StatusBadGateway, "upstream said no"), http.StatusBadGateway, "Internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := call(t, func(c echo.Context) error { return tc.err }, http.MethodGet, "/", "", 0, "")
			requireMessage(t, rec, tc.code, tc.msg)
		})
	}
}

func TestHTTPErrorHandler_HeadHasNoBody(t *testing.T) {
	rec := call(t, func(c echo.Context) error { return errors.New("boom") }, http.MethodHead, "/", "", 0, "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, rec.Body.String())
}
