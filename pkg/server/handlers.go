package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Validation messages.
const (
	MsgMissingName = "Missing required parameter name"
	MsgEmptyName   = "Parameter name cannot be empty"
)

// Envelope is the body of every search response. Data holds the records on
// success and the message otherwise.
type Envelope struct {
	Status int `json:"status"`
	Data   any `json:"data"`
}

func reply(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Status: status, Data: data})
}

func (s *Server) searchDoctors(c echo.Context) error {
	values, present := c.QueryParams()["name"]
	if !present {
		return reply(c, http.StatusBadRequest, MsgMissingName)
	}
	name := strings.TrimSpace(values[0])
	if name == "" {
		return reply(c, http.StatusBadRequest, MsgEmptyName)
	}

	res := s.searcher.Search(c.Request().Context(), name)

	s.logger.Info().
		Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
		Str("name", name).
		Int("status", res.Status).
		Int("records", len(res.Records)).
		Bool("cache_hit", res.Cached).
		Msg("Search")

	if !res.OK() {
		return reply(c, res.Status, res.Message)
	}
	if res.Cached {
		c.Response().Header().Set("X-Cache", "HIT")
	} else {
		c.Response().Header().Set("X-Cache", "MISS")
	}
	return reply(c, http.StatusOK, res.Records)
}

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) readiness(c echo.Context) error {
	if s.ready == nil {
		return c.String(http.StatusOK, "OK")
	}
	if err := s.ready.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("Readiness check failed")
		return c.String(http.StatusServiceUnavailable, "index unavailable")
	}
	return c.String(http.StatusOK, "OK")
}

// handleError renders echo errors (unknown routes, wrong methods, panics)
// in the response envelope.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = http.StatusText(code)
	} else {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("Unhandled error")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = reply(c, code, msg)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to write error response")
	}
}
