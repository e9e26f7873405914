package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rendis/bpmnkit/internal/service"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// ProblemDetails represents an RFC 7807 Problem Details response. Code and
// Details carry the schema.Error fields when the failure originated there.
type ProblemDetails struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail"`
	Instance string         `json:"instance,omitempty"`
	Code     string         `json:"code,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

const mimeProblemJSON = "application/problem+json"

// problemFor maps an error returned by a handler to a problem document.
func problemFor(err error) ProblemDetails {
	p := ProblemDetails{Type: "about:blank"}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		p.Status = he.Code
		p.Title = http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			p.Detail = msg
		} else {
			p.Detail = p.Title
		}
		return p
	}

	var se *schema.Error
	if errors.As(err, &se) {
		p.Status = statusForCode(se.Code)
		if errors.Is(err, service.ErrArchiveDisabled) {
			p.Status = http.StatusNotImplemented
		}
		p.Title = http.StatusText(p.Status)
		p.Detail = se.Message
		p.Code = se.Code
		p.Details = se.Details
		return p
	}

	p.Status = http.StatusInternalServerError
	p.Title = http.StatusText(p.Status)
	p.Detail = err.Error()
	return p
}

func statusForCode(code string) int {
	switch code {
	case schema.ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeParse:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler replaces echo's default error handler so every failure is
// rendered as application/problem+json.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	p := problemFor(err)
	p.Instance = c.Request().URL.Path
	if p.Status >= http.StatusInternalServerError {
		s.log(c).Error("request failed", "status", p.Status, "error", err)
	}

	c.Response().Header().Set(echo.HeaderContentType, mimeProblemJSON)
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(p.Status)
	} else {
		err = c.JSON(p.Status, p)
	}
	if err != nil {
		s.log(c).Error("write problem response", "error", err)
	}
}
