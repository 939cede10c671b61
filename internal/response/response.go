// Package response writes the JSON envelope every endpoint answers with:
//
//	{"success": bool, "message": string, "data": any, "errors": {field: [msg]}}
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    any                 `json:"data,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func Success(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

func OK(c echo.Context, message string, data any) error {
	return Success(c, http.StatusOK, message, data)
}

func Created(c echo.Context, message string, data any) error {
	return Success(c, http.StatusCreated, message, data)
}

func Error(c echo.Context, status int, message string) error {
	return c.JSON(status, Envelope{Message: message})
}

func Unprocessable(c echo.Context, errs map[string][]string) error {
	return c.JSON(http.StatusUnprocessableEntity, Envelope{Message: "Validation failed", Errors: errs})
}

// Internal answers 500.  The error text is included only in debug mode.
func Internal(c echo.Context, err error, debug bool) error {
	msg := "Internal server error"
	if debug && err != nil {
		msg = err.Error()
	}
	return c.JSON(http.StatusInternalServerError, Envelope{Message: msg})
}
