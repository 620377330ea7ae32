package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"nearchat/client/model"
)

// DefaultErrorMessage is used when a failed response carries no message
const DefaultErrorMessage = "an error occurred"

// Error is a non-2xx response from the backend
type Error struct {
	Message string
	Status  int
	Data    json.RawMessage
}

func (e *Error) Error() string {
	return e.Message
}

// Block returns the block details carried by a 403 response, or nil.
func (e *Error) Block() *model.Block {
	if e.Status != http.StatusForbidden || len(e.Data) == 0 {
		return nil
	}
	var body struct {
		Reason    string     `json:"reason"`
		UnblockAt *time.Time `json:"unblockAt"`
		Blocked   bool       `json:"blocked"`
	}
	if err := json.Unmarshal(e.Data, &body); err != nil {
		return nil
	}
	if body.Reason == "" && body.UnblockAt == nil && !body.Blocked {
		return nil
	}
	return &model.Block{Reason: body.Reason, UnblockAt: body.UnblockAt}
}

// StatusOf returns the HTTP status of an *Error anywhere in err's chain, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

// BlockOf returns the block details of err, if any.
func BlockOf(err error) *model.Block {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Block()
	}
	return nil
}

func newError(status int, body []byte) *Error {
	e := &Error{Status: status, Message: DefaultErrorMessage}
	if json.Valid(body) {
		e.Data = json.RawMessage(body)
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
			e.Message = msg.Message
		}
	} else if text := http.StatusText(status); text != "" {
		e.Message = text
	}
	return e
}
