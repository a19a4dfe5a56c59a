package crud

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Kind classifies API failures surfaced to callers.
type Kind int

const (
	KindUnexpected Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindBadRequest
	KindServerError
)

var (
	ErrUnauthorized = errors.New("crud: unauthorized")
	ErrForbidden    = errors.New("crud: forbidden")
	ErrNotFound     = errors.New("crud: not found")
	ErrBadRequest   = errors.New("crud: bad request")
	ErrServerError  = errors.New("crud: server error")
	ErrUnexpected   = errors.New("crud: unexpected response")
)

var kindSentinels = map[Kind]error{
	KindUnauthorized: ErrUnauthorized,
	KindForbidden:    ErrForbidden,
	KindNotFound:     ErrNotFound,
	KindBadRequest:   ErrBadRequest,
	KindServerError:  ErrServerError,
	KindUnexpected:   ErrUnexpected,
}

var statusMessages = map[int]string{
	http.StatusBadRequest:          "the request was rejected as invalid",
	http.StatusUnauthorized:        "not authenticated or session expired",
	http.StatusForbidden:           "not allowed to perform this operation",
	http.StatusNotFound:            "resource not found",
	http.StatusInternalServerError: "the server failed to process the request",
}

// Error is a non-2xx API response. errors.Is matches it against the Err* sentinels.
type Error struct {
	Kind   Kind
	Status int
	Detail string
}

func (e *Error) Error() string {
	msg, ok := statusMessages[e.Status]
	if !ok {
		msg = "unexpected response status " + http.StatusText(e.Status)
	}
	if e.Detail != "" {
		return msg + ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return kindSentinels[e.Kind] }

func kindFor(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusInternalServerError:
		return KindServerError
	default:
		return KindUnexpected
	}
}

const maxDetailBytes = 512

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// errorFromResponse builds an Error from the status and a best-effort parse of the body:
// the JSON envelope message if present, otherwise the raw text.
func errorFromResponse(status int, body []byte) *Error {
	detail := strings.TrimSpace(string(body))
	var env struct {
		Mensaje string `json:"mensaje"`
	}
	if json.Unmarshal(body, &env) == nil && env.Mensaje != "" {
		detail = env.Mensaje
	}
	detail = truncate(detail, maxDetailBytes)
	return &Error{Kind: kindFor(status), Status: status, Detail: detail}
}
