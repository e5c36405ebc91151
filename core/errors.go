package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuthFailed        = "LEAD_RELAY_AUTH_FAILED"
	ErrorSignatureInvalid  = "LEAD_RELAY_SIGNATURE_INVALID"
	ErrorValidationFailed  = "LEAD_RELAY_VALIDATION_FAILED"
	ErrorDeliveryFailed    = "LEAD_RELAY_DELIVERY_FAILED"
	ErrorPersistenceFailed = "LEAD_RELAY_PERSISTENCE_FAILED"
	ErrorConfigInvalid     = "LEAD_RELAY_CONFIG_INVALID"
	ErrorNotFound          = "LEAD_RELAY_NOT_FOUND"
	ErrorInternal          = "LEAD_RELAY_INTERNAL_ERROR"
)

func NewAuthError(upstream Upstream, message string, cause error, metadata map[string]any) *goerrors.Error {
	meta := cloneFields(metadata)
	meta["upstream"] = string(upstream)
	return newRelayError(cause, message, goerrors.CategoryExternal, http.StatusBadGateway, ErrorAuthFailed, meta)
}

func NewSignatureError(message string, cause error) *goerrors.Error {
	return newRelayError(cause, message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorSignatureInvalid, nil)
}

func NewValidationError(field string, message string) *goerrors.Error {
	return goerrors.NewValidation("core: invalid lead", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorValidationFailed).
		WithMetadata(map[string]any{"field": field, "reason": message})
}

func NewDeliveryError(message string, cause error, metadata map[string]any) *goerrors.Error {
	return newRelayError(cause, message, goerrors.CategoryExternal, http.StatusBadGateway, ErrorDeliveryFailed, metadata)
}

func NewPersistenceError(message string, cause error) *goerrors.Error {
	return newRelayError(cause, message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorPersistenceFailed, nil)
}

func NewConfigError(message string) *goerrors.Error {
	return newRelayError(nil, message, goerrors.CategoryBadInput, http.StatusInternalServerError, ErrorConfigInvalid, nil)
}

func NewNotFoundError(message string, metadata map[string]any) *goerrors.Error {
	return newRelayError(nil, message, goerrors.CategoryNotFound, http.StatusNotFound, ErrorNotFound, metadata)
}

func IsAuthError(err error) bool        { return HasTextCode(err, ErrorAuthFailed) }
func IsSignatureError(err error) bool   { return HasTextCode(err, ErrorSignatureInvalid) }
func IsValidationError(err error) bool  { return HasTextCode(err, ErrorValidationFailed) }
func IsDeliveryError(err error) bool    { return HasTextCode(err, ErrorDeliveryFailed) }
func IsPersistenceError(err error) bool { return HasTextCode(err, ErrorPersistenceFailed) }
func IsNotFoundError(err error) bool    { return HasTextCode(err, ErrorNotFound) }

// HasTextCode walks the wrapped chain of rich errors looking for code.
func HasTextCode(err error, code string) bool {
	for depth := 0; err != nil && depth < 16; depth++ {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) || richErr == nil {
			return false
		}
		if richErr.TextCode == code {
			return true
		}
		err = richErr.Source
	}
	return false
}

func newRelayError(
	cause error,
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, category, message)
	} else {
		err = goerrors.New(message, category)
	}
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func relayErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureRelayErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return NewSignatureError(err.Error(), nil)
	case strings.Contains(msg, "not found"):
		return NewNotFoundError(err.Error(), nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return ensureRelayErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryBadInput))
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureRelayErrorEnvelope(mapped)
}

func ensureRelayErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = relayHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultRelayTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultRelayTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorValidationFailed
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorSignatureInvalid
	case goerrors.CategoryExternal:
		return ErrorDeliveryFailed
	default:
		return ErrorInternal
	}
}

func relayHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
