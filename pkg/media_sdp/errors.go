package media_sdp

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode причина отказа разбора или построения SDP.
type ErrorCode string

const (
	ErrCodeInvalidConfig     ErrorCode = "INVALID_CONFIG"
	ErrCodeBuild             ErrorCode = "BUILD"
	ErrCodeParse             ErrorCode = "PARSE"
	ErrCodeIncompatibleCodec ErrorCode = "INCOMPATIBLE_CODEC"
	ErrCodeNoMedia           ErrorCode = "NO_MEDIA"
)

// SDPError ошибка SDP; сессия переводит ее в отказ согласования медиа.
type SDPError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func errorf(code ErrorCode, format string, args ...interface{}) *SDPError {
	return &SDPError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code ErrorCode, err error, message string) *SDPError {
	return &SDPError{Code: code, Message: message, Err: err}
}

func (e *SDPError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sdp [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sdp [%s]: %s: %v", e.Code, e.Message, e.Err)
}

func (e *SDPError) Unwrap() error {
	return e.Err
}

// IsSDPError проверяет, что err ошибка SDP с кодом code.
func IsSDPError(err error, code ErrorCode) bool {
	var se *SDPError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
