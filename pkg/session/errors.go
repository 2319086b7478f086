package session

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind вид ошибки сессии, по которому слушатели выбирают реакцию.
type ErrorKind string

const (
	ErrKindSessionInitiationFailed ErrorKind = "SESSION_INITIATION_FAILED"
	ErrKindMediaNegotiationFailed  ErrorKind = "MEDIA_NEGOTIATION_FAILED"
	ErrKindResourceNotInitialized  ErrorKind = "RESOURCE_NOT_INITIALIZED"
	ErrKindMediaFailed             ErrorKind = "MEDIA_FAILED"
	ErrKindUploadFailed            ErrorKind = "UPLOAD_FAILED"
	ErrKindUnsupportedOperation    ErrorKind = "UNSUPPORTED_OPERATION"
	ErrKindUnexpected              ErrorKind = "UNEXPECTED"
)

func (k ErrorKind) String() string {
	return string(k)
}

// Сообщения для ErrKindResourceNotInitialized.
const (
	MsgRendererNotInitialized = "renderer not initialized"
	MsgPlayerNotInitialized   = "player not initialized"
)

var (
	// ErrUnsupportedOperation операция не поддерживается видом сессии.
	ErrUnsupportedOperation = errors.New("operation not supported by session kind")
	// ErrInvalidState операция недопустима в текущем состоянии.
	ErrInvalidState = errors.New("invalid session state")
	// ErrAlreadyStarted сессия запускается только один раз.
	ErrAlreadyStarted = errors.New("session already started")
)

// Error ошибка сессии, которую получают слушатели в OnError.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError создает ошибку сессии.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError оборачивает err в ошибку сессии. Если err уже ошибка сессии,
// она возвращается без изменений.
func WrapError(kind ErrorKind, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session error [%s]", e.Kind)
	}
	return fmt.Sprintf("session error [%s]: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsSessionError проверяет, что err ошибка сессии вида kind.
func IsSessionError(err error, kind ErrorKind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
