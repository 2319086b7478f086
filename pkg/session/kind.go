package session

import (
	"context"

	"github.com/arzzra/rcs_core/pkg/dialog"
)

// Kind поведение конкретного вида сессии (чат, передача файла, IP звонок,
// RTP поток). Общий конечный автомат вызывает эти методы в фиксированном
// порядке; состояние медиа принадлежит виду.
type Kind interface {
	// Name метка вида для логов и метрик
	Name() string
	// FeatureTags теги для Contact
	FeatureTags() []string
	// TimeoutResponse код ответа, если пользователь не ответил вовремя
	TimeoutResponse() int
	// FailureKind вид ошибки для непредвиденных сбоев
	FailureKind() ErrorKind

	// PrepareMedia проверяет, что ресурсы медиа подключены
	PrepareMedia(ctx context.Context) error
	// BuildOffer тело исходящего INVITE
	BuildOffer(ctx context.Context) (*dialog.Body, error)
	// BuildAnswer согласует предложение и строит тело 200 OK
	BuildAnswer(ctx context.Context, offer *dialog.Body) (*dialog.Body, error)
	// ProcessAnswer применяет ответ удаленной стороны на наше предложение
	ProcessAnswer(ctx context.Context, answer *dialog.Body) error
	// OnEstablished запускает передачу медиа после ACK
	OnEstablished(ctx context.Context) error
	// OnError закрывает медиа после ошибки
	OnError(err *Error)
	// Close освобождает ресурсы при завершении сессии
	Close() error
}

// DataSender виды сессий, через которые можно отправлять данные (чат).
type DataSender interface {
	SendDataChunks(ctx context.Context, msgID, contentType string, data []byte) error
}

// OneToOneChat виды сессий, которые учитываются как чат один на один
// с удаленной стороной.
type OneToOneChat interface {
	IsOneToOneChat() bool
}

// Responder вид может добавить свои опции в 200 OK.
type Responder interface {
	AnswerOptions() []dialog.ResponseOpt
}
