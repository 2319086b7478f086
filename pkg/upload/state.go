package upload

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

// TransferState состояние передачи файла, видимое приложению.
type TransferState int

const (
	TransferUnknown TransferState = iota
	TransferInvited
	TransferInitiated
	TransferStarted
	TransferTransferred
	TransferAborted
	TransferFailed
	TransferPaused
	TransferRejected
	TransferAccepting
	TransferDelivered
	TransferDisplayed
	TransferQueued
)

var transferStateNames = [...]string{
	"UNKNOWN", "INVITED", "INITIATED", "STARTED", "TRANSFERRED", "ABORTED", "FAILED",
	"PAUSED", "REJECTED", "ACCEPTING", "DELIVERED", "DISPLAYED", "QUEUED",
}

func (s TransferState) String() string {
	if s < 0 || int(s) >= len(transferStateNames) {
		return "UNKNOWN"
	}
	return transferStateNames[s]
}

// ReasonCode причина текущего состояния передачи.
type ReasonCode int

const (
	ReasonUnspecified ReasonCode = iota
	ReasonAbortedByUser
	ReasonAbortedByRemote
	ReasonAbortedBySystem
	ReasonAbortedBySecondaryDevice
	ReasonRejectedTimeOut
	ReasonRejectedSpam
	ReasonRejectedLowSpace
	ReasonRejectedMaxSize
	ReasonRejectedMaxFileTransfers
	ReasonRejectedByUser
	ReasonRejectedByRemote
	ReasonPausedBySystem
	ReasonPausedByUser
	ReasonFailedInitiation
	ReasonFailedDataTransfer
	ReasonFailedSaving
	ReasonFailedDelivery
	ReasonFailedDisplay
	ReasonFailedNotAllowedToSend
)

var reasonCodeNames = [...]string{
	"UNSPECIFIED", "ABORTED_BY_USER", "ABORTED_BY_REMOTE", "ABORTED_BY_SYSTEM",
	"ABORTED_BY_SECONDARY_DEVICE", "REJECTED_TIME_OUT", "REJECTED_SPAM", "REJECTED_LOW_SPACE",
	"REJECTED_MAX_SIZE", "REJECTED_MAX_FILE_TRANSFERS", "REJECTED_BY_USER", "REJECTED_BY_REMOTE",
	"PAUSED_BY_SYSTEM", "PAUSED_BY_USER", "FAILED_INITIATION", "FAILED_DATA_TRANSFER",
	"FAILED_SAVING", "FAILED_DELIVERY", "FAILED_DISPLAY", "FAILED_NOT_ALLOWED_TO_SEND",
}

func (r ReasonCode) String() string {
	if r < 0 || int(r) >= len(reasonCodeNames) {
		return "UNSPECIFIED"
	}
	return reasonCodeNames[r]
}

// FileUploadState состояние загрузки без передачи в чат.
type FileUploadState int

const (
	UploadInactive FileUploadState = iota
	UploadStarted
	UploadAborted
	UploadFailed
	UploadTransferred
)

// State состояние координатора.
type State string

const (
	StateIdle      State = "IDLE"
	StateUploading State = "UPLOADING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
	StatePaused    State = "PAUSED"
	StateResuming  State = "RESUMING"
)

// IsTerminal после терминального состояния координатор не запускается.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	StateIdle:      {StateUploading, StateCancelled},
	StateUploading: {StateSucceeded, StateFailed, StateCancelled, StatePaused},
	StatePaused:    {StateResuming, StateCancelled},
	StateResuming:  {StateUploading, StateFailed, StateCancelled, StatePaused},
}

// ErrInvalidState операция недопустима в текущем состоянии координатора.
var ErrInvalidState = errors.New("invalid upload state")

func formEventName(src, dst State) string {
	return string(src) + "_to_" + string(dst)
}

func newStateMachine(logger *slog.Logger) *fsm.FSM {
	var events fsm.Events
	for src, dsts := range transitions {
		for _, dst := range dsts {
			events = append(events, fsm.EventDesc{
				Name: formEventName(src, dst),
				Src:  []string{string(src)},
				Dst:  string(dst),
			})
		}
	}
	return fsm.NewFSM(
		string(StateIdle),
		events,
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				logger.Debug("Coordinator.onTransition",
					slog.String("from", e.Src),
					slog.String("to", e.Dst))
			},
		},
	)
}
