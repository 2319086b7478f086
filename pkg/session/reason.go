package session

// TerminationReason причина завершения, которую получают слушатели.
type TerminationReason int

const (
	ReasonUnspecified TerminationReason = iota
	ReasonByUser
	ReasonByTimeout
	ReasonByRemote
	ReasonBySystem
	ReasonSessionExpired
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonByUser:
		return "by-user"
	case ReasonByTimeout:
		return "by-timeout"
	case ReasonByRemote:
		return "by-remote"
	case ReasonBySystem:
		return "by-system"
	case ReasonSessionExpired:
		return "session-expired"
	default:
		return "unspecified"
	}
}
