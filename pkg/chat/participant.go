package chat

import (
	"strings"

	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/envelope"
)

// ParticipantStatus состояние участника группового чата.
type ParticipantStatus int

const (
	InviteQueued ParticipantStatus = iota
	Inviting
	Invited
	Connected
	Disconnected
	Departed
	Failed
	Declined
	Timeout
)

var participantStatusNames = [...]string{
	"INVITE_QUEUED", "INVITING", "INVITED", "CONNECTED", "DISCONNECTED",
	"DEPARTED", "FAILED", "DECLINED", "TIMEOUT",
}

func (s ParticipantStatus) String() string {
	if s < 0 || int(s) >= len(participantStatusNames) {
		return "UNKNOWN"
	}
	return participantStatusNames[s]
}

// ParseParticipantStatus обратное к String.
func ParseParticipantStatus(name string) (ParticipantStatus, bool) {
	for i, n := range participantStatusNames {
		if strings.EqualFold(n, name) {
			return ParticipantStatus(i), true
		}
	}
	return 0, false
}

// Participants участники группового чата и их состояния.
type Participants map[contact.ID]ParticipantStatus

// ParseParticipants разбирает resource-lists документ. Записи, которые не
// являются номером телефона, пропускаются.
func ParseParticipants(resourceList string, status ParticipantStatus) Participants {
	out := make(Participants)
	entries, ok := envelope.ParseResourceList(resourceList)
	if !ok {
		return out
	}
	for _, e := range entries {
		if id, ok := contact.FromURI(e.URI); ok {
			out[id] = status
		}
	}
	return out
}

// ResourceList строит resource-lists документ для списка участников.
func ResourceList(ids []contact.ID) string {
	uris := make([]string, 0, len(ids))
	for _, id := range ids {
		uris = append(uris, id.URI())
	}
	return envelope.GenerateResourceList(uris)
}
