package store

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
)

// GroupChatState состояние группового чата в журнале.
type GroupChatState int

const (
	GroupChatInitiating GroupChatState = iota
	GroupChatInvited
	GroupChatStarted
	GroupChatAborted
	GroupChatFailed
	GroupChatAccepting
	GroupChatRejected
)

// GroupChatReason причина последней смены состояния.
type GroupChatReason int

const (
	GroupReasonUnspecified GroupChatReason = iota
	GroupReasonAbortedByUser
	GroupReasonAbortedByRemote
	GroupReasonAbortedByInactivity
	GroupReasonRejectedBySecondaryDevice
	GroupReasonRejectedMaxChats
	GroupReasonRejectedByRemote
	GroupReasonRejectedByTimeout
	GroupReasonRejectedBySystem
	GroupReasonFailedInitiation
)

// userAbortion отмечает, знает ли сервер об отказе пользователя.
const (
	serverNotified    = 0
	serverNotNotified = 1
)

// GroupChat строка журнала групповых чатов.
type GroupChat struct {
	ChatID       string
	Contact      contact.ID
	Subject      string
	Participants chat.Participants
	State        GroupChatState
	Reason       GroupChatReason
	Direction    Direction
	RejoinID     string
	Timestamp    time.Time
}

// EncodeParticipants кодирует участников строкой contact=status,...
// Контакты сортируются.
func EncodeParticipants(p chat.Participants) string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(id)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(int(p[contact.ID(id)])))
	}
	return b.String()
}

// DecodeParticipants обратное к EncodeParticipants. Некорректные записи
// пропускаются.
func DecodeParticipants(encoded string) chat.Participants {
	out := make(chat.Participants)
	for _, item := range strings.Split(encoded, ",") {
		id, status, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok || id == "" {
			continue
		}
		n, err := strconv.Atoi(status)
		if err != nil {
			continue
		}
		out[contact.ID(id)] = chat.ParticipantStatus(n)
	}
	return out
}

// AddGroupChat сохраняет новый групповой чат.
func (s *SQLiteStore) AddGroupChat(ctx context.Context, gc GroupChat) error {
	encoded := EncodeParticipants(gc.Participants)
	s.logger.Debug("SQLiteStore.AddGroupChat",
		slog.String("chatID", gc.ChatID),
		slog.String("subject", gc.Subject),
		slog.Int("state", int(gc.State)),
		slog.Int("reason", int(gc.Reason)),
		slog.String("participants", encoded))

	var remote sql.NullString
	if gc.Contact != "" {
		remote = sql.NullString{String: gc.Contact.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_chats (chat_id, contact, subject, participants, state, reason_code, direction, user_abortion, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gc.ChatID, remote, gc.Subject, encoded, int(gc.State), int(gc.Reason), int(gc.Direction),
		serverNotified, gc.Timestamp.UnixMilli())
	return errors.Wrapf(err, "add group chat %s", gc.ChatID)
}

// GroupChat возвращает групповой чат или ErrNotFound.
func (s *SQLiteStore) GroupChat(ctx context.Context, chatID string) (*GroupChat, error) {
	var (
		gc                 GroupChat
		remote, rejoin     sql.NullString
		encoded            string
		state, reason, dir int
		ts                 int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, contact, subject, participants, state, reason_code, direction, rejoin_id, timestamp
		FROM group_chats WHERE chat_id = ?`, chatID).
		Scan(&gc.ChatID, &remote, &gc.Subject, &encoded, &state, &reason, &dir, &rejoin, &ts)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get group chat %s", chatID)
	}
	gc.Contact = contact.ID(remote.String)
	gc.RejoinID = rejoin.String
	gc.Participants = DecodeParticipants(encoded)
	gc.State = GroupChatState(state)
	gc.Reason = GroupChatReason(reason)
	gc.Direction = Direction(dir)
	gc.Timestamp = time.UnixMilli(ts)
	return &gc, nil
}

// IsGroupChatPersisted проверяет наличие чата в журнале.
func (s *SQLiteStore) IsGroupChatPersisted(ctx context.Context, chatID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM group_chats WHERE chat_id = ?`, chatID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, errors.Wrapf(err, "lookup group chat %s", chatID)
}

// SetGroupChatState меняет состояние и причину.
func (s *SQLiteStore) SetGroupChatState(ctx context.Context, chatID string, state GroupChatState, reason GroupChatReason) error {
	s.logger.Debug("SQLiteStore.SetGroupChatState",
		slog.String("chatID", chatID),
		slog.Int("state", int(state)),
		slog.Int("reason", int(reason)))
	err := s.execOne(ctx, `UPDATE group_chats SET state = ?, reason_code = ? WHERE chat_id = ?`,
		int(state), int(reason), chatID)
	return errors.Wrapf(err, "set group chat %s state", chatID)
}

// SetGroupChatParticipantsAndState меняет участников вместе с состоянием.
func (s *SQLiteStore) SetGroupChatParticipantsAndState(ctx context.Context, chatID string, p chat.Participants, state GroupChatState, reason GroupChatReason) error {
	err := s.execOne(ctx,
		`UPDATE group_chats SET participants = ?, state = ?, reason_code = ? WHERE chat_id = ?`,
		EncodeParticipants(p), int(state), int(reason), chatID)
	return errors.Wrapf(err, "set group chat %s participants and state", chatID)
}

// UpdateGroupChatParticipants заменяет участников.
func (s *SQLiteStore) UpdateGroupChatParticipants(ctx context.Context, chatID string, p chat.Participants) error {
	err := s.execOne(ctx, `UPDATE group_chats SET participants = ? WHERE chat_id = ?`,
		EncodeParticipants(p), chatID)
	return errors.Wrapf(err, "update group chat %s participants", chatID)
}

// GroupChatParticipants возвращает участников; для неизвестного чата пустой набор.
func (s *SQLiteStore) GroupChatParticipants(ctx context.Context, chatID string) (chat.Participants, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT participants FROM group_chats WHERE chat_id = ?`, chatID).Scan(&encoded)
	if err == sql.ErrNoRows {
		return make(chat.Participants), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get group chat %s participants", chatID)
	}
	return DecodeParticipants(encoded), nil
}

// ParticipantsToBeInvited участники в состоянии INVITE_QUEUED.
func (s *SQLiteStore) ParticipantsToBeInvited(ctx context.Context, chatID string) ([]contact.ID, error) {
	p, err := s.GroupChatParticipants(ctx, chatID)
	if err != nil {
		return nil, err
	}
	var out []contact.ID
	for id, status := range p {
		if status == chat.InviteQueued {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// SetGroupChatRejoinID запоминает идентификатор для повторного входа;
// чат считается начатым.
func (s *SQLiteStore) SetGroupChatRejoinID(ctx context.Context, chatID, rejoinID string) error {
	s.logger.Debug("SQLiteStore.SetGroupChatRejoinID",
		slog.String("chatID", chatID),
		slog.String("rejoinID", rejoinID))
	err := s.execOne(ctx, `UPDATE group_chats SET rejoin_id = ?, state = ? WHERE chat_id = ?`,
		rejoinID, int(GroupChatStarted), chatID)
	return errors.Wrapf(err, "set group chat %s rejoin id", chatID)
}

// SetRejectNextGroupChatInvitation отмечает, что пользователь покинул чат,
// а сервер об этом еще не уведомлен.
func (s *SQLiteStore) SetRejectNextGroupChatInvitation(ctx context.Context, chatID string) error {
	err := s.execOne(ctx, `UPDATE group_chats SET user_abortion = ? WHERE chat_id = ?`,
		serverNotNotified, chatID)
	return errors.Wrapf(err, "set reject next invitation for %s", chatID)
}

// IsGroupChatNextInviteRejected true, если чат прерван пользователем и
// следующее приглашение нужно отклонить.
func (s *SQLiteStore) IsGroupChatNextInviteRejected(ctx context.Context, chatID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM group_chats WHERE chat_id = ? AND state = ? AND reason_code = ? AND user_abortion = ?`,
		chatID, int(GroupChatAborted), int(GroupReasonAbortedByUser), serverNotNotified).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, errors.Wrapf(err, "check next invite of %s", chatID)
}

// AcceptGroupChatNextInvitation снимает отметку об отказе пользователя.
func (s *SQLiteStore) AcceptGroupChatNextInvitation(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE group_chats SET user_abortion = ?
		WHERE chat_id = ? AND state = ? AND reason_code = ? AND user_abortion = ?`,
		serverNotified, chatID, int(GroupChatAborted), int(GroupReasonAbortedByUser), serverNotNotified)
	return errors.Wrapf(err, "accept next invitation for %s", chatID)
}

// ActiveGroupChatsForAutoRejoin идентификаторы начатых групповых чатов.
func (s *SQLiteStore) ActiveGroupChatsForAutoRejoin(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM group_chats WHERE state = ? ORDER BY chat_id`, int(GroupChatStarted))
	if err != nil {
		return nil, errors.Wrap(err, "list active group chats")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
