package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/dialog/dialogtest"
	"github.com/arzzra/rcs_core/pkg/envelope"
	"github.com/arzzra/rcs_core/pkg/journal"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/store"
)

const (
	alice    = contact.ID("+33612345678")
	boundary = "boundary1"
)

var at = time.UnixMilli(1700000000000)

func newJournal(t *testing.T) (*journal.Journal, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return journal.New(st, nil), st
}

func multipartBody(parts ...[2]string) []byte {
	body := ""
	for _, p := range parts {
		body += "--" + boundary + "\r\nContent-Type: " + p[0] + "\r\n\r\n" + p[1] + "\r\n"
	}
	return []byte(body + "--" + boundary + "--\r\n")
}

func chatSession(t *testing.T, group bool, opts ...dialogtest.InviteOpt) *session.Session {
	t.Helper()
	opts = append([]dialogtest.InviteOpt{
		dialogtest.WithHeader(dialog.HeaderAssertedIdentity, "<tel:"+alice.String()+">"),
	}, opts...)
	req := dialogtest.NewInvite("sip:conf@ims.example.org", "sip:bob@ims.example.org", opts...)
	kind := session.NewChatKind(session.ChatConfig{
		Media: media_sdp.MessageParams{LocalIP: "10.0.0.1", Port: 9, Path: "msrp://10.0.0.1:9/a;tcp"},
		Group: group,
	})
	return session.NewTerminating(dialogtest.NewServerTX(req), kind, session.DefaultConfig())
}

func TestMessagesAndReports(t *testing.T) {
	j, st := newJournal(t)
	ctx := context.Background()

	j.OnMessage(chat.NewMessage("in-1", alice, "привет", envelope.MimeTextPlain, at, at, ""))
	rec, err := st.Message(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, store.Incoming, rec.Direction)
	assert.Equal(t, store.MessageReceived, rec.Status)
	assert.Equal(t, alice.String(), rec.ChatID)

	j.Outgoing(chat.NewMessage("out-1", alice, "ответ", envelope.MimeTextPlain, at, at, ""))

	tests := []struct {
		name   string
		status string
		want   store.MessageStatus
	}{
		{name: "доставлено", status: envelope.StatusDelivered, want: store.MessageDelivered},
		{name: "прочитано", status: envelope.StatusDisplayed, want: store.MessageDisplayed},
		{name: "ошибка", status: envelope.StatusError, want: store.MessageFailed},
		{name: "обработка не меняет статус", status: envelope.StatusProcessed, want: store.MessageFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j.OnDeliveryReport(alice, &envelope.ImdnDocument{MessageID: "out-1", Status: tt.status})
			rec, err := st.Message(ctx, "out-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Status)
		})
	}

	t.Run("отчет о неизвестном сообщении", func(t *testing.T) {
		assert.NotPanics(t, func() {
			j.OnDeliveryReport(alice, &envelope.ImdnDocument{MessageID: "missing", Status: envelope.StatusDelivered})
		})
	})
}

func TestFirstMessageOfChat(t *testing.T) {
	j, st := newJournal(t)
	cpim := envelope.BuildCpimMessageWithImdn("sip:anonymous@anonymous.invalid", "sip:anonymous@anonymous.invalid",
		"first-1", "hello", envelope.MimeTextPlain, at)
	s := chatSession(t, false, dialogtest.WithBody(`multipart/mixed;boundary="`+boundary+`"`, multipartBody(
		[2]string{"application/sdp", "v=0"},
		[2]string{envelope.MimeCpim, cpim},
	)))

	j.OnInvited(s, session.Invitation{Remote: alice, Timestamp: at})
	rec, err := st.Message(context.Background(), "first-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Content)
	assert.Equal(t, store.Incoming, rec.Direction)
}

func TestGroupChatLifecycle(t *testing.T) {
	j, st := newJournal(t)
	ctx := context.Background()
	list := chat.ResourceList([]contact.ID{"+33698765432"})
	s := chatSession(t, true,
		dialogtest.WithHeader("Contact", "<sip:conf@ims.example.org>;isfocus"),
		dialogtest.WithHeader(dialog.HeaderContributionID, "contrib-1"),
		dialogtest.WithBody("multipart/mixed; boundary="+boundary, multipartBody(
			[2]string{"application/sdp", "v=0"},
			[2]string{envelope.MimeResourceLists, list},
		)),
	)

	j.OnInvited(s, session.Invitation{Remote: alice, Subject: "обед", Timestamp: at})
	gc, err := st.GroupChat(ctx, "contrib-1")
	require.NoError(t, err)
	assert.Equal(t, store.GroupChatInvited, gc.State)
	assert.Equal(t, "обед", gc.Subject)
	assert.Equal(t, chat.Participants{
		"+33698765432": chat.Invited,
		alice:          chat.Invited,
	}, gc.Participants)

	j.OnAccepted(s)
	gc, err = st.GroupChat(ctx, "contrib-1")
	require.NoError(t, err)
	assert.Equal(t, store.GroupChatAccepting, gc.State)

	j.OnStarted(s)
	gc, err = st.GroupChat(ctx, "contrib-1")
	require.NoError(t, err)
	assert.Equal(t, store.GroupChatStarted, gc.State)

	j.OnTerminated(s, session.ReasonByRemote)
	gc, err = st.GroupChat(ctx, "contrib-1")
	require.NoError(t, err)
	assert.Equal(t, store.GroupChatAborted, gc.State)
	assert.Equal(t, store.GroupReasonAbortedByRemote, gc.Reason)

	j.OnError(s, session.NewError(session.ErrKindSessionInitiationFailed, "x"))
	gc, err = st.GroupChat(ctx, "contrib-1")
	require.NoError(t, err)
	assert.Equal(t, store.GroupChatFailed, gc.State)
}
