package chat_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/dialog/dialogtest"
	"github.com/arzzra/rcs_core/pkg/envelope"
)

const (
	alice    = contact.ID("+33612345678")
	boundary = "boundary1"
)

var (
	sentAt     = time.UnixMilli(1700000000123)
	receivedAt = time.UnixMilli(1700000005000)
)

func multipartBody(parts ...[2]string) []byte {
	body := ""
	for _, p := range parts {
		body += "--" + boundary + "\r\nContent-Type: " + p[0] + "\r\n\r\n" + p[1] + "\r\n"
	}
	return []byte(body + "--" + boundary + "--\r\n")
}

func chatInvite(opts ...dialogtest.InviteOpt) []dialogtest.InviteOpt {
	return append([]dialogtest.InviteOpt{
		dialogtest.WithHeader("P-Asserted-Identity", "<tel:"+alice.String()+">"),
	}, opts...)
}

func TestGetFirstMessage(t *testing.T) {
	t.Run("из CPIM", func(t *testing.T) {
		cpim := envelope.BuildCpimMessageWithImdn("sip:anonymous@anonymous.invalid", "sip:anonymous@anonymous.invalid",
			"msg-1", "hello", envelope.MimeTextPlain, sentAt)
		req := dialogtest.NewInvite("sip:alice@ims.example.org", "sip:bob@ims.example.org", chatInvite(
			dialogtest.WithBody(`multipart/mixed;boundary="`+boundary+`"`, multipartBody(
				[2]string{"application/sdp", "v=0"},
				[2]string{envelope.MimeCpim, cpim},
			)),
		)...)

		require.True(t, chat.IsContainingFirstMessage(req))
		msg := chat.GetFirstMessage(req, receivedAt)
		require.NotNil(t, msg)
		assert.Equal(t, "msg-1", msg.ID())
		assert.Equal(t, alice, msg.Remote())
		assert.Equal(t, "hello", msg.Content())
		assert.Equal(t, envelope.MimeTextPlain, msg.MimeType())
		assert.True(t, msg.Timestamp().Equal(receivedAt))
		assert.True(t, msg.TimestampSent().Equal(sentAt))

		assert.True(t, chat.IsImdnDeliveredRequested(req))
		assert.True(t, chat.IsImdnDisplayedRequested(req))
		assert.Equal(t, "msg-1", chat.GetMessageID(req))
		assert.False(t, chat.IsFileTransferOverHttp(req))
	})

	t.Run("из Subject", func(t *testing.T) {
		req := dialogtest.NewInvite("sip:alice@ims.example.org", "sip:bob@ims.example.org", chatInvite(
			dialogtest.WithHeader("Subject", "hi there"),
		)...)

		msg := chat.GetFirstMessage(req, receivedAt)
		require.NotNil(t, msg)
		assert.Equal(t, "hi there", msg.Content())
		assert.NotEmpty(t, msg.ID())
		// время отправки неизвестно
		assert.Equal(t, msg.Timestamp(), msg.TimestampSent())
		assert.False(t, chat.IsImdnDeliveredRequested(req))
		assert.Empty(t, chat.GetMessageID(req))
	})

	t.Run("неизвестный тип", func(t *testing.T) {
		cpim := envelope.BuildCpimMessageWithImdn("sip:a@b", "sip:c@d", "msg-2", "<x/>", "application/xml", sentAt)
		req := dialogtest.NewInvite("sip:alice@ims.example.org", "sip:bob@ims.example.org", chatInvite(
			dialogtest.WithBody("multipart/mixed; boundary="+boundary, multipartBody([2]string{envelope.MimeCpim, cpim})),
		)...)
		assert.Nil(t, chat.GetFirstMessage(req, receivedAt))
	})

	t.Run("без идентификатора инициатора", func(t *testing.T) {
		req := dialogtest.NewInvite("sip:alice@ims.example.org", "sip:bob@ims.example.org",
			dialogtest.WithHeader("Subject", "hi"))
		assert.Nil(t, chat.GetFirstMessage(req, receivedAt))
		assert.True(t, chat.IsContainingFirstMessage(req))
	})
}

func TestFileTransferOverHttp(t *testing.T) {
	info := envelope.BuildFileTransferHttpInfo(&envelope.FileTransferHttpInfo{
		URI: "https://ft.example.org/f/1", Name: "a.jpg", Size: 10, MimeType: "image/jpeg", Expiration: sentAt,
	})
	cpim := envelope.BuildCpimMessageWithoutDisplayedImdn("sip:a@b", "sip:c@d", "ft-1", info, envelope.MimeFileTransferHttp, sentAt)
	req := dialogtest.NewInvite("sip:alice@ims.example.org", "sip:bob@ims.example.org", chatInvite(
		dialogtest.WithBody("multipart/mixed; boundary="+boundary, multipartBody([2]string{envelope.MimeCpim, cpim})),
	)...)

	assert.True(t, chat.IsFileTransferOverHttp(req))
	assert.True(t, chat.IsImdnDeliveredRequested(req))
	assert.False(t, chat.IsImdnDisplayedRequested(req))

	msg := chat.GetFirstMessage(req, receivedAt)
	require.NotNil(t, msg)
	assert.Equal(t, envelope.MimeFileTransferHttp, msg.MimeType())
	assert.Equal(t, "ft-1", msg.ID())
}

func TestGetParticipants(t *testing.T) {
	list := chat.ResourceList([]contact.ID{"+33698765432", "+33611223344"})
	req := dialogtest.NewInvite("sip:conf@ims.example.org", "sip:bob@ims.example.org", chatInvite(
		dialogtest.WithHeader("Contact", "<sip:conf@ims.example.org>;isfocus"),
		dialogtest.WithBody("multipart/mixed; boundary="+boundary, multipartBody(
			[2]string{"application/sdp", "v=0"},
			[2]string{envelope.MimeResourceLists, list},
		)),
	)...)

	assert.True(t, chat.IsGroupChatInvitation(req))

	got := chat.GetParticipants(req, chat.Invited)
	assert.Equal(t, chat.Participants{
		"+33698765432": chat.Invited,
		"+33611223344": chat.Invited,
		alice:          chat.Invited,
	}, got)

	plain := dialogtest.NewInvite("sip:alice@ims.example.org", "sip:bob@ims.example.org", chatInvite()...)
	assert.Empty(t, chat.GetParticipants(plain, chat.Invited))
	assert.False(t, chat.IsGroupChatInvitation(plain))
}

func TestIsImdnService(t *testing.T) {
	report := envelope.BuildCpimDeliveryReport("sip:a@b", "sip:c@d",
		envelope.BuildImdnDeliveryReport("msg-1", envelope.StatusDelivered, sentAt), sentAt)

	req := dialogtest.NewInvite("sip:alice@ims.example.org", "sip:bob@ims.example.org",
		dialogtest.WithBody(envelope.MimeCpim, []byte(report)))
	assert.True(t, chat.IsImdnService(req))

	text := dialogtest.NewInvite("sip:alice@ims.example.org", "sip:bob@ims.example.org",
		dialogtest.WithBody(envelope.MimeTextPlain, []byte(report)))
	assert.False(t, chat.IsImdnService(text))
}

func TestNewChatMessage(t *testing.T) {
	msg, err := chat.NewChatMessage("id-1", envelope.MimeTextPlain, "hi", alice, "Alice", receivedAt, sentAt)
	require.NoError(t, err)
	assert.Equal(t, envelope.MimeTextPlain, msg.MimeType())
	assert.Equal(t, "Alice", msg.DisplayName())

	msg, err = chat.NewChatMessage("id-2", envelope.MimeGeolocMessage, "doc", alice, "", receivedAt, sentAt)
	require.NoError(t, err)
	assert.Equal(t, envelope.MimeGeoloc, msg.MimeType())
	assert.Equal(t, envelope.MimeGeolocMessage, chat.NetworkMimeToAPIMime(msg.MimeType()))
	assert.Equal(t, envelope.MimeTextPlain, chat.NetworkMimeToAPIMime(envelope.MimeTextPlain))

	_, err = chat.NewChatMessage("id-3", "image/png", "x", alice, "", receivedAt, sentAt)
	assert.ErrorIs(t, err, chat.ErrInvalidMimeType)
}

func TestNetworkContentToPersisted(t *testing.T) {
	g := envelope.Geoloc{Label: "home", Latitude: 48.85, Longitude: 2.35, Expiration: time.UnixMilli(2000), Accuracy: 5}
	msg := chat.NewGeolocMessage(alice, g, "tel:+33699999999", receivedAt, sentAt)
	assert.Equal(t, envelope.MimeGeoloc, msg.MimeType())

	persisted, err := chat.NetworkContentToPersisted(msg)
	require.NoError(t, err)
	assert.Equal(t, "home,48.85,2.35,2000,5", persisted)

	text := chat.NewTextMessage(alice, "plain", receivedAt, sentAt)
	persisted, err = chat.NetworkContentToPersisted(text)
	require.NoError(t, err)
	assert.Equal(t, "plain", persisted)

	broken := chat.NewMessage("id", alice, "not xml", envelope.MimeGeoloc, receivedAt, sentAt, "")
	_, err = chat.NetworkContentToPersisted(broken)
	assert.Error(t, err)
}

func TestSupportedFeatureTags(t *testing.T) {
	tests := []struct {
		name     string
		features chat.Features
		want     []string
	}{
		{"только IM", chat.Features{}, []string{chat.FeatureOmaIM}},
		{"гео и FT-HTTP", chat.Features{GeolocationPush: true, FileTransferHTTP: true}, []string{
			chat.FeatureOmaIM,
			chat.FeatureRcse + `="` + chat.FeatureGeolocationPush + "," + chat.FeatureFileTransferHTTP + `"`,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chat.SupportedFeatureTags(tt.features))
		})
	}
}

func TestParticipantStatus(t *testing.T) {
	for s := chat.InviteQueued; s <= chat.Timeout; s++ {
		back, ok := chat.ParseParticipantStatus(s.String())
		require.True(t, ok)
		assert.Equal(t, s, back)
	}
	assert.Equal(t, "UNKNOWN", chat.ParticipantStatus(42).String())
}
