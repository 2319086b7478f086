package dialog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/dialog/dialogtest"
)

func TestPathFromRequest(t *testing.T) {
	req := dialogtest.NewInvite("sip:+33612345678@ims.example.org", "sip:bob@ims.example.org",
		dialogtest.WithBody("application/sdp", []byte("v=0\r\n")))

	path := dialog.PathFromRequest(req)

	assert.Equal(t, req.CallID().Value(), path.CallID())
	assert.NotEmpty(t, path.LocalTag())
	assert.NotEmpty(t, path.RemoteTag())
	assert.Equal(t, []byte("v=0\r\n"), path.RemoteContent())
	assert.False(t, path.SignalingEstablished())
	assert.False(t, path.SessionEstablished())

	// удаленный контент уже записан из INVITE
	assert.ErrorIs(t, path.SetRemoteContent([]byte("other")), dialog.ErrRemoteContentAlreadySet)
}

func TestPathRemoteContentFrozen(t *testing.T) {
	path := dialog.NewPath("", "sip:alice@example.org", "sip:bob@example.org")
	require.NotEmpty(t, path.CallID())

	path.SetSignalingEstablished()
	path.SetSessionEstablished()

	err := path.SetRemoteContent([]byte("v=0"))
	assert.ErrorIs(t, err, dialog.ErrSessionEstablished)
	assert.Nil(t, path.RemoteContent())

	path2 := dialog.NewPath("call-1", "", "")
	require.NoError(t, path2.SetRemoteContent([]byte("answer")))
	assert.Equal(t, "call-1", path2.CallID())
	assert.Equal(t, []byte("answer"), path2.RemoteContent())
}

func TestRequestAccessors(t *testing.T) {
	req := dialogtest.NewInvite("sip:conf@ims.example.org", "sip:bob@ims.example.org",
		dialogtest.WithHeader("Contact", `<sip:conf@ims.example.org>;isfocus;+g.oma.sip-im`),
		dialogtest.WithHeader("Referred-By", `<sip:alice@example.org>`),
		dialogtest.WithHeader("P-Asserted-Identity", `<tel:+33612345678>, <sip:+33612345678@ims.example.org>`),
		dialogtest.WithHeader("Contribution-ID", "abc-123"),
		dialogtest.WithHeader("Subject", "hello"),
		dialogtest.WithHeader("Session-Expires", "1800;refresher=uac"),
		dialogtest.WithBody(`multipart/mixed; boundary="boundary1"`, []byte("--boundary1--")),
	)

	assert.Equal(t, "sip:alice@example.org", dialog.ReferredBy(req))
	assert.Equal(t, "tel:+33612345678", dialog.AssertedIdentity(req))
	assert.Equal(t, "sip:alice@example.org", dialog.ReferredIdentityURI(req))

	// Referred-By не номер, берется P-Asserted-Identity
	id, ok := dialog.ReferredIdentity(req)
	require.True(t, ok)
	assert.Equal(t, contact.ID("+33612345678"), id)

	assert.Equal(t, "abc-123", dialog.ContributionID(req))
	assert.Equal(t, "hello", dialog.Subject(req))
	assert.Equal(t, "boundary1", dialog.Boundary(req))
	assert.True(t, dialog.IsFocus(req))
	assert.Contains(t, dialog.FeatureTags(req), "+g.oma.sip-im")

	expires, ok := dialog.SessionExpires(req)
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, expires)
}

func TestHeaderParams(t *testing.T) {
	params := dialog.HeaderParams(`<sip:a@b;transport=tcp>;+g.3gpp.iari-ref="urn%3Aa,urn%3Ab";expires=60`)
	assert.Equal(t, "urn%3Aa,urn%3Ab", params["+g.3gpp.iari-ref"])
	assert.Equal(t, "60", params["expires"])
	_, hasTransport := params["transport"]
	assert.False(t, hasTransport, "параметры URI не должны попадать в параметры заголовка")

	assert.Empty(t, dialog.HeaderParams("sip:a@b"))
	assert.Contains(t, dialog.HeaderParams("*;+g.oma.sip-im"), "+g.oma.sip-im")
}

type fakeTransaction struct {
	responses []*sip.Response
	acks      chan *sip.Request
	done      chan struct{}
	err       error
}

func newFakeTransaction() *fakeTransaction {
	return &fakeTransaction{acks: make(chan *sip.Request, 1), done: make(chan struct{})}
}

func (f *fakeTransaction) Respond(res *sip.Response) error {
	f.responses = append(f.responses, res)
	return nil
}
func (f *fakeTransaction) Acks() <-chan *sip.Request { return f.acks }
func (f *fakeTransaction) Done() <-chan struct{}     { return f.done }
func (f *fakeTransaction) Err() error                { return f.err }

func TestServerTX(t *testing.T) {
	req := dialogtest.NewInvite("sip:alice@example.org", "sip:bob@example.org")
	ftx := newFakeTransaction()
	tx := dialog.NewServerTX(req, ftx, "localtag")

	t.Run("предварительный ответ с тегом", func(t *testing.T) {
		require.NoError(t, tx.Provisional(dialog.StatusRinging, "Ringing"))
		resp := ftx.responses[len(ftx.responses)-1]
		assert.Equal(t, dialog.StatusRinging, resp.StatusCode)
		tag, ok := resp.To().Params.Get("tag")
		assert.True(t, ok)
		assert.Equal(t, "localtag", tag)
	})

	t.Run("неверные коды", func(t *testing.T) {
		assert.Error(t, tx.Provisional(200, "OK"))
		assert.Error(t, tx.Reject(180, "Ringing"))
	})

	t.Run("200 OK с телом и Contact", func(t *testing.T) {
		body := dialog.NewBody("application/sdp", []byte("v=0\r\n"))
		require.NoError(t, tx.Answer(body, dialog.WithContact("sip:bob@10.0.0.1", []string{"+g.oma.sip-im"})))
		resp := ftx.responses[len(ftx.responses)-1]
		assert.Equal(t, sip.StatusOK, resp.StatusCode)
		assert.Equal(t, []byte("v=0\r\n"), resp.Body())
		assert.Equal(t, "application/sdp", resp.GetHeader("Content-Type").Value())
		assert.Equal(t, "<sip:bob@10.0.0.1>;+g.oma.sip-im", resp.GetHeader("Contact").Value())
	})

	t.Run("ACK через DeliverAck", func(t *testing.T) {
		tx.DeliverAck(req)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, tx.WaitAck(ctx))
	})

	t.Run("ACK не пришел", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, tx.WaitAck(ctx), context.DeadlineExceeded)
	})

	t.Run("транзакция завершилась", func(t *testing.T) {
		ftx.err = errors.New("timer H")
		close(ftx.done)
		err := tx.WaitAck(context.Background())
		assert.ErrorContains(t, err, "timer H")
	})
}

func TestNewResponse(t *testing.T) {
	req := dialogtest.NewInvite("sip:alice@example.org", "sip:bob@example.org")

	t.Run("тело с Content-Type", func(t *testing.T) {
		resp := dialog.NewResponse(req, sip.StatusOK, "OK", dialog.NewBody("application/sdp", []byte("v=0\r\n")))
		require.NotNil(t, resp.GetHeader("Content-Type"))
		assert.Equal(t, "application/sdp", resp.GetHeader("Content-Type").Value())
		assert.Equal(t, []byte("v=0\r\n"), resp.Body())
	})

	t.Run("без тела", func(t *testing.T) {
		resp := dialog.NewResponse(req, dialog.StatusBusyHere, "Busy Here", nil)
		assert.Nil(t, resp.GetHeader("Content-Type"))
		assert.Empty(t, resp.Body())
	})

	t.Run("тестовая транзакция отвечает так же", func(t *testing.T) {
		tx := dialogtest.NewServerTX(req)
		require.NoError(t, tx.Answer(dialog.NewBody("application/sdp", []byte("v=0\r\n"))))
		resp := tx.Last()
		require.NotNil(t, resp.GetHeader("Content-Type"))
		assert.Equal(t, "application/sdp", resp.GetHeader("Content-Type").Value())
	})
}
