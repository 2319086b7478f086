package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/media_sdp"
	"github.com/arzzra/rcs_core/pkg/session"
)

func newChatSession(remote contact.ID, group bool) *session.Session {
	kind := session.NewChatKind(session.ChatConfig{
		Media:  media_sdp.MessageParams{LocalIP: "10.0.0.1", Port: 9, Path: "msrp://10.0.0.1:9/x;tcp"},
		Sender: &fakeSender{},
		Group:  group,
	})
	return session.NewOriginating(remote, "sip:me@ims.example.org", "sip:"+remote.String()+"@ims.example.org", kind, &fakeRequester{}, testConfig())
}

func TestDirectoryGetOrCreateChat(t *testing.T) {
	dir := session.NewDirectory()
	remote := contact.ID("+33612345678")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		got     = make(map[*session.Session]struct{})
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, isNew, err := dir.GetOrCreateChat(remote, func() (*session.Session, error) {
				return newChatSession(remote, false), nil
			})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if isNew {
				created++
			}
			got[s] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created, "чат создается один раз")
	assert.Len(t, got, 1)
	assert.Equal(t, 1, dir.Len())

	for s := range got {
		byCallID, ok := dir.ByCallID(s.Path().CallID())
		require.True(t, ok)
		assert.Same(t, s, byCallID)

		dir.Remove(s)
		dir.Remove(s)
	}
	_, ok := dir.ChatFor(remote)
	assert.False(t, ok)
	assert.Zero(t, dir.Len())
}

func TestDirectoryGroupChatNotOneToOne(t *testing.T) {
	dir := session.NewDirectory()
	remote := contact.ID("+33612345678")
	group := newChatSession(remote, true)
	dir.Add(group)

	_, ok := dir.ChatFor(remote)
	assert.False(t, ok, "групповой чат не считается чатом один на один")
	got, ok := dir.Get(group.ID())
	require.True(t, ok)
	assert.Same(t, group, got)
	assert.Len(t, dir.Sessions(), 1)
}

func TestDirectoryRemoveKeepsReplacement(t *testing.T) {
	dir := session.NewDirectory()
	remote := contact.ID("+33612345678")
	old := newChatSession(remote, false)
	dir.Add(old)
	replacement := newChatSession(remote, false)
	dir.Add(replacement)

	dir.Remove(old)
	got, ok := dir.ChatFor(remote)
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestInvitationGate(t *testing.T) {
	t.Run("первое решение выигрывает", func(t *testing.T) {
		g := session.NewInvitationGate()
		assert.True(t, g.Answer(session.Accepted))
		assert.False(t, g.Answer(session.Rejected))

		a, err := g.Wait(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, session.Accepted, a)
	})

	t.Run("таймаут фиксирует NotAnswered", func(t *testing.T) {
		g := session.NewInvitationGate()
		a, err := g.Wait(context.Background(), 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, session.NotAnswered, a)
		assert.False(t, g.Answer(session.Accepted))
	})

	t.Run("отмена контекста", func(t *testing.T) {
		g := session.NewInvitationGate()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := g.Wait(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("конкурентные ответы", func(t *testing.T) {
		g := session.NewInvitationGate()
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for _, a := range []session.InvitationAnswer{session.Accepted, session.Rejected, session.Canceled, session.Deleted} {
			wg.Add(1)
			go func(a session.InvitationAnswer) {
				defer wg.Done()
				if g.Answer(a) {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(a)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func TestSessionTimer(t *testing.T) {
	timer := session.NewSessionTimer(time.Second)
	defer timer.Stop()
	assert.Equal(t, session.SessionTimerMin, timer.Interval(), "интервал поднимается до минимума")

	select {
	case <-timer.Expired():
		t.Fatal("таймер не должен истечь сразу")
	default:
	}
}
