package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/domain"
)

func pollerFixture(msgs *fakeMessageRepo, mail *fakeMail) (*Poller, *Manager, domain.User) {
	u := domain.User{ID: "u1", EmailAddress: "a@b.com"}
	users := newFakeUserRepo(u)
	cfg := config.Config{
		PollingInterval:  time.Hour,
		PollFetchLimit:   100,
		InitialSyncLimit: 500,
		ReindexInterval:  time.Hour,
		RetryDelay:       time.Millisecond,
		MaxRetries:       3,
		ChunkSize:        800,
		EmbedBatchSize:   64,
	}
	cache := NewQueryCache(time.Minute)
	ix := NewIndexer(cfg, msgs, newFakeVectorStore(), &fakeEmbedder{}, cache)
	mgr := NewManager(cfg, users, ix, newFakeVectorStore(), NewRateLimitGate(time.Hour))
	return NewPoller(cfg, users, msgs, mail, mgr), mgr, u
}

func Test_PollOnce_InitialSyncUsesLargerWindow(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{}
	p, _, u := pollerFixture(&fakeMessageRepo{}, mail)

	stored, err := p.PollOnce(context.Background(), u)
	require.NoError(t, err)
	assert.Zero(t, stored)

	require.Len(t, mail.fetches, 1)
	assert.True(t, mail.fetches[0].after.IsZero())
	assert.Equal(t, 500, mail.fetches[0].limit)
}

func Test_PollOnce_WatermarkTruncatedToDay(t *testing.T) {
	t.Parallel()

	msgs := &fakeMessageRepo{maxDate: time.Date(2026, 8, 20, 17, 45, 12, 0, time.UTC)}
	mail := &fakeMail{}
	p, _, u := pollerFixture(msgs, mail)

	_, err := p.PollOnce(context.Background(), u)
	require.NoError(t, err)

	require.Len(t, mail.fetches, 1)
	assert.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), mail.fetches[0].after)
	assert.Equal(t, 100, mail.fetches[0].limit)
}

func Test_PollOnce_StoresNewSkipsExisting(t *testing.T) {
	t.Parallel()

	msgs := &fakeMessageRepo{maxDate: time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)}
	msgs.msgs = []domain.Message{{ID: 1, UserID: "u1", ProviderMessageID: "m1", Labels: []string{"INBOX"}}}
	msgs.nextID = 1

	mail := &fakeMail{incoming: []domain.IncomingMessage{
		{ProviderMessageID: "m1", Sender: "a@x.com", Subject: "seen before", Labels: []string{"INBOX"}},
		{ProviderMessageID: "m2", Sender: "b@x.com", Subject: "brand new", Labels: []string{"INBOX", "UNREAD"}},
	}}
	p, mgr, u := pollerFixture(msgs, mail)

	stored, err := p.PollOnce(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	require.Len(t, msgs.created, 1)
	created := msgs.created[0]
	assert.Equal(t, "m2", created.ProviderMessageID)
	assert.False(t, created.IsRead)

	// New rows enqueue an index request.
	mgr.mu.Lock()
	pending := mgr.pending[u.ID]
	mgr.mu.Unlock()
	assert.True(t, pending)
}

func Test_PollOnce_NothingNewDoesNotEnqueue(t *testing.T) {
	t.Parallel()

	msgs := &fakeMessageRepo{maxDate: time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)}
	mail := &fakeMail{}
	p, mgr, u := pollerFixture(msgs, mail)

	stored, err := p.PollOnce(context.Background(), u)
	require.NoError(t, err)
	assert.Zero(t, stored)

	mgr.mu.Lock()
	pending := mgr.pending[u.ID]
	mgr.mu.Unlock()
	assert.False(t, pending)
}

func Test_Poller_StartStop(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{}
	p, _, u := pollerFixture(&fakeMessageRepo{}, mail)

	p.Start(u)
	p.Start(u)

	require.Eventually(t, func() bool {
		mail.mu.Lock()
		defer mail.mu.Unlock()
		return len(mail.fetches) == 1
	}, 2*time.Second, 10*time.Millisecond)

	st := p.Statuses()[u.ID]
	assert.True(t, st.Running)

	p.Stop(u.ID)
	assert.False(t, p.Statuses()[u.ID].Running)
}
