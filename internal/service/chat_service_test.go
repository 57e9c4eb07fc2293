package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceshq/spaces-server/internal/cache"
	"github.com/spaceshq/spaces-server/internal/domain"
	"github.com/spaceshq/spaces-server/internal/events"
	"github.com/spaceshq/spaces-server/internal/registry"
)

// fakeTransport records every subscription and outbound message so tests
// can assert fan-out without a websocket in sight.
type fakeTransport struct {
	mu         sync.Mutex
	subs       map[string]map[string]bool
	emits      map[string][]interface{}
	broadcasts map[string][]interface{}
	all        []interface{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subs:       make(map[string]map[string]bool),
		emits:      make(map[string][]interface{}),
		broadcasts: make(map[string][]interface{}),
	}
}

func (f *fakeTransport) Subscribe(connectionID, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[connectionID] == nil {
		f.subs[connectionID] = make(map[string]bool)
	}
	f.subs[connectionID][channel] = true
}

func (f *fakeTransport) Unsubscribe(connectionID, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[connectionID], channel)
}

func (f *fakeTransport) Subscribed(connectionID, channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[connectionID][channel]
}

func (f *fakeTransport) Emit(connectionID string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits[connectionID] = append(f.emits[connectionID], message)
	return nil
}

func (f *fakeTransport) Broadcast(channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts[channel] = append(f.broadcasts[channel], message)
	return nil
}

func (f *fakeTransport) BroadcastAll(message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, message)
	return nil
}

func (f *fakeTransport) channels(connectionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs[connectionID]))
	for ch := range f.subs[connectionID] {
		out = append(out, ch)
	}
	return out
}

func emitsOf[T any](f *fakeTransport, connectionID string) []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []T
	for _, m := range f.emits[connectionID] {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func broadcastsOf[T any](f *fakeTransport, channel string) []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []T
	for _, m := range f.broadcasts[channel] {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// fakeMessageRepo is an in-memory MessageRepository with optional
// failure injection and query hooks for race scenarios.
type fakeMessageRepo struct {
	mu                  sync.Mutex
	stored              []domain.Message
	seq                 int
	failPersist         bool
	onQuerySpace        func(space string)
	onQueryConversation func()
}

func (r *fakeMessageRepo) Persist(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPersist {
		return errors.New("store unavailable")
	}
	r.seq++
	msg.ID = fmt.Sprintf("m%d", r.seq)
	msg.CreatedAt = time.Unix(int64(r.seq), 0).UTC()
	r.stored = append(r.stored, *msg)
	return nil
}

func (r *fakeMessageRepo) QuerySpace(ctx context.Context, space string) ([]domain.Message, error) {
	if r.onQuerySpace != nil {
		r.onQuerySpace(space)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, 0)
	for _, m := range r.stored {
		if m.Kind == domain.MessageKindSpace && m.Space == space {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) QueryConversation(ctx context.Context, a, b string) ([]domain.Message, error) {
	if r.onQueryConversation != nil {
		r.onQueryConversation()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, 0)
	for _, m := range r.stored {
		if m.Kind != domain.MessageKindDirect {
			continue
		}
		if (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) QueryAll(ctx context.Context) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.stored...), nil
}

// scriptedCache is an in-memory HistoryCache with a one-shot hook fired
// at the start of Set, before the entry lands.
type scriptedCache struct {
	mu      sync.Mutex
	entries map[string][]domain.Message
	onSet   func()
}

func newScriptedCache() *scriptedCache {
	return &scriptedCache{entries: make(map[string][]domain.Message)}
}

func (c *scriptedCache) Get(ctx context.Context, space string) ([]domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages, ok := c.entries[space]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return messages, nil
}

func (c *scriptedCache) Set(ctx context.Context, space string, messages []domain.Message, ttl time.Duration) error {
	c.mu.Lock()
	hook := c.onSet
	c.onSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[space] = messages
	return nil
}

func (c *scriptedCache) Invalidate(ctx context.Context, space string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, space)
	return nil
}

func (c *scriptedCache) Close() error { return nil }

func (c *scriptedCache) has(space string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[space]
	return ok
}

type fixture struct {
	transport *fakeTransport
	registry  registry.Registry
	repo      *fakeMessageRepo
	svc       ChatService
}

func newFixture() *fixture {
	tr := newFakeTransport()
	reg := registry.NewMemory()
	repo := &fakeMessageRepo{}
	svc := NewChatService(tr, reg, repo, cache.Noop{}, time.Minute, events.NoopProducer{}, "general")
	return &fixture{transport: tr, registry: reg, repo: repo, svc: svc}
}

func TestJoinSubscribesAndAnnounces(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))

	assert.True(t, f.transport.Subscribed("c1", "space:general"))

	joined := emitsOf[*domain.JoinedMessage](f.transport, "c1")
	require.Len(t, joined, 1)
	assert.Equal(t, "general", joined[0].Space)

	history := emitsOf[*domain.ChatHistoryMessage](f.transport, "c1")
	require.Len(t, history, 1)
	assert.Equal(t, "general", history[0].Space)
	assert.Empty(t, history[0].Messages)

	rosters := broadcastsOf[*domain.SpaceUsersMessage](f.transport, "space:general")
	require.NotEmpty(t, rosters)
	last := rosters[len(rosters)-1]
	assert.Equal(t, []domain.SpaceUser{{ConnectionID: "c1", Nickname: "ana"}}, last.Users)

	require.NotEmpty(t, f.transport.all)
	allUsers, ok := f.transport.all[len(f.transport.all)-1].(*domain.AllUsersMessage)
	require.True(t, ok)
	assert.Equal(t, []domain.Identity{{Nickname: "ana"}}, allUsers.Users)
}

func TestJoinDefaultsSpace(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.svc.HandleJoin(context.Background(), "c1", "ana", ""))

	s, ok := f.registry.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "general", s.Space)
	assert.True(t, f.transport.Subscribed("c1", "space:general"))
}

func TestJoinRejectsInvalidNickname(t *testing.T) {
	f := newFixture()

	err := f.svc.HandleJoin(context.Background(), "c1", "", "general")
	assert.ErrorIs(t, err, ErrValidation)

	err = f.svc.HandleJoin(context.Background(), "c1", "ana|bruno", "general")
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 0, f.registry.Len())
	errs := emitsOf[*domain.ErrorMessage](f.transport, "c1")
	require.Len(t, errs, 2)
	assert.Equal(t, domain.ErrCodeBadRequest, errs[0].Code)
}

func TestRejoinReplacesSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))
	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "random"))

	assert.False(t, f.transport.Subscribed("c1", "space:general"))
	assert.True(t, f.transport.Subscribed("c1", "space:random"))
	assert.Equal(t, 1, f.registry.Len())
}

func TestSwitchSpaceMovesSubscription(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))
	require.NoError(t, f.svc.HandleJoin(ctx, "c2", "bruno", "general"))
	require.NoError(t, f.svc.HandleSwitchSpace(ctx, "c1", "random"))

	assert.Equal(t, []string{"space:random"}, f.transport.channels("c1"))

	changed := emitsOf[*domain.SpaceChangedMessage](f.transport, "c1")
	require.Len(t, changed, 1)
	assert.Equal(t, "random", changed[0].Space)

	// the space left behind sees the shrunken roster
	oldRosters := broadcastsOf[*domain.SpaceUsersMessage](f.transport, "space:general")
	require.NotEmpty(t, oldRosters)
	last := oldRosters[len(oldRosters)-1]
	assert.Equal(t, []domain.SpaceUser{{ConnectionID: "c2", Nickname: "bruno"}}, last.Users)

	newRosters := broadcastsOf[*domain.SpaceUsersMessage](f.transport, "space:random")
	require.NotEmpty(t, newRosters)
	assert.Equal(t, []domain.SpaceUser{{ConnectionID: "c1", Nickname: "ana"}}, newRosters[len(newRosters)-1].Users)

	history := emitsOf[*domain.ChatHistoryMessage](f.transport, "c1")
	require.Len(t, history, 2)
	assert.Equal(t, "random", history[1].Space)
}

func TestSwitchSpaceRequiresSession(t *testing.T) {
	f := newFixture()

	err := f.svc.HandleSwitchSpace(context.Background(), "ghost", "random")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestSwitchSpaceRequiresName(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))

	err := f.svc.HandleSwitchSpace(ctx, "c1", "")
	assert.ErrorIs(t, err, ErrValidation)

	s, _ := f.registry.Get("c1")
	assert.Equal(t, "general", s.Space)
}

func TestStartDirectConverges(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))
	require.NoError(t, f.svc.HandleJoin(ctx, "c2", "bruno", "random"))

	require.NoError(t, f.svc.HandleStartDirect(ctx, "c1", "bruno"))
	require.NoError(t, f.svc.HandleStartDirect(ctx, "c2", "ana"))

	// both ends land on the same channel regardless of who initiated
	assert.Equal(t, []string{"dm:ana|bruno"}, f.transport.channels("c1"))
	assert.Equal(t, []string{"dm:ana|bruno"}, f.transport.channels("c2"))

	started := emitsOf[*domain.DirectStartedMessage](f.transport, "c1")
	require.Len(t, started, 1)
	assert.Equal(t, "bruno", started[0].Peer)
	assert.Equal(t, "ana|bruno", started[0].Conversation)

	history := emitsOf[*domain.DirectHistoryMessage](f.transport, "c2")
	require.Len(t, history, 1)
	assert.Equal(t, "ana", history[0].Peer)
}

func TestStartDirectSendsSharedHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.repo.Persist(ctx, &domain.Message{
		Sender: "ana", Recipient: "bruno", Kind: domain.MessageKindDirect, Content: "hi",
	}))
	require.NoError(t, f.repo.Persist(ctx, &domain.Message{
		Sender: "bruno", Recipient: "ana", Kind: domain.MessageKindDirect, Content: "hey",
	}))

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))
	require.NoError(t, f.svc.HandleStartDirect(ctx, "c1", "bruno"))

	history := emitsOf[*domain.DirectHistoryMessage](f.transport, "c1")
	require.Len(t, history, 1)
	require.Len(t, history[0].Messages, 2)
	assert.Equal(t, "hi", history[0].Messages[0].Content)
	assert.Equal(t, "hey", history[0].Messages[1].Content)
}

func TestStartDirectWithSelf(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))
	require.NoError(t, f.svc.HandleStartDirect(ctx, "c1", "ana"))

	assert.Equal(t, []string{"dm:ana|ana"}, f.transport.channels("c1"))
}

func TestEndDirectReturnsToSpace(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "random"))
	require.NoError(t, f.svc.HandleStartDirect(ctx, "c1", "bruno"))
	require.NoError(t, f.svc.HandleEndDirect(ctx, "c1", ""))

	assert.Equal(t, []string{"space:general"}, f.transport.channels("c1"))

	closed := emitsOf[*domain.DirectClosedMessage](f.transport, "c1")
	require.Len(t, closed, 1)
	assert.Equal(t, "general", closed[0].Space)

	rosters := broadcastsOf[*domain.SpaceUsersMessage](f.transport, "space:general")
	require.NotEmpty(t, rosters)
	assert.Equal(t, []domain.SpaceUser{{ConnectionID: "c1", Nickname: "ana"}}, rosters[len(rosters)-1].Users)
}

func TestEndDirectRequiresDirectMode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))

	err := f.svc.HandleEndDirect(ctx, "c1", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSendSpaceMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))
	require.NoError(t, f.svc.HandleJoin(ctx, "c2", "bruno", "general"))

	require.NoError(t, f.svc.HandleSendMessage(ctx, "c1", "hello all", ""))

	require.Len(t, f.repo.stored, 1)
	stored := f.repo.stored[0]
	assert.Equal(t, domain.MessageKindSpace, stored.Kind)
	assert.Equal(t, "general", stored.Space)
	assert.Equal(t, "ana", stored.Sender)
	assert.NotEmpty(t, stored.ID)

	out := broadcastsOf[*domain.MessageOut](f.transport, "space:general")
	require.Len(t, out, 1)
	assert.Equal(t, domain.MsgTypeMessage, out[0].Type)
	assert.Equal(t, "hello all", out[0].Message.Content)
}

func TestSendDirectMessageBroadcastsToConversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))
	require.NoError(t, f.svc.HandleJoin(ctx, "c2", "bruno", "general"))
	require.NoError(t, f.svc.HandleStartDirect(ctx, "c1", "bruno"))
	require.NoError(t, f.svc.HandleStartDirect(ctx, "c2", "ana"))

	require.NoError(t, f.svc.HandleSendMessage(ctx, "c1", "psst", ""))

	require.Len(t, f.repo.stored, 1)
	assert.Equal(t, domain.MessageKindDirect, f.repo.stored[0].Kind)
	assert.Equal(t, "bruno", f.repo.stored[0].Recipient)

	out := broadcastsOf[*domain.MessageOut](f.transport, "dm:ana|bruno")
	require.Len(t, out, 1)
	assert.Equal(t, domain.MsgTypeDirectMessage, out[0].Type)

	// bruno is subscribed to the conversation, so no preview ping
	assert.Empty(t, emitsOf[*domain.DirectPreviewMessage](f.transport, "c2"))
}

func TestSendDirectMessageNotifiesDetachedPeerSessions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))
	require.NoError(t, f.svc.HandleStartDirect(ctx, "c1", "bruno"))
	// bruno is online but browsing a space, not in the conversation
	require.NoError(t, f.svc.HandleJoin(ctx, "c2", "bruno", "random"))

	require.NoError(t, f.svc.HandleSendMessage(ctx, "c1", strings.Repeat("x", 60), ""))

	previews := emitsOf[*domain.DirectPreviewMessage](f.transport, "c2")
	require.Len(t, previews, 1)
	assert.Equal(t, "ana", previews[0].From)
	assert.Equal(t, strings.Repeat("x", 50), previews[0].Preview)

	// the sender never previews itself
	assert.Empty(t, emitsOf[*domain.DirectPreviewMessage](f.transport, "c1"))
}

func TestPreviewOf(t *testing.T) {
	assert.Equal(t, "short", previewOf(&domain.Message{Content: "short"}))
	assert.Equal(t, strings.Repeat("é", 50), previewOf(&domain.Message{Content: strings.Repeat("é", 51)}))
	assert.Equal(t, "[image]", previewOf(&domain.Message{Image: "data:image/png;base64,AAAA"}))
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))

	err := f.svc.HandleSendMessage(ctx, "c1", "", "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.repo.stored)
}

func TestSendWithoutSession(t *testing.T) {
	f := newFixture()

	err := f.svc.HandleSendMessage(context.Background(), "ghost", "hello", "")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.Empty(t, f.repo.stored)
	assert.Empty(t, f.transport.emits["ghost"])
}

func TestSendSurfacesPersistFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))
	f.repo.failPersist = true

	err := f.svc.HandleSendMessage(ctx, "c1", "hello", "")
	require.Error(t, err)

	errs := emitsOf[*domain.ErrorMessage](f.transport, "c1")
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrCodeSendFailed, errs[0].Code)

	// nothing fanned out
	assert.Empty(t, broadcastsOf[*domain.MessageOut](f.transport, "space:general"))
}

func TestDisconnectUpdatesRoster(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))
	require.NoError(t, f.svc.HandleJoin(ctx, "c2", "bruno", "general"))

	require.NoError(t, f.svc.HandleDisconnect(ctx, "c1"))

	assert.Equal(t, 1, f.registry.Len())
	assert.Empty(t, f.transport.channels("c1"))

	rosters := broadcastsOf[*domain.SpaceUsersMessage](f.transport, "space:general")
	require.NotEmpty(t, rosters)
	assert.Equal(t, []domain.SpaceUser{{ConnectionID: "c2", Nickname: "bruno"}}, rosters[len(rosters)-1].Users)
}

func TestDisconnectUnknownSession(t *testing.T) {
	f := newFixture()

	err := f.svc.HandleDisconnect(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestJoinDropsHistoryWhenSessionMovedMeanwhile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// the session hops to another space while the history query is in
	// flight; the stale history emit must be dropped
	f.repo.onQuerySpace = func(space string) {
		if space != "general" {
			return
		}
		if s, ok := f.registry.Get("c1"); ok {
			f.registry.Upsert(s.EnterSpace("random"))
		}
	}

	err := f.svc.HandleJoin(ctx, "c1", "ana", "general")
	assert.ErrorIs(t, err, ErrStaleSession)

	assert.NotEmpty(t, emitsOf[*domain.JoinedMessage](f.transport, "c1"))
	assert.Empty(t, emitsOf[*domain.ChatHistoryMessage](f.transport, "c1"))
}

func TestJoinSeesMessagePersistedDuringCacheFill(t *testing.T) {
	tr := newFakeTransport()
	reg := registry.NewMemory()
	repo := &fakeMessageRepo{}
	sc := newScriptedCache()
	svc := NewChatService(tr, reg, repo, sc, time.Minute, events.NoopProducer{}, "general")
	ctx := context.Background()

	// a message lands in the space while the first join's cache fill is
	// between its query and its write
	sc.onSet = func() {
		require.NoError(t, svc.HandleSendMessage(ctx, "c1", "hi", ""))
	}

	require.NoError(t, svc.HandleJoin(ctx, "c1", "ana", "general"))

	// the fill queried before the send; it must not survive the
	// invalidation and shadow the persisted message
	assert.False(t, sc.has("general"))

	require.NoError(t, svc.HandleJoin(ctx, "c2", "bruno", "general"))

	history := emitsOf[*domain.ChatHistoryMessage](tr, "c2")
	require.Len(t, history, 1)
	require.Len(t, history[0].Messages, 1)
	assert.Equal(t, "hi", history[0].Messages[0].Content)
	assert.True(t, sc.has("general"))
}

func TestStartDirectDropsHistoryWhenSessionGone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleJoin(ctx, "c1", "ana", "general"))

	f.repo.onQueryConversation = func() {
		f.registry.Remove("c1")
	}

	err := f.svc.HandleStartDirect(ctx, "c1", "bruno")
	assert.ErrorIs(t, err, ErrStaleSession)
	assert.Empty(t, emitsOf[*domain.DirectHistoryMessage](f.transport, "c1"))
}
