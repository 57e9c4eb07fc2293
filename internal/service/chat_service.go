package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spaceshq/spaces-server/internal/audit"
	"github.com/spaceshq/spaces-server/internal/cache"
	"github.com/spaceshq/spaces-server/internal/domain"
	"github.com/spaceshq/spaces-server/internal/events"
	"github.com/spaceshq/spaces-server/internal/presence"
	"github.com/spaceshq/spaces-server/internal/registry"
	"github.com/spaceshq/spaces-server/internal/repository"
	"github.com/spaceshq/spaces-server/pkg/log"
)

const previewMaxRunes = 50

type chatService struct {
	transport    Transport
	registry     registry.Registry
	presence     *presence.Projector
	messages     repository.MessageRepository
	history      cache.HistoryCache
	historyTTL   time.Duration
	producer     events.MessageProducer
	defaultSpace string
	sf           singleflight.Group

	// genMu guards gens, the per-space invalidation generation. A cache
	// fill only lands if no invalidation happened since its query.
	genMu sync.Mutex
	gens  map[string]uint64
}

// NewChatService wires the routing engine. All collaborators are
// injected; the engine holds no state of its own beyond the registry.
func NewChatService(
	transport Transport,
	reg registry.Registry,
	messages repository.MessageRepository,
	history cache.HistoryCache,
	historyTTL time.Duration,
	producer events.MessageProducer,
	defaultSpace string,
) ChatService {
	if defaultSpace == "" {
		defaultSpace = domain.DefaultSpace
	}
	return &chatService{
		transport:    transport,
		registry:     reg,
		presence:     presence.NewProjector(reg),
		messages:     messages,
		history:      history,
		historyTTL:   historyTTL,
		producer:     producer,
		defaultSpace: defaultSpace,
		gens:         make(map[string]uint64),
	}
}

// HandleJoin creates (or overwrites) the session for a connection in
// space mode, subscribes it to the space channel, and fans out the
// updated roster, the global identity list, and the space history.
func (s *chatService) HandleJoin(ctx context.Context, connectionID, nickname, space string) error {
	if !ValidIdentity(nickname) {
		s.emitError(connectionID, domain.ErrCodeBadRequest, "invalid nickname")
		return ErrValidation
	}
	if space == "" {
		space = s.defaultSpace
	}

	// A re-join on a live connection replaces whatever the old session
	// was doing.
	if prev, ok := s.registry.Get(connectionID); ok {
		s.transport.Unsubscribe(connectionID, channelOf(prev))
	}

	session := domain.NewSpaceSession(connectionID, nickname, space)
	s.registry.Upsert(session)
	s.transport.Subscribe(connectionID, SpaceChannel(space))

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(audit.FieldAction, audit.ActionJoin).
		Str(log.FieldConnectionID, connectionID).
		Str(log.FieldNickname, nickname).
		Str(log.FieldSpace, space).
		Msg("session joined space")

	s.transport.Emit(connectionID, &domain.JoinedMessage{Type: domain.MsgTypeJoined, Space: space})
	s.broadcastRoster(space)
	s.broadcastIdentities()

	return s.sendSpaceHistory(ctx, connectionID, space)
}

// HandleSwitchSpace moves an existing session to another space.
func (s *chatService) HandleSwitchSpace(ctx context.Context, connectionID, space string) error {
	if space == "" {
		s.emitError(connectionID, domain.ErrCodeBadRequest, "space is required")
		return ErrValidation
	}

	session, ok := s.registry.Get(connectionID)
	if !ok {
		return ErrUnknownSession
	}

	oldChannel := channelOf(session)
	oldSpace := ""
	if session.Mode == domain.ModeSpace {
		oldSpace = session.Space
	}

	s.transport.Unsubscribe(connectionID, oldChannel)
	s.registry.Upsert(session.EnterSpace(space))
	s.transport.Subscribe(connectionID, SpaceChannel(space))

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldConnectionID, connectionID).
		Str(log.FieldNickname, session.Nickname).
		Str(log.FieldSpace, space).
		Msg("session switched space")

	s.transport.Emit(connectionID, &domain.SpaceChangedMessage{Type: domain.MsgTypeSpaceChanged, Space: space})
	if oldSpace != "" && oldSpace != space {
		s.broadcastRoster(oldSpace)
	}
	s.broadcastRoster(space)
	s.broadcastIdentities()

	return s.sendSpaceHistory(ctx, connectionID, space)
}

// HandleStartDirect moves an existing session into a direct conversation
// with peer and sends the caller the conversation history. Peer equal to
// the caller's own nickname is allowed and degenerates to a
// single-participant conversation.
func (s *chatService) HandleStartDirect(ctx context.Context, connectionID, peer string) error {
	if !ValidIdentity(peer) {
		s.emitError(connectionID, domain.ErrCodeBadRequest, "invalid peer")
		return ErrValidation
	}

	session, ok := s.registry.Get(connectionID)
	if !ok {
		return ErrUnknownSession
	}

	key := PairKey(session.Nickname, peer)
	channel := ConversationChannel(key)

	s.transport.Unsubscribe(connectionID, channelOf(session))
	s.registry.Upsert(session.EnterConversation(peer, key))
	s.transport.Subscribe(connectionID, channel)

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldConnectionID, connectionID).
		Str(log.FieldNickname, session.Nickname).
		Str(log.FieldPeer, peer).
		Str(log.FieldConversation, key).
		Msg("direct conversation started")

	s.transport.Emit(connectionID, &domain.DirectStartedMessage{
		Type:         domain.MsgTypeDirectStarted,
		Peer:         peer,
		Conversation: key,
	})

	messages, err := s.messages.QueryConversation(ctx, session.Nickname, peer)
	if err != nil {
		l.Error().Err(err).Msg("failed to load conversation history")
		s.emitError(connectionID, domain.ErrCodeInternalError, "failed to load history")
		return err
	}

	// The session may have moved on while the query was in flight.
	current, ok := s.registry.Get(connectionID)
	if !ok || !current.InConversation(key) {
		return ErrStaleSession
	}

	return s.transport.Emit(connectionID, &domain.DirectHistoryMessage{
		Type:     domain.MsgTypeDirectHistory,
		Peer:     peer,
		Messages: messages,
	})
}

// HandleEndDirect reverts a direct-mode session to space mode.
func (s *chatService) HandleEndDirect(ctx context.Context, connectionID, space string) error {
	session, ok := s.registry.Get(connectionID)
	if !ok {
		return ErrUnknownSession
	}
	if session.Mode != domain.ModeDirect {
		s.emitError(connectionID, domain.ErrCodeBadRequest, "not in a direct conversation")
		return ErrValidation
	}
	if space == "" {
		space = s.defaultSpace
	}

	s.transport.Unsubscribe(connectionID, ConversationChannel(session.ConversationID))
	s.registry.Upsert(session.EnterSpace(space))
	s.transport.Subscribe(connectionID, SpaceChannel(space))

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldConnectionID, connectionID).
		Str(log.FieldNickname, session.Nickname).
		Str(log.FieldSpace, space).
		Msg("direct conversation closed")

	s.transport.Emit(connectionID, &domain.DirectClosedMessage{Type: domain.MsgTypeDirectClosed, Space: space})
	s.broadcastRoster(space)

	return s.sendSpaceHistory(ctx, connectionID, space)
}

// HandleSendMessage persists a message scoped to the session's current
// mode and broadcasts it. A persistence failure is surfaced to the
// sender and nothing is fanned out.
func (s *chatService) HandleSendMessage(ctx context.Context, connectionID, content, image string) error {
	if content == "" && image == "" {
		s.emitError(connectionID, domain.ErrCodeBadRequest, "message is empty")
		return ErrValidation
	}

	session, ok := s.registry.Get(connectionID)
	if !ok {
		return ErrUnknownSession
	}

	l := log.Ctx(ctx)

	switch session.Mode {
	case domain.ModeDirect:
		msg := &domain.Message{
			Sender:    session.Nickname,
			Recipient: session.Peer,
			Kind:      domain.MessageKindDirect,
			Content:   content,
			Image:     image,
		}
		if err := s.messages.Persist(ctx, msg); err != nil {
			l.Error().Err(err).Msg("failed to persist direct message")
			s.emitError(connectionID, domain.ErrCodeSendFailed, "failed to send message")
			return err
		}
		s.publish(ctx, msg)

		// The message is a fact of its conversation no matter where
		// the sender moved meanwhile; broadcast to the channel it was
		// persisted for.
		channel := ConversationChannel(session.ConversationID)
		s.transport.Broadcast(channel, &domain.MessageOut{Type: domain.MsgTypeDirectMessage, Message: *msg})
		s.notifyPeerSessions(connectionID, session.Peer, channel, msg)
		return nil

	default:
		msg := &domain.Message{
			Sender:  session.Nickname,
			Kind:    domain.MessageKindSpace,
			Space:   session.Space,
			Content: content,
			Image:   image,
		}
		if err := s.messages.Persist(ctx, msg); err != nil {
			l.Error().Err(err).Msg("failed to persist space message")
			s.emitError(connectionID, domain.ErrCodeSendFailed, "failed to send message")
			return err
		}
		s.invalidateHistory(ctx, session.Space)
		s.publish(ctx, msg)

		return s.transport.Broadcast(SpaceChannel(session.Space), &domain.MessageOut{Type: domain.MsgTypeMessage, Message: *msg})
	}
}

// HandleDisconnect removes the session. A space-mode disconnect
// re-broadcasts its roster and the global identity list; direct
// conversations have no roster to update.
func (s *chatService) HandleDisconnect(ctx context.Context, connectionID string) error {
	session, ok := s.registry.Get(connectionID)
	if !ok {
		return ErrUnknownSession
	}

	s.registry.Remove(connectionID)
	s.transport.Unsubscribe(connectionID, channelOf(session))

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(audit.FieldAction, audit.ActionDisconnect).
		Str(log.FieldConnectionID, connectionID).
		Str(log.FieldNickname, session.Nickname).
		Msg("session disconnected")

	if session.Mode == domain.ModeSpace {
		s.broadcastRoster(session.Space)
		s.broadcastIdentities()
	}
	return nil
}

func (s *chatService) Stop() error {
	if err := s.producer.Close(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to close message producer")
	}
	return s.history.Close()
}

// sendSpaceHistory loads a space history (through the cache, collapsed
// by singleflight) and emits it to the caller, unless the session moved
// elsewhere while the load was in flight.
func (s *chatService) sendSpaceHistory(ctx context.Context, connectionID, space string) error {
	messages, err := s.loadSpaceHistory(ctx, space)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldSpace, space).Msg("failed to load space history")
		s.emitError(connectionID, domain.ErrCodeInternalError, "failed to load history")
		return err
	}

	current, ok := s.registry.Get(connectionID)
	if !ok || !current.InSpace(space) {
		return ErrStaleSession
	}

	return s.transport.Emit(connectionID, &domain.ChatHistoryMessage{
		Type:     domain.MsgTypeChatHistory,
		Space:    space,
		Messages: messages,
	})
}

func (s *chatService) loadSpaceHistory(ctx context.Context, space string) ([]domain.Message, error) {
	result, err, _ := s.sf.Do(space, func() (interface{}, error) {
		cached, err := s.history.Get(ctx, space)
		if err == nil {
			return cached, nil
		}
		if err != cache.ErrCacheMiss {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldSpace, space).Msg("history cache get error")
		}

		gen := s.historyGen(space)
		messages, err := s.messages.QuerySpace(ctx, space)
		if err != nil {
			return nil, err
		}
		s.fillHistory(ctx, space, messages, gen)

		return messages, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Message), nil
}

// fillHistory writes a freshly queried history into the cache, unless a
// message landed in the space since the query: a fill from before an
// invalidation would resurrect the pre-write history for a full TTL. An
// invalidation racing the Set itself is re-applied afterwards.
func (s *chatService) fillHistory(ctx context.Context, space string, messages []domain.Message, gen uint64) {
	if s.historyGen(space) != gen {
		return
	}
	if err := s.history.Set(ctx, space, messages, s.historyTTL); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldSpace, space).Msg("history cache set error")
		return
	}
	if s.historyGen(space) != gen {
		s.invalidateCache(ctx, space)
	}
}

func (s *chatService) invalidateHistory(ctx context.Context, space string) {
	s.genMu.Lock()
	s.gens[space]++
	s.genMu.Unlock()

	s.invalidateCache(ctx, space)
}

func (s *chatService) invalidateCache(ctx context.Context, space string) {
	if err := s.history.Invalidate(ctx, space); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldSpace, space).Msg("history cache invalidate error")
	}
}

func (s *chatService) historyGen(space string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[space]
}

func (s *chatService) publish(ctx context.Context, msg *domain.Message) {
	if err := s.producer.ProduceMessage(ctx, msg); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to publish message event")
	}
}

// notifyPeerSessions pings every live session of the recipient identity
// that is not subscribed to the conversation (e.g. browsing a space)
// with a lightweight preview.
func (s *chatService) notifyPeerSessions(senderConnID, peer, channel string, msg *domain.Message) {
	preview := &domain.DirectPreviewMessage{
		Type:    domain.MsgTypeDirectPreview,
		From:    msg.Sender,
		Preview: previewOf(msg),
	}
	for _, other := range s.registry.Snapshot() {
		if other.Nickname != peer || other.ConnectionID == senderConnID {
			continue
		}
		if s.transport.Subscribed(other.ConnectionID, channel) {
			continue
		}
		s.transport.Emit(other.ConnectionID, preview)
	}
}

func previewOf(msg *domain.Message) string {
	if msg.Content == "" {
		return "[image]"
	}
	runes := []rune(msg.Content)
	if len(runes) <= previewMaxRunes {
		return msg.Content
	}
	return string(runes[:previewMaxRunes])
}

func (s *chatService) broadcastRoster(space string) {
	s.transport.Broadcast(SpaceChannel(space), &domain.SpaceUsersMessage{
		Type:  domain.MsgTypeSpaceUsers,
		Space: space,
		Users: s.presence.SpaceRoster(space),
	})
}

func (s *chatService) broadcastIdentities() {
	s.transport.BroadcastAll(&domain.AllUsersMessage{
		Type:  domain.MsgTypeAllUsers,
		Users: s.presence.GlobalIdentities(),
	})
}

func (s *chatService) emitError(connectionID, code, message string) {
	s.transport.Emit(connectionID, domain.NewErrorMessage(code, message))
}

func channelOf(session domain.Session) string {
	if session.Mode == domain.ModeDirect {
		return ConversationChannel(session.ConversationID)
	}
	return SpaceChannel(session.Space)
}
