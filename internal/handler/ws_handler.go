package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/spaceshq/spaces-server/internal/config"
	"github.com/spaceshq/spaces-server/internal/domain"
	"github.com/spaceshq/spaces-server/internal/hub"
	"github.com/spaceshq/spaces-server/internal/service"
	"github.com/spaceshq/spaces-server/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades connections and dispatches decoded events to the
// routing engine. All payload validation happens here, before any event
// reaches the state machine.
type WSHandler struct {
	hub     *hub.Hub
	service service.ChatService
	wsCfg   config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)

	h.hub.Register(client)

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleMessage)
		h.service.HandleDisconnect(context.Background(), client.ID)
	}()
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid message format"))
		return
	}

	ctx := context.Background()

	switch base.Type {
	case domain.MsgTypeJoin:
		var msg domain.JoinMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid join message"))
			return
		}
		if !service.ValidIdentity(msg.Nickname) {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "nickname is required and must not contain '"+service.PairSeparator+"'"))
			return
		}
		h.dispatch(client, h.service.HandleJoin(ctx, client.ID, msg.Nickname, msg.Space))

	case domain.MsgTypeSwitchSpace:
		var msg domain.SwitchSpaceMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid switch_space message"))
			return
		}
		if msg.Space == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "space is required"))
			return
		}
		h.dispatch(client, h.service.HandleSwitchSpace(ctx, client.ID, msg.Space))

	case domain.MsgTypeStartDirect:
		var msg domain.StartDirectMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid start_direct message"))
			return
		}
		if !service.ValidIdentity(msg.Peer) {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "peer is required and must not contain '"+service.PairSeparator+"'"))
			return
		}
		h.dispatch(client, h.service.HandleStartDirect(ctx, client.ID, msg.Peer))

	case domain.MsgTypeEndDirect:
		var msg domain.EndDirectMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid end_direct message"))
			return
		}
		h.dispatch(client, h.service.HandleEndDirect(ctx, client.ID, msg.Space))

	case domain.MsgTypeSendMessage:
		var msg domain.SendMessageWS
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid send_message"))
			return
		}
		h.dispatch(client, h.service.HandleSendMessage(ctx, client.ID, msg.Content, msg.Image))

	case domain.MsgTypePing:
		client.SendMessage(map[string]string{"type": domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "unknown message type"))
	}
}

// dispatch logs handler failures. Unknown-session errors are expected in
// disconnect races and stale-session drops are deliberate; neither is
// worth a log line.
func (h *WSHandler) dispatch(client *hub.Client, err error) {
	if err == nil ||
		errors.Is(err, service.ErrUnknownSession) ||
		errors.Is(err, service.ErrStaleSession) ||
		errors.Is(err, service.ErrValidation) {
		return
	}
	l := log.L()
	l.Warn().Err(err).Str(log.FieldConnectionID, client.ID).Msg("event handler failed")
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}
