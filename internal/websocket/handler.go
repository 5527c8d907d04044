package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"sentinal-call/internal/events"
	"sentinal-call/internal/middleware"
	"sentinal-call/internal/services"
	"sentinal-call/internal/transport/httpdto"
	"sentinal-call/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	auth       *services.AuthService
	hub        *Hub
	authorizer *ChannelAuthorizer
	log        *logger.Logger
	upgrader   websocket.Upgrader
}

func NewHandler(auth *services.AuthService, hub *Hub, authorizer *ChannelAuthorizer, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		auth:       auth,
		hub:        hub,
		authorizer: authorizer,
		log:        log.Named("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Connect upgrades an authenticated request. The token is taken from the
// token query parameter or a bearer header. The user's incoming channel is
// subscribed on connect.
func (h *Handler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = middleware.BearerToken(c.GetHeader("Authorization"))
	}
	userID, err := h.auth.Authenticate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", httpdto.CodeUnauthorized))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	client := NewClient(conn, userID)
	log := h.log.With(zap.String("user_id", userID.String()), zap.String("client_id", client.ID))
	ctx, cancel := context.WithCancel(services.WithUserContext(context.Background(), userID))
	defer cancel()

	h.hub.Register(client)
	h.hub.Subscribe(client, events.IncomingChannel(userID))
	go client.WriteLoop(ctx)
	log.Info("client connected")

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket unexpected close", zap.Error(err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleFrame(ctx, client, message)
	}

	h.hub.Unregister(client)
	log.Info("client disconnected")
}

func (h *Handler) handleFrame(ctx context.Context, client *Client, message []byte) {
	var f Frame
	if err := json.Unmarshal(message, &f); err != nil {
		client.SendMessage(encodeFrame(Frame{Type: FrameError, Error: "malformed frame"}))
		return
	}

	switch f.Type {
	case FramePing:
		client.SendMessage(encodeFrame(Frame{Type: FramePong}))
	case FrameSubscribe:
		ok, err := h.authorizer.CanSubscribe(ctx, client.UserID, f.Channel)
		if err != nil {
			h.log.Ctx(ctx).Error("subscription check failed", zap.String("channel", f.Channel), zap.Error(err))
			client.SendMessage(encodeFrame(Frame{Type: FrameError, Channel: f.Channel, Error: "internal error"}))
			return
		}
		if !ok {
			client.SendMessage(encodeFrame(Frame{Type: FrameError, Channel: f.Channel, Error: "forbidden"}))
			return
		}
		h.hub.Subscribe(client, f.Channel)
	case FrameUnsubscribe:
		h.hub.Unsubscribe(client, f.Channel)
	default:
		client.SendMessage(encodeFrame(Frame{Type: FrameError, Error: "unknown frame type " + f.Type}))
	}
}

// Subscribers reports how many sockets of userID are connected.
func (h *Handler) Subscribers(userID uuid.UUID) int {
	return h.hub.GetChannelSubscriberCount(events.IncomingChannel(userID))
}
