package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"messenger-service/internal/auth"
	"messenger-service/internal/bus"
	"messenger-service/internal/delivery"
	"messenger-service/internal/membership"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// GatewayHandler runs the websocket handshake: authentication, the
// membership check against the target conversation, and the handoff to a
// Session. A connection refused here never reaches the Joined state.
type GatewayHandler struct {
	verifier   auth.Verifier
	oracle     *membership.Oracle
	convRepo   repositories.ConversationRepository
	broker     bus.Bus
	presence   presence.Store
	deliverer  *delivery.Deliverer
	dispatcher *Dispatcher
	authGrace  time.Duration
}

// NewGatewayHandler constructs a GatewayHandler.
func NewGatewayHandler(
	verifier auth.Verifier,
	oracle *membership.Oracle,
	convRepo repositories.ConversationRepository,
	broker bus.Bus,
	presenceStore presence.Store,
	deliverer *delivery.Deliverer,
	dispatcher *Dispatcher,
	authGrace time.Duration,
) *GatewayHandler {
	return &GatewayHandler{
		verifier:   verifier,
		oracle:     oracle,
		convRepo:   convRepo,
		broker:     broker,
		presence:   presenceStore,
		deliverer:  deliverer,
		dispatcher: dispatcher,
		authGrace:  authGrace,
	}
}

// Handle serves GET /ws/:kind/:conversation_id.
func (h *GatewayHandler) Handle(c *gin.Context) {
	kind := c.Param("kind")
	if !models.ValidKind(kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation kind"})
		return
	}
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.kind", kind),
		attribute.Int("conversation.id", conversationID),
		attribute.String("client.ip", observability.IPFromRequest(c.Request)),
		attribute.String("client.device_id", observability.DeviceIDFromRequest(c.Request)),
		attribute.String("request.id", observability.RequestIDFromRequest(c.Request)),
	)

	// The whole handshake must finish within the auth grace period.
	ctx, cancel := context.WithTimeout(ctx, h.authGrace)
	defer cancel()

	// Connecting -> Authenticating -> Rejected | Authorized.
	userID, err := h.verifier.Verify(auth.TokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conv, err := h.convRepo.GetConversation(ctx, conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if string(conv.Kind) != kind {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	// Authorized -> Joined requires the membership check to pass.
	decision, err := h.oracle.Authorize(ctx, userID, conv, membership.ActionRead)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for conversation"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	session := newSession(userID, conv, conn, h.broker, h.presence, h.deliverer, h.dispatcher)
	// The session outlives the handshake request and its grace deadline.
	session.start(context.Background())
}
