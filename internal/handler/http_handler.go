package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/spaceshq/spaces-server/internal/audit"
	"github.com/spaceshq/spaces-server/internal/domain"
	"github.com/spaceshq/spaces-server/internal/presence"
	"github.com/spaceshq/spaces-server/internal/repository"
	"github.com/spaceshq/spaces-server/pkg/log"
	"github.com/spaceshq/spaces-server/pkg/response"
)

// HTTPHandler serves the space directory and message queries. It never
// touches the routing core beyond the read-only presence projector.
type HTTPHandler struct {
	spaces   repository.SpaceRepository
	messages repository.MessageRepository
	presence *presence.Projector
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(spaces repository.SpaceRepository, messages repository.MessageRepository, proj *presence.Projector) *HTTPHandler {
	return &HTTPHandler{
		spaces:   spaces,
		messages: messages,
		presence: proj,
	}
}

// RegisterRoutes registers all routes.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		spaces := api.Group("/spaces")
		{
			spaces.GET("", h.ListSpaces)
			spaces.POST("", h.CreateSpace)
			spaces.GET("/:name/messages", h.GetSpaceMessages)
		}

		api.GET("/messages", h.ListMessages)

		pres := api.Group("/presence")
		{
			pres.GET("/spaces/:name", h.GetSpaceRoster)
			pres.GET("/users", h.GetConnectedUsers)
		}
	}
}

// ListSpaces lists all spaces ascending by creation time.
func (h *HTTPHandler) ListSpaces(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	spaces, err := h.spaces.List(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to list spaces")
		response.InternalError(c, "failed to list spaces")
		return
	}

	response.Success(c, spaces)
}

// CreateSpace creates a new space.
func (h *HTTPHandler) CreateSpace(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.CreateSpaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind create space request")
		response.BadRequest(c, err.Error())
		return
	}

	space := &domain.Space{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
	}

	if err := h.spaces.Create(ctx, space); err != nil {
		if errors.Is(err, repository.ErrSpaceExists) {
			response.Conflict(c, "space already exists")
			return
		}
		l.Error().Err(err).Msg("failed to create space")
		response.InternalError(c, "failed to create space")
		return
	}

	if req.Description != "" {
		audit.LogWithDetail(ctx, audit.ActionCreateSpace, req.CreatedBy, req.Description, "space created: "+space.Name)
	} else {
		audit.Log(ctx, audit.ActionCreateSpace, req.CreatedBy, "space created: "+space.Name)
	}
	response.Created(c, space)
}

// GetSpaceMessages returns the full history of one space.
func (h *HTTPHandler) GetSpaceMessages(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	space := c.Param("name")

	messages, err := h.messages.QuerySpace(ctx, space)
	if err != nil {
		l.Error().Err(err).Str(log.FieldSpace, space).Msg("failed to query space messages")
		response.InternalError(c, "failed to query messages")
		return
	}

	response.Success(c, messages)
}

// ListMessages returns every persisted message. Diagnostics endpoint.
func (h *HTTPHandler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	messages, err := h.messages.QueryAll(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to query messages")
		response.InternalError(c, "failed to query messages")
		return
	}

	response.Success(c, messages)
}

// GetSpaceRoster returns the live roster of one space.
func (h *HTTPHandler) GetSpaceRoster(c *gin.Context) {
	space := c.Param("name")
	response.Success(c, gin.H{
		"space": space,
		"users": h.presence.SpaceRoster(space),
	})
}

// GetConnectedUsers returns the distinct connected identities.
func (h *HTTPHandler) GetConnectedUsers(c *gin.Context) {
	response.Success(c, gin.H{
		"users": h.presence.GlobalIdentities(),
	})
}
