package http

import (
	"errors"
	"net/http"

	"chatfabric/internal/core/domain"
	"chatfabric/internal/core/ports"
	apperrors "chatfabric/pkg/errors"

	"github.com/gin-gonic/gin"
)

// DirectoryHandler exposes read-only JSON views of the directory. Mutations
// only happen through the command channel.
type DirectoryHandler struct {
	directory ports.DirectoryRepository
}

func NewDirectoryHandler(directory ports.DirectoryRepository) *DirectoryHandler {
	return &DirectoryHandler{directory: directory}
}

func (h *DirectoryHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/directory")
	{
		api.GET("/users", h.ListUsers)
		api.GET("/users/:name", h.GetUser)
		api.GET("/channels", h.ListChannels)
		api.GET("/channels/:name", h.GetChannel)
	}
}

type userView struct {
	Name              string `json:"name"`
	RegisteredAtClock int64  `json:"registered_at_clock"`
}

type channelView struct {
	Name           string   `json:"name"`
	CreatedAtClock int64    `json:"created_at_clock"`
	Subscribers    []string `json:"subscribers"`
}

func (h *DirectoryHandler) ListUsers(c *gin.Context) {
	users, err := h.directory.ListUsers(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": nonNil(users)})
}

func (h *DirectoryHandler) GetUser(c *gin.Context) {
	user, err := h.directory.GetUser(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.Error(apperrors.NewNotFoundError("user"))
			return
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userView{Name: user.Name, RegisteredAtClock: user.RegisteredAtClock}})
}

func (h *DirectoryHandler) ListChannels(c *gin.Context) {
	channels, err := h.directory.ListChannels(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": nonNil(channels)})
}

func (h *DirectoryHandler) GetChannel(c *gin.Context) {
	channel, err := h.directory.GetChannel(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, domain.ErrChannelNotFound) {
			c.Error(apperrors.NewNotFoundError("channel"))
			return
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": channelView{
		Name:           channel.Name,
		CreatedAtClock: channel.CreatedAtClock,
		Subscribers:    nonNil(channel.Subscribers),
	}})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
