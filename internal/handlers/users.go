package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/middleware"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/repositories"
)

// Presence answers which users currently hold live sessions.
type Presence interface {
	IsOnline(username string) bool
	OnlineUsers() []string
}

// UserHandler serves registration, profile and directory endpoints.
type UserHandler struct {
	userRepo repositories.UserRepository
	presence Presence
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(userRepo repositories.UserRepository, presence Presence) *UserHandler {
	return &UserHandler{userRepo: userRepo, presence: presence}
}

// Register creates a new user and returns its API key. The key is shown
// only here and in the caller's own profile.
func (h *UserHandler) Register(c *gin.Context) {
	var req models.RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := models.User{
		Username:   req.Username,
		APIKey:     newAPIKey(),
		WebhookURL: req.WebhookURL,
		Viewer:     req.Viewer,
	}

	if err := h.userRepo.Create(c.Request.Context(), user); err != nil {
		if errors.Is(err, repositories.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	c.JSON(http.StatusCreated, models.RegisterUserResponse{
		Username:   user.Username,
		APIKey:     user.APIKey,
		WebhookURL: user.WebhookURL,
		Viewer:     user.Viewer,
	})
}

// GetProfile returns the caller's own directory entry, API key included.
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	c.JSON(http.StatusOK, models.NewUserProfileResponse(user))
}

// UpdateWebhook sets or clears the caller's push endpoint. A null
// webhook_url clears it.
func (h *UserHandler) UpdateWebhook(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req models.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.userRepo.UpdateWebhook(c.Request.Context(), user.Username, req.WebhookURL); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	user.WebhookURL = req.WebhookURL
	c.JSON(http.StatusOK, models.NewUserProfileResponse(user))
}

// ListUsers returns the public directory with live-session status.
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.userRepo.ListAllUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	type userEntry struct {
		Username string `json:"username"`
		Viewer   bool   `json:"viewer"`
		Admin    bool   `json:"admin"`
		Online   bool   `json:"online"`
	}

	entries := make([]userEntry, 0, len(users))
	for _, user := range users {
		entries = append(entries, userEntry{
			Username: user.Username,
			Viewer:   user.Viewer,
			Admin:    user.Admin,
			Online:   h.presence.IsOnline(user.Username),
		})
	}

	c.JSON(http.StatusOK, gin.H{"users": entries})
}

// OnlineUsers returns the usernames with at least one live session.
func (h *UserHandler) OnlineUsers(c *gin.Context) {
	online := h.presence.OnlineUsers()
	if online == nil {
		online = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}

func newAPIKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
