package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"fivelines/middlewares"
	"fivelines/models"
	"fivelines/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserStore interface {
	ListUsers(ctx context.Context, limit int) ([]models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	CreateUser(ctx context.Context, u models.User) (models.User, error)
}

// ProfileLookup fills in profile fields from the identity provider.
type ProfileLookup interface {
	GetUser(ctx context.Context, userID string) (services.ClerkUser, error)
}

type UserController struct {
	users    UserStore
	profiles ProfileLookup
	log      *zap.Logger
}

// NewUserController accepts a nil profiles lookup; created users then keep
// whatever the request supplied.
func NewUserController(users UserStore, profiles ProfileLookup, log *zap.Logger) *UserController {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserController{users: users, profiles: profiles, log: log}
}

func (uc *UserController) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	users, err := uc.users.ListUsers(c.Request.Context(), limit)
	if err != nil {
		uc.log.Error("list users failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to fetch users")
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: users})
}

func (uc *UserController) Get(c *gin.Context) {
	user, err := uc.users.GetUser(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrUserNotFound) {
		respondError(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		uc.log.Error("get user failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to fetch user")
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: user})
}

func (uc *UserController) Create(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid user payload")
		return
	}

	user := models.User{
		ClerkID: middlewares.UserID(c),
		Email:   req.Email,
		Name:    req.Name,
	}
	if uc.profiles != nil && user.ClerkID != "" && (user.Email == "" || user.Name == "") {
		profile, err := uc.profiles.GetUser(c.Request.Context(), user.ClerkID)
		if err != nil {
			uc.log.Warn("profile lookup failed", zap.String("user_id", user.ClerkID), zap.Error(err))
		} else {
			if user.Email == "" {
				user.Email = profile.Email
			}
			if user.Name == "" {
				user.Name = profile.Name
			}
		}
	}
	if user.Email == "" && user.Name == "" {
		respondError(c, http.StatusBadRequest, "email or name is required")
		return
	}

	created, err := uc.users.CreateUser(c.Request.Context(), user)
	if err != nil {
		uc.log.Error("create user failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to create user")
		return
	}
	c.JSON(http.StatusCreated, models.APIResponse{Success: true, Data: created})
}
