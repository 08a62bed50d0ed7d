package controllers

import (
	"net/http"

	"fivelines/models"

	"github.com/gin-gonic/gin"
)

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: gin.H{"status": "ok"}})
}
