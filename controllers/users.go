package controllers

import (
	"net/http"

	"dqa360/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// UserController handles the API user endpoints
type UserController struct{}

// GetToken handles POST /api/getToken - issues a fresh API token for the
// authenticated user, deactivating any previously issued ones
func (u *UserController) GetToken(c *gin.Context) {
	userID := c.MustGet("currentUser").(int64)

	token, err := models.GenerateToken()
	if err != nil {
		log.WithError(err).Error("Failed to generate API token")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to generate token"})
		return
	}
	user := models.User{ID: userID}
	user.DeactivateAPITokens()

	userToken := models.UserToken{UserID: userID, Token: token, IsActive: true}
	userToken.Save()

	log.WithField("UserID", userID).Info("Issued new API token")
	c.JSON(http.StatusOK, gin.H{"token": token})
}
