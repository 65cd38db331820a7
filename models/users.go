package models

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"dqa360/db"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// User is a service API user
type User struct {
	ID           int64     `db:"id" json:"id"`
	UID          string    `db:"uid" json:"uid"`
	Username     string    `db:"username" json:"username"`
	Password     string    `db:"password" json:"-"`
	FirstName    string    `db:"firstname" json:"firstname"`
	LastName     string    `db:"lastname" json:"lastname"`
	Email        string    `db:"email" json:"email"`
	Phone        string    `db:"telephone" json:"telephone"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	IsSystemUser bool      `db:"is_system_user" json:"is_system_user"`
	Created      time.Time `db:"created" json:"created"`
	Updated      time.Time `db:"updated" json:"updated"`
}

// UserToken is an API token belonging to a user
type UserToken struct {
	ID       int64     `db:"id" json:"id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	Token    string    `db:"token" json:"token"`
	IsActive bool      `db:"is_active" json:"is_active"`
	Created  time.Time `db:"created" json:"created"`
	Updated  time.Time `db:"updated" json:"updated"`
}

func (ut *UserToken) Save() {
	dbConn := db.GetDB()
	_, err := dbConn.NamedExec(`INSERT INTO user_apitoken (user_id, token)
			VALUES(:user_id, :token)`, ut)
	if err != nil {
		log.WithError(err).Error("Failed to save user API token")
	}
}

func (u *User) DeactivateAPITokens() {
	dbConn := db.GetDB()
	_, err := dbConn.NamedExec(
		`UPDATE user_apitoken SET is_active = FALSE WHERE user_id = :id`, u)
	if err != nil {
		log.WithError(err).Error("Failed to deactivate user API tokens")
	}
}

// BasicAuth authenticates API callers with basic or token credentials and
// attaches the shared database connection to the request context
func BasicAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("dbConn", db.GetDB())
		auth := strings.SplitN(c.Request.Header.Get("Authorization"), " ", 2)

		if len(auth) != 2 || (auth[0] != "Basic" && auth[0] != "Token:") {
			RespondWithError(401, "Unauthorized", c)
			return
		}
		tokenAuthenticated, userID := AuthenticateUserToken(auth[1])
		if auth[0] == "Token:" {
			if !tokenAuthenticated {
				RespondWithError(401, "Unauthorized", c)
				return
			}
			c.Set("currentUser", userID)
			c.Next()
			return
		}

		payload, _ := base64.StdEncoding.DecodeString(auth[1])
		pair := strings.SplitN(string(payload), ":", 2)
		if len(pair) != 2 {
			RespondWithError(401, "Unauthorized", c)
			return
		}
		basicAuthenticated, userID := AuthenticateUser(pair[0], pair[1])
		if !basicAuthenticated {
			RespondWithError(401, "Unauthorized", c)
			return
		}
		c.Set("currentUser", userID)
		c.Next()
	}
}

func AuthenticateUser(username, password string) (bool, int64) {
	userObj := User{}
	err := db.GetDB().QueryRowx(
		`SELECT
            id, uid, username, firstname, lastname, telephone, email
        FROM users
        WHERE
            username = $1 AND password = crypt($2, password)`,
		username, password).StructScan(&userObj)
	if err != nil {
		return false, 0
	}
	return true, userObj.ID
}

func AuthenticateUserToken(token string) (bool, int64) {
	userToken := UserToken{}
	err := db.GetDB().QueryRowx(
		`SELECT
            id, user_id, token, is_active
        FROM user_apitoken
        WHERE
            token = $1 AND is_active = TRUE LIMIT 1`,
		token).StructScan(&userToken)
	if err != nil {
		return false, 0
	}
	return true, userToken.UserID
}

func RespondWithError(code int, message string, c *gin.Context) {
	c.JSON(code, map[string]string{"error": message})
	c.Abort()
}

// GenerateToken returns a random hex API token
func GenerateToken() (string, error) {
	const tokenLength = 20
	token := make([]byte, tokenLength)
	if _, err := rand.Read(token); err != nil {
		return "", err
	}
	return hex.EncodeToString(token), nil
}
