package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"dqa360/config"
	"dqa360/db"
	"dqa360/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

func init() {
	migrationsDir := config.DQA360Conf.Server.MigrationsDir
	if len(migrationsDir) == 0 {
		switch runtime.GOOS {
		case "windows":
			migrationsDir = "file:///C:\\ProgramData\\DQA360"
		case "darwin", "linux":
			migrationsDir = "file:///usr/share/dqa360/db/migrations"
		default:
			migrationsDir = "file://db/migrations"
		}
	}
	m, err := migrate.New(migrationsDir, config.DQA360Conf.Database.URI)
	if err != nil {
		log.Fatal(err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatal("Error running migration:", err)
	}

	rows, err := db.GetDB().Queryx("SELECT * FROM servers")
	if err != nil {
		log.WithError(err).Info("Failed to load servers")
	}
	ServerMap = make(map[string]Server)
	ServerMapByName = make(map[string]Server)
	for rows.Next() {
		srv := Server{}
		err := rows.StructScan(&srv.s)
		if err != nil {
			log.Fatalln("Server Loading ==>", err)
		}
		ServerMap[strconv.Itoa(int(srv.s.ID))] = srv
		ServerMapByName[srv.s.Name] = srv
	}
	_ = rows.Close()
}

// ServerMap is the List of Servers keyed by DB id
var ServerMap map[string]Server
var ServerMapByName map[string]Server

// ServerID is the id for the server
type ServerID int64

// Server is a DHIS2 instance connection descriptor - either the local
// instance receiving the synthesized metadata or an external source
type Server struct {
	s struct {
		ID         ServerID  `db:"id" json:"id"`
		UID        string    `db:"uid" json:"uid,omitempty"`
		Name       string    `db:"name" json:"name" validate:"required"`
		URL        string    `db:"url" json:"URL" validate:"required,url"`
		Username   string    `db:"username" json:"username"`
		Password   string    `db:"password" json:"password,omitempty"`
		AuthMethod string    `db:"auth_method" json:"AuthMethod" validate:"required"`
		AuthToken  string    `db:"auth_token" json:"AuthToken"`
		SystemType string    `db:"system_type" json:"systemType,omitempty"`
		IsLocal    bool      `db:"is_local" json:"isLocal,omitempty"`
		Suspended  bool      `db:"suspended" json:"suspended,omitempty"`
		Created    time.Time `db:"created" json:"created,omitempty"`
		Updated    time.Time `db:"updated" json:"updated,omitempty"`
	}
}

// ID return the id of this server
func (s *Server) ID() ServerID { return s.s.ID }

// UID returns the uid of the server
func (s *Server) UID() string { return s.s.UID }

// Name ...
func (s *Server) Name() string { return s.s.Name }

// URL returns the base URL for the server
func (s *Server) URL() string { return s.s.URL }

// Username ...
func (s *Server) Username() string { return s.s.Username }

// Password ...
func (s *Server) Password() string { return s.s.Password }

// AuthMethod ...
func (s *Server) AuthMethod() string { return s.s.AuthMethod }

// AuthToken return the Authentication token for this server
func (s *Server) AuthToken() string { return s.s.AuthToken }

// SystemType return the type of system it is
func (s *Server) SystemType() string { return s.s.SystemType }

// IsLocal returns whether this is the local metadata-receiving instance
func (s *Server) IsLocal() bool { return s.s.IsLocal }

// Suspended returns whether the server is suspended
func (s *Server) Suspended() bool { return s.s.Suspended }

// Self returns server map
func (s *Server) Self() map[string]any {
	srvJSON, err := json.Marshal(s.s)
	if err != nil {
		log.WithError(err).Error("Could not marshal server struct to JSON")
	}
	var srv map[string]any
	_ = json.Unmarshal(srvJSON, &srv)
	return srv
}

// MarshalJSON serializes the hidden struct
func (s Server) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.s)
}

// UnmarshalJSON deserializes into the hidden struct
func (s *Server) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.s)
}

// ValidateUID checks the server uid has the DHIS2 UID shape
func (s *Server) ValidateUID() bool {
	return utils.ValidUIDPattern.MatchString(s.s.UID)
}

// SetUID ...
func (s *Server) SetUID(uid string) {
	s.s.UID = uid
}

func (s *Server) ExistsInDB() bool {
	var count int
	err := db.GetDB().Get(&count, "SELECT count(*) FROM servers WHERE name = $1", s.s.Name)
	if err != nil {
		log.WithError(err).Info("Error checking server existence:")
		return false
	}
	return count > 0
}

// GetServerByName returns server object using name
func GetServerByName(name string) (Server, error) {
	srv := Server{}
	err := db.GetDB().Get(&srv.s, "SELECT * FROM servers WHERE name = $1", name)
	if err != nil {
		return Server{}, errors.New(fmt.Sprintf("Server with name '%s' Not found!", name))
	}
	return srv, nil
}

// GetServerUIDByName returns server uid using name
func GetServerUIDByName(name string) string {
	var uid string
	err := db.GetDB().Get(&uid, "SELECT uid FROM servers WHERE name = $1", name)
	if err != nil {
		fmt.Printf("Error geting server: [%v]", err)
		return ""
	}
	return uid
}

const insertServerSQL = `
INSERT INTO servers(uid, name, url, username, password, auth_method, auth_token, system_type, is_local, suspended)
VALUES (:uid, :name, :url, :username, :password, :auth_method, :auth_token, :system_type, :is_local, :suspended)
RETURNING id
`

const updateServerSQL = `
UPDATE servers SET (name, url, username, password, auth_method, auth_token, system_type, is_local, suspended, updated)
	= (:name, :url, :username, :password, :auth_method, :auth_token, :system_type, :is_local, :suspended, current_timestamp)
WHERE uid = :uid
`

// NewServer creates new server from a POST body and saves it in DB
func NewServer(c *gin.Context, db *sqlx.DB) (Server, error) {
	srv := &Server{}

	contentType := c.Request.Header.Get("Content-Type")
	switch contentType {
	case "application/json":
		if err := c.BindJSON(&srv.s); err != nil {
			log.WithError(err).Error("Error reading server object from POST body")
		}
	default:
		log.WithField("Content-Type", contentType).Error("Unsupported content-Type")
		return *srv, errors.New(fmt.Sprintf("Unsupported Content-Type: %s", contentType))
	}
	return saveServer(db, srv)
}

// CreateServerFromJSON creates or updates a server from raw JSON
func CreateServerFromJSON(db *sqlx.DB, serverJSON []byte) (Server, error) {
	srv := &Server{}
	err := json.Unmarshal(serverJSON, &srv.s)
	if err != nil {
		log.WithError(err).Error("Failed to Unmarshal serverJSON to Server object!")
		return Server{}, err
	}
	return saveServer(db, srv)
}

func saveServer(db *sqlx.DB, srv *Server) (Server, error) {
	if !srv.ValidateUID() {
		srv.SetUID(utils.GetUID())
	}
	if srv.ExistsInDB() {
		log.WithField("Server Name", srv.s.Name).Info("Server with same name already exists!")
		srv.s.UID = GetServerUIDByName(srv.Name())
		_, err := db.NamedExec(updateServerSQL, srv.s)
		if err != nil {
			log.WithError(err).Error("Failed to update server!")
			return *srv, err
		}
		return GetServerByName(srv.Name())
	}
	rows, err := db.NamedQuery(insertServerSQL, srv.s)
	if err != nil {
		log.WithError(err).Error("Failed to save server to database")
		return Server{}, err
	}
	for rows.Next() {
		var serverID int64
		_ = rows.Scan(&serverID)
		srv.s.ID = ServerID(serverID)
	}
	_ = rows.Close()
	return *srv, nil
}

// CreateServers creates or updates a list of servers, returning counts
func CreateServers(db *sqlx.DB, servers []Server) (map[string]int, error) {
	importSummary := map[string]int{"created": 0, "updated": 0}
	for _, server := range servers {
		existed := server.ExistsInDB()
		if _, err := saveServer(db, &server); err != nil {
			return importSummary, err
		}
		if existed {
			importSummary["updated"] += 1
		} else {
			importSummary["created"] += 1
		}
	}
	return importSummary, nil
}
