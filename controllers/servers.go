package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"dqa360/dhis2"
	"dqa360/models"
	"dqa360/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// ServerController handles the DHIS2 instance registry endpoints
type ServerController struct{}

// CreateServer handles POST /api/servers
func (s *ServerController) CreateServer(c *gin.Context) {
	dbConn := c.MustGet("dbConn").(*sqlx.DB)
	srv, err := models.NewServer(c, dbConn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	log.WithFields(log.Fields{"Server": srv.Name(), "UID": srv.UID()}).Info("Created server")
	c.JSON(http.StatusOK, srv.Self())
}

// ImportServers handles POST /api/importServers - a JSON array of server
// definitions, created or updated by name
func (s *ServerController) ImportServers(c *gin.Context) {
	dbConn := c.MustGet("dbConn").(*sqlx.DB)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Failed to read request body"})
		return
	}
	var servers []models.Server
	if err := json.Unmarshal(body, &servers); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	summary, err := models.CreateServers(dbConn, servers)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"message": err.Error(), "importSummary": summary})
		return
	}
	c.JSON(http.StatusOK, gin.H{"importSummary": summary})
}

// clientFor builds a DHIS2 client for the named registered server
func clientFor(c *gin.Context) (*dhis2.Client, bool) {
	srv, err := models.GetServerByName(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return nil, false
	}
	client, err := dhis2.NewClient(&srv)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return nil, false
	}
	return client, true
}

// PingServer handles GET /api/servers/:name/ping - verifies connectivity
// and credentials against the instance and returns its system id
func (s *ServerController) PingServer(c *gin.Context) {
	client, ok := clientFor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := client.Ping(ctx); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "down", "message": err.Error()})
		return
	}
	systemID, err := client.GetSystemID(ctx)
	if err != nil {
		log.WithError(err).Warn("Server reachable but system id lookup failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "up", "systemId": systemID})
}

// GetOrganisationUnits handles GET /api/servers/:name/organisationUnits -
// lists the instance's org units, optionally filtered by ?level=
func (s *ServerController) GetOrganisationUnits(c *gin.Context) {
	client, ok := clientFor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	hasUnits, err := client.HasOrganisationUnits(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
		return
	}
	if !hasUnits {
		c.JSON(http.StatusOK, gin.H{"organisationUnits": []dhis2.OrgUnit{}})
		return
	}
	level, _ := strconv.Atoi(c.DefaultQuery("level", "0"))
	units, err := client.GetOrganisationUnits(ctx, level)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"organisationUnits": units})
}

// SuggestOrgUnitMapping handles POST /api/servers/:name/orgUnitSuggestions -
// takes the source org unit selection and returns mapping rows with a
// suggested local target where one matches. Suggestions are advisory; the
// caller confirms each row before queuing a run.
func (s *ServerController) SuggestOrgUnitMapping(c *gin.Context) {
	client, ok := clientFor(c)
	if !ok {
		return
	}
	var sourceUnits []dhis2.OrgUnit
	if err := c.BindJSON(&sourceUnits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	ctx := c.Request.Context()
	level, _ := strconv.Atoi(c.DefaultQuery("level", "0"))
	localUnits, err := client.GetOrganisationUnits(ctx, level)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
		return
	}
	rows := make([]pipeline.OrgUnitMappingRow, 0, len(sourceUnits))
	for _, source := range sourceUnits {
		rows = append(rows, pipeline.OrgUnitMappingRow{
			Source: source,
			Target: pipeline.SuggestTarget(source, localUnits),
		})
	}
	c.JSON(http.StatusOK, gin.H{"orgUnitMapping": rows})
}

// PostMetadata handles POST /api/servers/:name/metadata - forwards a raw
// metadata payload to the instance's bulk import endpoint with the fixed
// import parameters and returns the import report
func (s *ServerController) PostMetadata(c *gin.Context) {
	client, ok := clientFor(c)
	if !ok {
		return
	}
	var payload map[string]interface{}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	report, err := client.PostMetadata(c.Request.Context(), payload)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": report.Status, "stats": report.Stats})
}
