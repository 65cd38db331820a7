package main

import (
	"encoding/json"
	"strconv"

	"dqa360/config"
	"dqa360/db"
	"dqa360/models"

	log "github.com/sirupsen/logrus"
)

// LoadServersFromConfigFiles saves the DHIS2 instances read from the
// servers section of /etc/dqa360/dqa360.yml
func LoadServersFromConfigFiles(serverConfMap map[string]config.ServerConf) {
	for k := range serverConfMap {
		serverJSON, err := json.Marshal(serverConfMap[k])
		if err != nil {
			log.WithError(err).Error("Failed to marshal server configuration to []byte:")
			continue
		}
		dbConn := db.GetDB()
		srv, err := models.CreateServerFromJSON(dbConn, serverJSON)
		if err != nil {
			log.WithError(err).Error("Failed to create/update server")
			continue
		}
		models.ServerMap[strconv.Itoa(int(srv.ID()))] = srv
		models.ServerMapByName[srv.Name()] = srv
	}
}
