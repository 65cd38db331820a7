package models

import (
	"dqa360/db"

	log "github.com/sirupsen/logrus"
)

// UsedUID records a UID handed out to a synthesized object so later runs
// avoid re-issuing it. Best effort - failures only log.
type UsedUID struct {
	ID      string `db:"id" json:"id"`
	UID     string `db:"uid" json:"uid"`
	RunUID  string `db:"run_uid" json:"runUid"`
	Created string `db:"created" json:"created,omitempty"`
	Updated string `db:"updated" json:"updated,omitempty"`
}

const insertUsedUIDSQL = `
INSERT INTO used_uids(uid, run_uid, created, updated)
VALUES(:uid, :run_uid, NOW(), NOW())`

func (u *UsedUID) NewUsedUID() {
	dbConn := db.GetDB()
	_, err := dbConn.NamedExec(insertUsedUIDSQL, u)
	if err != nil {
		log.WithError(err).Info("ERROR INSERTING Used UID")
	}
}

// UIDIsUsed returns true if the uid was handed out by a previous run
func UIDIsUsed(uid string) bool {
	dbConn := db.GetDB()
	var count int
	err := dbConn.Get(&count, `SELECT count(*) FROM used_uids WHERE uid = $1`, uid)
	if err != nil {
		log.WithField("UID", uid).WithError(err).Info("Failed to check used UID")
		return false
	}
	return count > 0
}
