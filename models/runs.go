package models

import (
	"errors"
	"fmt"
	"time"

	"dqa360/utils"
	"dqa360/utils/dbutils"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// RunID is the id for a creation run
type RunID int64

// RunStatus is the status for each creation run
type RunStatus string

// constants for the run status
const (
	RunStatusReady     = RunStatus("ready")
	RunStatusRunning   = RunStatus("running")
	RunStatusCompleted = RunStatus("completed")
	RunStatusFailed    = RunStatus("failed")
	RunStatusCanceled  = RunStatus("canceled")
	RunStatusExpired   = RunStatus("expired")
)

// Run represents one queued "Create DQA Datasets" run for an assessment.
// The config JSONB carries the assessment selections (source elements with
// their category combos, org units, mapping, SMS settings); the report
// JSONB is the CreationReport as also written to the DHIS2 dataStore.
type Run struct {
	r struct {
		ID              RunID               `db:"id" json:"-"`
		UID             string              `db:"uid" json:"uid"`
		AssessmentID    string              `db:"assessment_id" json:"assessmentId" validate:"required"`
		Source          dbutils.Int         `db:"source" json:"source,omitempty"` // external server, 0 when metadata source is local
		Destination     int                 `db:"destination" json:"destination" validate:"required"`
		Config          dbutils.MapAnything `db:"config" json:"config" validate:"required"`
		Status          RunStatus           `db:"status" json:"status,omitempty"`
		Retries         int                 `db:"retries" json:"retries,omitempty"`
		Errors          string              `db:"errors" json:"errors,omitempty"`
		CancelRequested bool                `db:"cancel_requested" json:"cancelRequested,omitempty"`
		Report          dbutils.MapAnything `db:"report" json:"report,omitempty"`
		ReportSaved     bool                `db:"report_saved" json:"reportSaved,omitempty"`
		Created         time.Time           `db:"created" json:"created,omitempty"`
		Updated         time.Time           `db:"updated" json:"updated,omitempty"`
	}
}

// ID return the id of this run
func (r *Run) ID() RunID { return r.r.ID }

// UID returns the uid of this run
func (r *Run) UID() string { return r.r.UID }

// AssessmentID returns the assessment this run belongs to
func (r *Run) AssessmentID() string { return r.r.AssessmentID }

// Source return id of the external source server, 0 for local
func (r *Run) Source() int { return int(r.r.Source) }

// Destination return id of the local destination server
func (r *Run) Destination() int { return r.r.Destination }

// Status returns the status of the run
func (r *Run) Status() RunStatus { return r.r.Status }

// Config returns the run's assessment configuration
func (r *Run) Config() dbutils.MapAnything { return r.r.Config }

// Errors return the errors after processing the run
func (r *Run) Errors() string { return r.r.Errors }

const insertRunSQL = `
INSERT INTO runs(uid, assessment_id, source, destination, config, status)
VALUES (:uid, :assessment_id, :source, :destination, :config, :status)
RETURNING id
`

// NewRunFromPOST creates a run from the request body and queues it
func NewRunFromPOST(c *gin.Context, db *sqlx.DB) (*Run, error) {
	run := &Run{}
	contentType := c.Request.Header.Get("Content-Type")
	switch contentType {
	case "application/json":
		if err := c.BindJSON(&run.r); err != nil {
			log.WithError(err).Error("Error reading run object from POST body")
			return nil, err
		}
	default:
		log.WithField("Content-Type", contentType).Error("Unsupported content-Type")
		return nil, errors.New(fmt.Sprintf("Unsupported Content-Type: %s", contentType))
	}
	if len(run.r.AssessmentID) == 0 {
		return nil, errors.New("Run requires an assessmentId")
	}
	if _, ok := ServerMap[fmt.Sprintf("%d", run.r.Destination)]; !ok {
		return nil, errors.New(fmt.Sprintf("Destination server %d not known", run.r.Destination))
	}
	run.r.UID = utils.GetUID()
	run.r.Status = RunStatusReady

	rows, err := db.NamedQuery(insertRunSQL, run.r)
	if err != nil {
		log.WithError(err).Error("Failed to queue run")
		return nil, err
	}
	for rows.Next() {
		var id int64
		_ = rows.Scan(&id)
		run.r.ID = RunID(id)
	}
	_ = rows.Close()
	return run, nil
}

// GetRunByUID returns the run with the given uid
func GetRunByUID(db *sqlx.DB, uid string) (*Run, error) {
	run := &Run{}
	err := db.Get(&run.r, `SELECT * FROM runs WHERE uid = $1`, uid)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRunByID returns the run with the given id
func GetRunByID(db *sqlx.DB, id RunID) (*Run, error) {
	run := &Run{}
	err := db.Get(&run.r, `SELECT * FROM runs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

const updateRunSQL = `
UPDATE runs SET (status, errors, retries, report, report_saved, updated)
	= (:status, :errors, :retries, :report, :report_saved, current_timestamp) WHERE id = :id
`

// Update persists the run's mutable fields
func (r *Run) Update(db *sqlx.DB) {
	_, err := db.NamedExec(updateRunSQL, r.r)
	if err != nil {
		log.WithError(err).Error("Error updating run")
	}
}

// WithStatus updates the run status with passed value
func (r *Run) WithStatus(s RunStatus) *Run { r.r.Status = s; return r }

// SetErrors ...
func (r *Run) SetErrors(errs string) { r.r.Errors = errs }

// SetReport attaches the creation report and whether it reached the dataStore
func (r *Run) SetReport(report dbutils.MapAnything, saved bool) {
	r.r.Report = report
	r.r.ReportSaved = saved
}

// Report returns the stored creation report
func (r *Run) Report() dbutils.MapAnything { return r.r.Report }

// ReportSaved returns whether the report reached the DHIS2 dataStore
func (r *Run) ReportSaved() bool { return r.r.ReportSaved }

// Retries ...
func (r *Run) Retries() int { return r.r.Retries }

// IncrRetries ...
func (r *Run) IncrRetries() { r.r.Retries += 1 }

// RequestCancel flags the run for cooperative cancellation; the pipeline
// stops at the next step or dataset type checkpoint
func (r *Run) RequestCancel(db *sqlx.DB) error {
	r.r.CancelRequested = true
	_, err := db.NamedExec(`UPDATE runs SET cancel_requested = true, updated = current_timestamp WHERE id = :id`, r.r)
	return err
}

// CancelRequested re-reads the cancellation flag
func CancelRequested(db *sqlx.DB, id RunID) bool {
	var canceled bool
	err := db.Get(&canceled, `SELECT cancel_requested FROM runs WHERE id = $1`, id)
	if err != nil {
		log.WithError(err).Info("Error reading run cancellation flag")
		return false
	}
	return canceled
}

// RunSummary is the lightweight listing shape, no config or report payloads
type RunSummary struct {
	UID          string    `db:"uid" json:"uid"`
	AssessmentID string    `db:"assessment_id" json:"assessmentId"`
	Status       RunStatus `db:"status" json:"status"`
	Created      time.Time `db:"created" json:"created"`
	Updated      time.Time `db:"updated" json:"updated"`
}

// GetRuns lists queued runs newest first, optionally filtered by status
func GetRuns(db *sqlx.DB, status string) ([]RunSummary, error) {
	runs := []RunSummary{}
	var err error
	if len(status) > 0 {
		err = db.Select(&runs, `SELECT uid, assessment_id, status, created, updated
			FROM runs WHERE status = $1 ORDER BY created DESC`, status)
	} else {
		err = db.Select(&runs, `SELECT uid, assessment_id, status, created, updated
			FROM runs ORDER BY created DESC`)
	}
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// GetUnsavedReportRuns returns completed runs whose report never reached
// the dataStore - candidates for the scheduled retry job. Runs past the
// retry cap get status expired and are only picked again when force is set.
func GetUnsavedReportRuns(db *sqlx.DB, maxRetries int, force bool) []RunID {
	var ids []RunID
	var err error
	if force {
		err = db.Select(&ids, `
			SELECT id FROM runs
			WHERE status IN ('completed', 'expired') AND report_saved = false
			ORDER BY created`)
	} else {
		err = db.Select(&ids, `
			SELECT id FROM runs
			WHERE status = 'completed' AND report_saved = false AND retries <= $1
			ORDER BY created`, maxRetries)
	}
	if err != nil {
		log.WithError(err).Error("Error reading runs with unsaved reports")
	}
	return ids
}
