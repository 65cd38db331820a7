package controllers

import (
	"net/http"

	"dqa360/models"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// RunController handles the creation run queue endpoints
type RunController struct{}

// CreateRun handles POST /api/runs - queues a "Create DQA Datasets" run
// for the run processor to pick up
func (r *RunController) CreateRun(c *gin.Context) {
	dbConn := c.MustGet("dbConn").(*sqlx.DB)
	run, err := models.NewRunFromPOST(c, dbConn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	log.WithFields(log.Fields{
		"UID": run.UID(), "AssessmentID": run.AssessmentID()}).Info("Queued creation run")
	c.JSON(http.StatusCreated, gin.H{
		"uid":          run.UID(),
		"assessmentId": run.AssessmentID(),
		"status":       run.Status(),
	})
}

// ListRuns handles GET /api/runs - lists queued runs, optionally filtered
// by ?status=
func (r *RunController) ListRuns(c *gin.Context) {
	dbConn := c.MustGet("dbConn").(*sqlx.DB)
	runs, err := models.GetRuns(dbConn, c.Query("status"))
	if err != nil {
		log.WithError(err).Error("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// GetRun handles GET /api/runs/:uid - returns run status, errors and the
// creation report once available
func (r *RunController) GetRun(c *gin.Context) {
	dbConn := c.MustGet("dbConn").(*sqlx.DB)
	run, err := models.GetRunByUID(dbConn, c.Param("uid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"uid":          run.UID(),
		"assessmentId": run.AssessmentID(),
		"status":       run.Status(),
		"errors":       run.Errors(),
		"report":       run.Report(),
		"reportSaved":  run.ReportSaved(),
	})
}

// CancelRun handles DELETE /api/runs/:uid - requests cooperative
// cancellation. The pipeline stops at the next step boundary; metadata
// already created on the instance stays in place.
func (r *RunController) CancelRun(c *gin.Context) {
	dbConn := c.MustGet("dbConn").(*sqlx.DB)
	run, err := models.GetRunByUID(dbConn, c.Param("uid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Run not found"})
		return
	}
	switch run.Status() {
	case models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCanceled:
		c.JSON(http.StatusConflict, gin.H{"message": "Run already finished"})
		return
	}
	if err := run.RequestCancel(dbConn); err != nil {
		log.WithError(err).Error("Failed to flag run for cancellation")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to request cancellation"})
		return
	}
	log.WithField("UID", run.UID()).Info("Run cancellation requested")
	c.JSON(http.StatusOK, gin.H{"uid": run.UID(), "message": "Cancellation requested"})
}
