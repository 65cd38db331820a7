package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dqa360/config"
	"dqa360/db"
	"dqa360/dhis2"
	"dqa360/models"
	"dqa360/pipeline"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// progressObserver bridges pipeline progress events into the service log
type progressObserver struct {
	runUID string
}

func (o *progressObserver) StepChanged(datasetIndex int, step pipeline.Step, status pipeline.StepStatus, details string) {
	log.WithFields(log.Fields{
		"RunUID":  o.runUID,
		"Dataset": datasetIndex,
		"Step":    step.String(),
		"Status":  status,
	}).Info(details)
}

func (o *progressObserver) ItemProgress(datasetIndex int, step pipeline.Step, done, total int, item string) {
	log.WithFields(log.Fields{
		"RunUID":   o.runUID,
		"Dataset":  datasetIndex,
		"Step":     step.String(),
		"Progress": fmt.Sprintf("%d/%d", done, total),
	}).Debug(item)
}

// Produce gets all the ready runs in the queue. The mutex is shared with
// the consumers, which remove handled runs from seenMap.
func Produce(dbConn *sqlx.DB, jobs chan<- models.RunID, wg *sync.WaitGroup, mutex *sync.RWMutex, seenMap map[models.RunID]bool) {
	defer wg.Done()
	log.Info("Run producer starting")

	for {
		rows, err := dbConn.Queryx(`SELECT id FROM runs WHERE status = $1 ORDER BY created LIMIT 100000`, "ready")
		if err != nil {
			log.WithError(err).Error("ERROR READING READY RUNS!!!")
		}
		runsCount := 0
		for rows.Next() {
			runsCount += 1
			var runID int64
			if err := rows.Scan(&runID); err != nil {
				log.WithError(err).Error("Error reading run from queue:")
				continue
			}
			mutex.Lock()
			if _, exists := seenMap[models.RunID(runID)]; exists {
				mutex.Unlock()
				log.WithField("runID", runID).Info("Run already in dynamic queue")
				continue
			}
			mutex.Unlock()
			go func(id int64) {
				defer func() {
					if r := recover(); r != nil {
						fmt.Println("Recovered in Produce", r)
					}
				}()
				mutex.Lock()
				defer mutex.Unlock()
				jobs <- models.RunID(id)
				seenMap[models.RunID(id)] = true
				log.Info(fmt.Sprintf("Added Run [id: %v]", id))
			}(runID)
		}
		if err := rows.Err(); err != nil {
			log.WithError(err).Error("Error reading runs")
		}
		_ = rows.Close()

		if runsCount > 0 {
			log.WithField("runsAdded", runsCount).Info("Fetched Runs")
		}
		time.Sleep(time.Duration(config.DQA360Conf.Server.RunProcessInterval) * time.Second)
	}
}

// StartConsumers starts the consumer go routines, each with its own
// database connection
func StartConsumers(jobs <-chan models.RunID, wg *sync.WaitGroup, mutex *sync.RWMutex, seenMap map[models.RunID]bool) {
	defer wg.Done()

	dbURI := config.DQA360Conf.Database.URI
	log.Info(fmt.Sprintf("Going to create %d Consumers", config.DQA360Conf.Server.MaxConcurrent))
	for i := 1; i <= config.DQA360Conf.Server.MaxConcurrent; i++ {
		newConn, err := sqlx.Connect("postgres", dbURI)
		if err != nil {
			log.Fatalf("Run processor failed to connect to database: %v", err)
		}
		wg.Add(1)
		go Consume(newConn, i, jobs, wg, mutex, seenMap)
	}
	log.WithFields(log.Fields{"MaxConsumers": config.DQA360Conf.Server.MaxConcurrent}).Info("Created Consumers")
}

// Consume is the consumer go routine
func Consume(dbConn *sqlx.DB, worker int, jobs <-chan models.RunID, wg *sync.WaitGroup, mutex *sync.RWMutex, seenMap map[models.RunID]bool) {
	defer wg.Done()

	for runID := range jobs {
		log.WithFields(log.Fields{"worker": worker, "runID": runID}).Info("Handling Run")
		ProcessRun(dbConn, runID)
		mutex.Lock()
		delete(seenMap, runID)
		mutex.Unlock()
		log.WithFields(log.Fields{"runID": runID}).Info("Consumer done with run.")
		time.Sleep(1 * time.Second)
	}
}

// ProcessRun executes one queued creation run end to end: builds the
// DHIS2 clients from the server registry, drives the pipeline and
// records the outcome on the run row
func ProcessRun(dbConn *sqlx.DB, runID models.RunID) {
	run, err := models.GetRunByID(dbConn, runID)
	if err != nil {
		log.WithError(err).WithField("runID", runID).Error("Failed to read run for processing")
		return
	}
	if run.Status() != models.RunStatusReady {
		log.WithFields(log.Fields{"runID": runID, "status": run.Status()}).Info("Run no longer ready, skipping")
		return
	}
	run.WithStatus(models.RunStatusRunning).Update(dbConn)

	cfg, err := pipeline.ParseAssessmentConfig(run.Config())
	if err != nil {
		run.SetErrors(err.Error())
		run.WithStatus(models.RunStatusFailed).Update(dbConn)
		return
	}
	if len(cfg.PublicAccess) == 0 {
		cfg.PublicAccess = config.DQA360Conf.Sharing.PublicAccess
	}
	if len(cfg.UserGroups) == 0 {
		cfg.UserGroups = config.DQA360Conf.Sharing.UserGroups
	}

	destination, ok := models.ServerMap[fmt.Sprintf("%d", run.Destination())]
	if !ok {
		run.SetErrors(fmt.Sprintf("Destination server %d not in server map", run.Destination()))
		run.WithStatus(models.RunStatusFailed).Update(dbConn)
		return
	}
	local, err := dhis2.NewClient(&destination)
	if err != nil {
		run.SetErrors(err.Error())
		run.WithStatus(models.RunStatusFailed).Update(dbConn)
		return
	}

	var source pipeline.API
	if !cfg.SourceIsLocal && run.Source() > 0 {
		sourceServer, ok := models.ServerMap[fmt.Sprintf("%d", run.Source())]
		if !ok {
			run.SetErrors(fmt.Sprintf("Source server %d not in server map", run.Source()))
			run.WithStatus(models.RunStatusFailed).Update(dbConn)
			return
		}
		sourceClient, err := dhis2.NewClient(&sourceServer)
		if err != nil {
			run.SetErrors(err.Error())
			run.WithStatus(models.RunStatusFailed).Update(dbConn)
			return
		}
		source = sourceClient
	}

	// cooperative cancellation: a DELETE on the run flips the flag in the
	// database and the watcher cancels the pipeline context
	ctx, cancel := context.WithCancel(context.Background())
	stopWatch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopWatch:
				return
			case <-ticker.C:
				if models.CancelRequested(dbConn, runID) {
					cancel()
					return
				}
			}
		}
	}()

	runner := &pipeline.Runner{
		Local:  local,
		Source: source,
		Cfg:    cfg,
		UIDs: pipeline.NewUIDGen(run.UID()).WithPersistence(models.UIDIsUsed,
			func(uid, runUID string) {
				used := &models.UsedUID{UID: uid, RunUID: runUID}
				used.NewUsedUID()
			}),
		Rec:                  pipeline.NewRecorder(),
		Obs:                  &progressObserver{runUID: run.UID()},
		COCFetchTimeout:      time.Duration(config.DQA360Conf.API.COCFetchTimeoutMs) * time.Millisecond,
		DataStoreNamespace:   config.DQA360Conf.API.DataStoreNamespace,
		DatasetAttributeCode: config.DQA360Conf.API.DatasetAttribute,
		DefaultSMSSeparator:  config.DQA360Conf.API.DefaultSMSSeparator,
	}

	report, saved, runErr := runner.Run(ctx)
	close(stopWatch)
	canceled := ctx.Err() != nil
	cancel()

	run.SetReport(report.AsMap(), saved)
	var datasetErrors []string
	for _, ds := range report.Datasets {
		datasetErrors = append(datasetErrors, ds.Errors...)
	}
	if runErr != nil {
		datasetErrors = append(datasetErrors, runErr.Error())
	}
	run.SetErrors(strings.Join(datasetErrors, "; "))

	switch {
	case canceled:
		run.WithStatus(models.RunStatusCanceled)
	case report.Summary.Created == 0:
		run.WithStatus(models.RunStatusFailed)
	default:
		run.WithStatus(models.RunStatusCompleted)
	}
	run.Update(dbConn)
	log.WithFields(log.Fields{
		"runID":       runID,
		"status":      run.Status(),
		"created":     report.Summary.Created,
		"failed":      report.Summary.Failed,
		"reportSaved": saved,
	}).Info("Run processed")
}

// RetryUnsavedReports occasionally retries pushing creation reports that
// never made it to the DHIS2 dataStore - there could be a success chance.
// Scheduled via the retry cron expression.
func RetryUnsavedReports() {
	log.Info("..::::::.. Starting to retry unsaved creation reports ..::::::..")
	dbConn := db.GetDB()
	maxRetries := config.DQA360Conf.Server.MaxRetries
	ids := models.GetUnsavedReportRuns(dbConn, maxRetries, *config.ForceRetry)
	for _, id := range ids {
		run, err := models.GetRunByID(dbConn, id)
		if err != nil {
			log.WithError(err).WithField("runID", id).Error("Failed to read run for report retry")
			continue
		}
		destination, ok := models.ServerMap[fmt.Sprintf("%d", run.Destination())]
		if !ok {
			continue
		}
		client, err := dhis2.NewClient(&destination)
		if err != nil {
			log.WithError(err).Error("Failed to create client for report retry")
			continue
		}
		key := fmt.Sprintf("report_%s", run.AssessmentID())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = client.SaveDataStore(ctx, config.DQA360Conf.API.DataStoreNamespace, key, run.Report())
		cancel()
		run.IncrRetries()
		if err != nil {
			log.WithError(err).WithField("runID", id).Warn("Creation report still not saved")
			if run.Retries() > maxRetries {
				run.WithStatus(models.RunStatusExpired)
				log.WithFields(log.Fields{"runID": id, "retries": run.Retries()}).Warn(
					"Run exceeded report retry cap, marking expired")
			}
			run.Update(dbConn)
			continue
		}
		run.SetReport(run.Report(), true)
		run.WithStatus(models.RunStatusCompleted)
		run.Update(dbConn)
		log.WithFields(log.Fields{"runID": id, "key": key}).Info("Creation report saved on retry")
	}
	log.Info("..:::.. Finished retrying unsaved creation reports ..:::..")
}
