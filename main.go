package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"dqa360/config"
	"dqa360/controllers"
	"dqa360/models"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func init() {
	formatter := new(log.TextFormatter)
	formatter.TimestampFormat = time.RFC3339
	formatter.FullTimestamp = true
	log.SetFormatter(formatter)
	log.SetOutput(os.Stdout)
}

var splash = `
╺┳┓┏━┓┏━┓┏━┓┏━┓┏━┓
 ┃┃┃┓┃┣━┫ ┏┛┣━┓┃┃┃
╺┻┛┗┻┛╹ ╹┗━┛┗━┛┗━┛
`

func main() {
	fmt.Printf(splash)
	dbConn, err := sqlx.Connect("postgres", config.DQA360Conf.Database.URI)
	if err != nil {
		log.Fatalln(err)
	}

	LoadServersFromConfigFiles(config.DQA360Conf.Servers)

	go func() {
		s := gocron.NewScheduler(time.UTC)

		// retrying unsaved creation reports runs on the configured cron
		log.WithFields(log.Fields{"RetryCronExpression": config.DQA360Conf.API.RetryCronExpression}).Info(
			"Report Retry Cron Expression")
		_, err = s.Cron(config.DQA360Conf.API.RetryCronExpression).Do(RetryUnsavedReports)
		if err != nil {
			log.WithError(err).Error("Error scheduling unsaved report retry task:")
		}
		s.StartAsync()
	}()

	jobs := make(chan models.RunID)
	var wg sync.WaitGroup

	seenMap := make(map[models.RunID]bool)
	mutex := &sync.RWMutex{}

	if !*config.SkipRunProcessing {
		// don't produce anything if skip processing is enabled

		wg.Add(1)
		go Produce(dbConn, jobs, &wg, mutex, seenMap)

		wg.Add(1)
		go StartConsumers(jobs, &wg, mutex, seenMap)
	}

	// Start the backend API gin server
	wg.Add(1)
	go startAPIServer(&wg)

	wg.Wait()
}

func startAPIServer(wg *sync.WaitGroup) {
	defer wg.Done()
	router := gin.Default()
	v1 := router.Group("/api", models.BasicAuth())
	{
		v1.GET("/test", func(c *gin.Context) {
			c.String(200, "Authorized")
		})

		u := new(controllers.UserController)
		v1.POST("/getToken", u.GetToken)

		s := new(controllers.ServerController)
		v1.POST("/servers", s.CreateServer)
		v1.POST("/importServers", s.ImportServers)
		v1.GET("/servers/:name/ping", s.PingServer)
		v1.GET("/servers/:name/organisationUnits", s.GetOrganisationUnits)
		v1.POST("/servers/:name/orgUnitSuggestions", s.SuggestOrgUnitMapping)
		v1.POST("/servers/:name/metadata", s.PostMetadata)

		r := new(controllers.RunController)
		v1.POST("/runs", r.CreateRun)
		v1.GET("/runs", r.ListRuns)
		v1.GET("/runs/:uid", r.GetRun)
		v1.DELETE("/runs/:uid", r.CancelRun)
	}
	router.NoRoute(func(c *gin.Context) {
		c.String(404, "Page Not Found!")
	})

	_ = router.Run(":" + fmt.Sprintf("%s", config.DQA360Conf.Server.Port))
}
