package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/airbusgeo/geocube/interface/messaging"
	"github.com/airbusgeo/geocube/interface/messaging/pgqueue"
	"github.com/airbusgeo/geocube/interface/messaging/pubsub"
	"github.com/drnhhl/terragon/common"
	db "github.com/drnhhl/terragon/interface/database"
	"github.com/drnhhl/terragon/interface/database/memory"
	"github.com/drnhhl/terragon/interface/database/pg"
	"github.com/drnhhl/terragon/server"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
	"github.com/drnhhl/terragon/workflow"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

type autoscalerConfig struct {
	Namespace          string
	PsJobQueue         string
	WorkerRC           string
	MaxWorkerInstances int64
}

type config struct {
	AppPort         string
	DbConnection    string
	PgqDbConnection string
	PsProject       string
	JobQueue        string
	EventQueue      string
	Token           string
	RetryCount      int
	StorageURI      string
	Autoscaler      autoscalerConfig
}

func newAppConfig() (*config, error) {
	appPort := flag.String("port", "8080", "workflow port ot use")
	dbConnection := flag.String("dbConnection", "", "database connection (jobs are kept in memory if empty)")
	pgqConnection := flag.String("pgq-connection", "", "enable pgq messaging system with a connection to the database")
	psProject := flag.String("psProject", "", "pubsub project (gcp only/not required in local usage)")
	jobQueue := flag.String("job-queue", "", "name of the queue for minicube jobs (pgqueue or pubsub topic)")
	eventQueue := flag.String("event-queue", "", "name of the queue for job results (pgqueue or pubsub subscription)")
	retryCount := flag.Int("retry-count", workflow.DefaultRetryCount, "number of automatic retries of a job failing temporarily")
	storageURI := flag.String("storage-uri", "", "storage of the minicube products, deleted with their job (products are kept if empty)")

	namespace := flag.String("namespace", "", "namespace (autoscaler)")
	workerRC := flag.String("worker-rc", "", "worker replication controller name (autoscaler)")
	maxWorkerInstances := flag.Int64("max-worker", 10, "Max worker instances (autoscaler)")
	flag.Parse()

	if *appPort == "" {
		return nil, fmt.Errorf("failed to initialize port application flag")
	}
	if *jobQueue == "" || *eventQueue == "" {
		return nil, fmt.Errorf("missing job-queue or event-queue config flag")
	}
	return &config{
		AppPort:         *appPort,
		DbConnection:    *dbConnection,
		PgqDbConnection: *pgqConnection,
		PsProject:       *psProject,
		JobQueue:        *jobQueue,
		EventQueue:      *eventQueue,
		// Secret
		Token:      os.Getenv("TERRAGON_API_TOKEN"),
		RetryCount: *retryCount,
		StorageURI: *storageURI,
		Autoscaler: autoscalerConfig{
			Namespace:          *namespace,
			PsJobQueue:         *jobQueue,
			WorkerRC:           *workerRC,
			MaxWorkerInstances: *maxWorkerInstances,
		},
	}, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	// Connection to database
	var backend db.WorkflowDBBackend
	if config.DbConnection != "" {
		pgdb, err := pg.New(ctx, config.DbConnection)
		if err != nil {
			return fmt.Errorf("pg.New: %w", err)
		}
		if err := pgdb.CreateSchema(ctx); err != nil {
			return err
		}
		backend = pgdb
	} else {
		log.Logger(ctx).Warn("database is not configured: jobs are kept in memory")
		backend = memory.New()
	}

	// Messaging service
	var jobPublisher messaging.Publisher
	var eventConsumer messaging.Consumer
	var logMessaging string
	{
		if config.PgqDbConnection != "" {
			pgqdb, w, err := pgqueue.SqlConnect(ctx, config.PgqDbConnection)
			if err != nil {
				return fmt.Errorf("MessagingService: %w", err)
			}
			logMessaging += fmt.Sprintf(" pulling on pgqueue:%s pushing jobs on pgqueue:%s", config.EventQueue, config.JobQueue)
			consumer := pgqueue.NewConsumer(pgqdb, config.EventQueue)
			defer consumer.Stop()
			eventConsumer = consumer
			jobPublisher = pgqueue.NewPublisher(w, config.JobQueue, pgqueue.WithMaxRetries(5))
		} else if config.PsProject != "" {
			// Start autoscaler
			if err = runAutoscaler(ctx, config.PsProject, config.Autoscaler); err != nil {
				log.Logger(ctx).Warn("not running autoscaler", zap.Error(err))
			}

			logMessaging += fmt.Sprintf(" pulling on %s/%s", config.PsProject, config.EventQueue)
			if eventConsumer, err = pubsub.NewConsumer(config.PsProject, config.EventQueue); err != nil {
				return fmt.Errorf("pubsub.new: %w", err)
			}

			logMessaging += fmt.Sprintf(" pushing jobs on %s/%s", config.PsProject, config.JobQueue)
			publisher, err := pubsub.NewPublisher(ctx, config.PsProject, config.JobQueue)
			if err != nil {
				return fmt.Errorf("pubsub.NewPublisher(Job): %w", err)
			}
			defer publisher.Stop()
			jobPublisher = publisher
		}
	}
	if eventConsumer == nil {
		return fmt.Errorf("missing configuration for messaging.EventConsumer")
	}
	if jobPublisher == nil {
		return fmt.Errorf("missing configuration for messaging.JobPublisher")
	}

	// Create Workflow Server
	wf := workflow.NewWorkflow(backend, jobPublisher)
	wf.RetryCount = config.RetryCount
	if config.StorageURI != "" {
		if wf.Storage, err = service.NewStorageStrategy(ctx, config.StorageURI); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}
	router := wf.NewHandler()
	headersOk := handlers.AllowedHeaders([]string{"*"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	s := http.Server{
		Addr:    ":" + config.AppPort,
		Handler: handlers.CORS(originsOk, headersOk, methodsOk)(server.BearerAuthenticate(config.Token, router)),
	}
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger(ctx).Error(err.Error())
		}
	}()

	log.Logger(ctx).Debug("workflow starts" + logMessaging)
	for {
		err := eventConsumer.Pull(ctx, func(ctx context.Context, msg *messaging.Message) error {
			ctx = log.With(ctx, "msgID", msg.ID)
			log.Logger(log.With(ctx, "body", string(msg.Data))).Sugar().Debugf("message %s try %d", msg.ID, msg.TryCount)
			if msg.TryCount > 30 {
				return fmt.Errorf("bailing out after too many retries")
			}
			result := common.Result{}
			if err := json.Unmarshal(msg.Data, &result); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			} else if result.ID == "" {
				return fmt.Errorf("invalid payload: missing id")
			}
			if err := wf.ResultHandler(ctx, result); err != nil {
				return service.MakeTemporary(fmt.Errorf("failed to process job %s: %w", result.ID, err))
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("ps.process: %w", err)
		}
	}
}
