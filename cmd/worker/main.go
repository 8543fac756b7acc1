package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/airbusgeo/geocube/interface/messaging"
	"github.com/airbusgeo/geocube/interface/messaging/pgqueue"
	"github.com/airbusgeo/geocube/interface/messaging/pubsub"
	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/interface/provider"
	"github.com/drnhhl/terragon/minicube"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
	"github.com/drnhhl/terragon/session"
	"go.uber.org/zap"
)

type config struct {
	WorkingDir string
	StorageURI string

	PgqDbConnection string
	PsProject       string
	JobQueue        string
	EventQueue      string

	Provider  string
	Fallbacks string
	Options   provider.Options
	VSI       string
}

func newAppConfig() (*config, error) {
	config := config{}
	// Global config
	flag.StringVar(&config.WorkingDir, "workdir", "/local-ssd", "working directory to store the downloaded scenes and the minicubes")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "storage uri (currently supported: local, gs) to store the minicubes")

	// Messaging
	flag.StringVar(&config.PgqDbConnection, "pgq-connection", "", "enable pgq messaging system with a connection to the database")
	flag.StringVar(&config.PsProject, "ps-project", "", "pubsub subscription project (gcp only/not required in local usage)")
	flag.StringVar(&config.JobQueue, "job-queue", "", "name of the queue for minicube jobs (pgqueue or pubsub subscription)")
	flag.StringVar(&config.EventQueue, "event-queue", "", "name of the queue for job results (pgqueue or pubsub topic)")

	// Providers
	flag.StringVar(&config.Provider, "provider", provider.NameSTAC, "provider: stac, order, imageservice or local")
	flag.StringVar(&config.Fallbacks, "fallbacks", "", "comma-separated providers tried when the provider fails")
	flag.StringVar(&config.Options.Items, "items", "", "STAC ItemCollection (url or file)")
	flag.StringVar(&config.Options.CatalogURL, "catalog-url", "", "OData catalog of the order provider")
	flag.StringVar(&config.Options.Path, "path", "", "root directory of the local provider")
	flag.StringVar(&config.Options.DownloadURL, "download-url", "", "download url of the order provider")
	flag.StringVar(&config.Options.URLPattern, "url-pattern", "", "url pattern of the imageservice provider")
	flag.StringVar(&config.Options.TokenURL, "token-url", "", "oauth2 token url")
	flag.StringVar(&config.Options.ClientID, "client-id", "", "oauth2 client id")
	flag.StringVar(&config.Options.User, "user", "", "oauth2 user")
	flag.StringVar(&config.Options.S3.Region, "s3-region", "", "region of the s3 buckets")
	flag.BoolVar(&config.Options.S3.RequesterPays, "s3-requester-pays", false, "s3 buckets are requester-pays")
	flag.StringVar(&config.VSI, "vsi", "", "comma-separated prefixes (gs://, s3://) of the remote files read by GDAL")
	flag.Parse()

	// Secrets
	config.Options.Token = os.Getenv("TERRAGON_TOKEN")
	config.Options.Password = os.Getenv("TERRAGON_PASSWORD")

	if config.WorkingDir == "" {
		return nil, fmt.Errorf("missing workdir config flag")
	}
	if config.StorageURI == "" {
		return nil, fmt.Errorf("wrong storage-uri config flag")
	}
	return &config, nil
}

func splitList(s string) []string {
	var l []string
	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			l = append(l, e)
		}
	}
	return l
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

	if err := service.RegisterGDAL(ctx, service.VSIConfig{}, splitList(config.VSI)...); err != nil {
		return err
	}

	var eventPublisher messaging.Publisher
	var jobConsumer messaging.Consumer
	var logMessaging string
	{
		if config.PgqDbConnection != "" {
			db, w, err := pgqueue.SqlConnect(ctx, config.PgqDbConnection)
			if err != nil {
				return fmt.Errorf("MessagingService: %w", err)
			}
			if config.JobQueue != "" {
				logMessaging += fmt.Sprintf(" pulling on pgqueue:%s", config.JobQueue)
				consumer := pgqueue.NewConsumer(db, config.JobQueue)
				defer consumer.Stop()
				jobConsumer = consumer
			}
			if config.EventQueue != "" {
				logMessaging += fmt.Sprintf(" pushing on pgqueue:%s", config.EventQueue)
				eventPublisher = pgqueue.NewPublisher(w, config.EventQueue, pgqueue.WithMaxRetries(5))
			}
		} else if config.PsProject != "" {
			if config.JobQueue != "" {
				logMessaging += fmt.Sprintf(" pulling on %s/%s", config.PsProject, config.JobQueue)
				if jobConsumer, err = pubsub.NewConsumer(config.PsProject, config.JobQueue); err != nil {
					return fmt.Errorf("pubsub.NewConsumer: %w", err)
				}
			}
			if config.EventQueue != "" {
				logMessaging += fmt.Sprintf(" pushing on %s/%s", config.PsProject, config.EventQueue)
				eventTopic, err := pubsub.NewPublisher(ctx, config.PsProject, config.EventQueue, pubsub.WithMaxRetries(5))
				if err != nil {
					return fmt.Errorf("messaging.NewPublisher: %w", err)
				}
				defer eventTopic.Stop()
				eventPublisher = eventTopic
			}
		}
	}
	if jobConsumer == nil {
		return fmt.Errorf("missing configuration for messaging.JobConsumer")
	}
	if eventPublisher == nil {
		return fmt.Errorf("missing configuration for messaging.EventPublisher")
	}

	storageService, err := service.NewStorageStrategy(ctx, config.StorageURI)
	if err != nil {
		return fmt.Errorf("storage[%s].%w", config.StorageURI, err)
	}

	w := worker{
		workDir: config.WorkingDir,
		storage: storageService,
		fetcher: &provider.Fetcher{S3: config.Options.S3, FTP: config.Options.FTP},
	}
	for _, name := range append([]string{config.Provider}, splitList(config.Fallbacks)...) {
		p, err := provider.New(ctx, name, config.Options)
		if err != nil {
			// A job can still give its own items
			log.Logger(ctx).Sugar().Warnf("provider %s: %v", name, err)
			continue
		}
		w.providers = append(w.providers, p)
	}

	lease := &jobLease{}
	go func() {
		http.Handle("/termination_cost", lease)
		http.ListenAndServe(":9000", nil)
	}()

	maxTries := 5 //Must be less than the configured number of tries of the pubsub topic

	log.Logger(ctx).Debug("worker starts" + logMessaging)
	for {
		err := jobConsumer.Pull(ctx, func(ctx context.Context, msg *messaging.Message) (err error) {
			lease.start(time.Now())
			defer lease.end()
			ctx = log.With(ctx, "msgID", msg.ID)
			log.Logger(log.With(ctx, "body", string(msg.Data))).Sugar().Debugf("message %s try %d", msg.ID, msg.TryCount)
			status := common.StatusRETRY
			job := common.MinicubeJob{}
			message := ""
			manifest := ""
			if err := json.Unmarshal(msg.Data, &job); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			} else if job.ID == "" {
				return fmt.Errorf("invalid payload: missing id")
			}
			ctx = log.With(ctx, "job", job.ID)

			defer func() {
				if err != nil && status != common.StatusFAILED && service.Temporary(err) {
					log.Logger(ctx).Warn("job temporary failure", zap.Error(err))
					return
				}
				if err != nil {
					log.Logger(ctx).Warn("job failed", zap.Error(err))
					message = err.Error()
				}
				res := common.Result{
					ID:       job.ID,
					Status:   status,
					Message:  message,
					Manifest: manifest,
				}
				resb, e := json.Marshal(res)
				if e != nil {
					err = service.MakeTemporary(fmt.Errorf("marshal: %w", e))
				} else if e := eventPublisher.Publish(ctx, resb); e != nil {
					err = service.MakeTemporary(fmt.Errorf("failed to enqueue result: %w", e))
				}
			}()
			if msg.TryCount > maxTries {
				status = common.StatusFAILED
				return fmt.Errorf("too many retries")
			}

			if manifest, err = w.process(ctx, job); err != nil {
				if msg.TryCount >= maxTries || service.Fatal(err) {
					status = common.StatusFAILED
					return fmt.Errorf("job %s: %w", job.ID, err)
				}
				return err
			}
			log.Logger(ctx).Sugar().Infof("successfully created minicube %s", job.ID)
			status = common.StatusDONE
			return
		})
		if err != nil {
			return fmt.Errorf("ps.process: %w", err)
		}
	}
}

type worker struct {
	workDir   string
	providers []provider.Provider
	fetcher   *provider.Fetcher
	storage   service.Storage
}

// process builds the minicube of the job, saves it in the storage and returns the uri of its manifest
func (w *worker) process(ctx context.Context, job common.MinicubeJob) (string, error) {
	providers := w.providers
	if job.Items != "" {
		providers = []provider.Provider{provider.NewSTACProvider(job.Items, w.fetcher)}
	}
	if len(providers) == 0 {
		return "", service.ErrConfiguration{Param: "items", Reason: "no provider is configured"}
	}

	outDir := filepath.Join(w.workDir, job.ID)
	defer os.RemoveAll(outDir)
	q, opts, err := session.QueryFromJob(job, outDir)
	if err != nil {
		return "", err
	}
	if _, err := session.New(providers[0], providers[1:]...).Create(ctx, q, opts); err != nil {
		return "", err
	}

	if _, err := w.storage.SaveProduct(ctx, job.ID, outDir); err != nil {
		return "", service.MakeTemporary(fmt.Errorf("process.%w", err))
	}
	manifest, err := w.storage.SaveFile(ctx, job.ID, filepath.Join(outDir, minicube.ManifestFile))
	if err != nil {
		return "", service.MakeTemporary(fmt.Errorf("process.%w", err))
	}
	return manifest, nil
}

// jobLease records when the current job was leased. It is read by the autoscaler through /termination_cost.
type jobLease struct {
	started atomic.Int64 // unix nanoseconds, 0 if idle
}

func (l *jobLease) start(t time.Time) { l.started.Store(t.UnixNano()) }
func (l *jobLease) end()              { l.started.Store(0) }

// cost returns the milliseconds since the current job was leased (0 if idle)
func (l *jobLease) cost(now time.Time) int64 {
	started := l.started.Load()
	if started == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, started)).Milliseconds()
}

func (l *jobLease) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "%d", l.cost(time.Now()))
}
