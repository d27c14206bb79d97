package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"news-summariser/auth"
	"news-summariser/chartbeat"
	"news-summariser/config"
	"news-summariser/email"
	"news-summariser/pipeline"
	"news-summariser/pkg/digest"
	"news-summariser/records"
	"news-summariser/scraper"
	"news-summariser/server"
	"news-summariser/storage"
	"news-summariser/subscription"
	"news-summariser/summarise"
	"path/filepath"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const defaultLocalStorage = "./data"

// app holds the services shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    *http.Client
	awsCfg    *aws.Config
	dynamo    *dynamodb.Client
	closers   []func() error
	collector *pipeline.Collector
	runner    server.Runner
	publisher *pipeline.Publisher
	subs      *subscription.Service
	auth      *auth.Service
	drafts    *storage.Archive
	published *storage.Archive
}

// newApp wires every component from cfg. Settings that only some operations
// need are checked when those operations run, so a partly configured service
// still starts.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}

	draftBucket, publishedBucket, err := a.buckets(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.drafts = storage.NewArchive(draftBucket, storage.DraftLayout, logger)
	a.published = storage.NewArchive(publishedBucket, storage.PublishedLayout, logger)

	subscribers, err := a.subscribers(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	admins, err := a.admins(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	provider, err := a.mailProvider(ctx)
	switch {
	case config.IsMissing(err):
		logger.Warn("Mail provider not configured", "provider", cfg.Get(config.MailProvider), "error", err)
		provider = unconfiguredProvider{err: err}
	case err != nil:
		a.close()
		return nil, err
	}
	sender := email.New(provider, logger)

	a.subs = subscription.New(subscribers, sender, []byte(cfg.Get(config.SubscriptionSecret)), cfg.Get(config.BaseURL), logger)
	a.auth = auth.New(admins, []byte(cfg.Get(config.SessionSecret)), logger)

	fetcher := chartbeat.New(a.client, "", cfg.Get(config.ChartbeatAPIKey), cfg.Get(config.ChartbeatHost), logger)
	a.collector = pipeline.NewCollector(fetcher, scraper.New(a.client, logger), logger)

	summariser, err := summarise.FromConfig(cfg, a.client, logger)
	switch {
	case config.IsMissing(err):
		logger.Warn("Summariser not configured", "provider", cfg.Get(config.SummariserProvider), "error", err)
		a.runner = failingRunner{err: err}
	case err != nil:
		a.close()
		return nil, err
	default:
		a.runner = pipeline.NewRunner(a.collector, summariser, a.drafts, logger)
	}

	a.publisher = pipeline.NewPublisher(a.drafts, a.published, subscribers, sender, a.subs, logger)
	return a, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("Failed to close client", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) localDir() string {
	if dir := a.cfg.Get(config.LocalStorage); dir != "" {
		return dir
	}
	return defaultLocalStorage
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.Get(config.AWSRegion)))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	if endpoint := a.cfg.Get(config.AWSEndpointURL); endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}
	a.awsCfg = &cfg
	return cfg, nil
}

func (a *app) dynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	if a.dynamo != nil {
		return a.dynamo, nil
	}
	cfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	a.dynamo = dynamodb.NewFromConfig(cfg)
	return a.dynamo, nil
}

// buckets opens the draft and published buckets on the configured backend.
// A bucket whose name is unset fails each call with a configuration error.
func (a *app) buckets(ctx context.Context) (drafts, published storage.Bucket, err error) {
	switch backend := strings.ToLower(a.cfg.Get(config.StorageBackend)); backend {
	case "local":
		dir := a.localDir()
		a.logger.Info("Using local object storage", "storage_path", dir)
		return storage.NewLocal(filepath.Join(dir, "drafts"), a.logger),
			storage.NewLocal(filepath.Join(dir, "published"), a.logger), nil

	case "s3":
		cfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		pathStyle := a.cfg.Get(config.AWSEndpointURL) != ""
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = pathStyle
		})
		open := func(name string) storage.Bucket {
			return storage.NewS3(client, name, a.logger)
		}
		return a.named(config.DraftBucket, open), a.named(config.PublishedBucket, open), nil

	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		open := func(name string) storage.Bucket {
			return storage.NewGCS(client, name, a.logger)
		}
		return a.named(config.DraftBucket, open), a.named(config.PublishedBucket, open), nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func (a *app) named(variable string, open func(name string) storage.Bucket) storage.Bucket {
	name := a.cfg.Get(variable)
	if name == "" {
		a.logger.Warn("Bucket not configured", "var", variable)
		return storage.Unconfigured{Var: variable}
	}
	return open(name)
}

func (a *app) subscribers(ctx context.Context) (records.Subscribers, error) {
	table := a.cfg.Get(config.SubscribersTable)
	if table == "" {
		dir := filepath.Join(a.localDir(), "subscribers")
		a.logger.Info("No SUBSCRIBERS_TABLE set, using local subscriber store", "storage_path", dir)
		return records.NewLocalSubscribers(dir, a.logger), nil
	}
	db, err := a.dynamoClient(ctx)
	if err != nil {
		return nil, err
	}
	return records.NewDynamoSubscribers(db, table, a.logger), nil
}

func (a *app) admins(ctx context.Context) (records.Admins, error) {
	addr, hash := a.cfg.Get(config.AdminEmail), a.cfg.Get(config.AdminPasswordHash)
	if addr != "" && hash != "" {
		a.logger.Info("Using single admin account from environment", "email", addr)
		return records.Static{Account: digest.Admin{
			Email:          strings.ToLower(addr),
			Name:           "Admin",
			HashedPassword: hash,
		}}, nil
	}
	db, err := a.dynamoClient(ctx)
	if err != nil {
		return nil, err
	}
	return records.NewDynamoAdmins(db, a.cfg.Get(config.AdminsTable), a.logger), nil
}

func (a *app) mailProvider(ctx context.Context) (email.Provider, error) {
	cfg := a.cfg
	switch name := strings.ToLower(cfg.Get(config.MailProvider)); name {
	case "smtp":
		if err := cfg.Require(config.SMTPUser, config.AppPassword); err != nil {
			return nil, err
		}
		from := cfg.Get(config.MailFrom)
		if from == "" {
			from = cfg.Get(config.SMTPUser)
		}
		return email.NewSMTPProvider(cfg.Get(config.SMTPHost), cfg.Get(config.SMTPPort),
			cfg.Get(config.SMTPUser), cfg.Get(config.AppPassword), from, a.logger), nil
	case "gmail":
		svc, err := newGmailService(ctx, cfg.Get(config.GoogleCredentials))
		if err != nil {
			return nil, err
		}
		return email.NewGmailProvider(svc, a.logger), nil
	case "brevo":
		if err := cfg.Require(config.BrevoAPIKey, config.MailFrom); err != nil {
			return nil, err
		}
		return email.NewBrevoProvider(cfg.Get(config.BrevoAPIKey), cfg.Get(config.MailFrom), "News Summariser", a.logger), nil
	case "mock":
		a.logger.Info("Mock email mode enabled")
		return email.NewMockProvider(a.logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", name)
	}
}

// newGmailService uses explicit credentials when given, and Application
// Default Credentials when running on Google Cloud.
func newGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}
	if onGoogleCloud(ctx) {
		return gmail.NewService(ctx)
	}
	return nil, config.Missing(config.GoogleCredentials)
}

func onGoogleCloud(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

// unconfiguredProvider fails every send with the configuration error found
// at startup.
type unconfiguredProvider struct {
	err error
}

func (p unconfiguredProvider) Send(context.Context, email.Message) error {
	return p.err
}

// failingRunner stands in for the pipeline when no summariser could be built.
type failingRunner struct {
	err error
}

func (r failingRunner) Run(context.Context) (string, error) {
	return "", r.err
}
