package main

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"sync"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/cockroachdb/errors"
	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/internal/backend"
	"github.com/letmevibethatforyou/recordx/internal/config"
	"github.com/letmevibethatforyou/recordx/internal/ddb"
	"github.com/urfave/cli/v2"
)

// Handler mirrors DynamoDB stream records into a document store. Each
// item's sk names the destination index and, optionally, type.
type Handler struct {
	tableName string
	pool      *recordx.ConnectionPool

	mu     sync.Mutex
	models map[string]*recordx.Model
}

func NewHandler(tableName string, pool *recordx.ConnectionPool) *Handler {
	return &Handler{
		tableName: tableName,
		pool:      pool,
		models:    map[string]*recordx.Model{},
	}
}

// model returns the cached model for a record's target. Types default to
// the singular of the index name.
func (h *Handler) model(record ddb.Record) *recordx.Model {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m, ok := h.models[record.Target]; ok {
		return m
	}

	index := record.Index()
	opts := []recordx.ModelOption{recordx.WithIndexName(index)}
	if typ := record.Type(); typ != "" {
		opts = append(opts, recordx.WithTypeName(typ))
	}
	m := recordx.NewModel(strcase.ToCamel(inflection.Singular(index)), h.pool, opts...)
	h.models[record.Target] = m
	return m
}

func (h *Handler) HandleDynamoDBEvent(ctx context.Context, e ddb.DynamoDBEvent) error {
	slog.InfoContext(ctx, "Processing DynamoDB stream records", "record_count", len(e.Records), "table", h.tableName)

	for _, record := range e.Records {
		if err := h.processRecord(ctx, record); err != nil {
			slog.ErrorContext(ctx, "Error processing record", "event_id", record.EventID, "error", err)
			return err
		}
	}

	return nil
}

func (h *Handler) processRecord(ctx context.Context, record ddb.DynamoDBEventRecord) error {
	switch ddb.DynamoDBOperationType(record.EventName) {
	case ddb.DynamoDBOperationTypeInsert, ddb.DynamoDBOperationTypeModify:
		if record.Change.NewImage == nil {
			slog.WarnContext(ctx, "No new image for insert/modify operation, skipping record")
			return nil
		}

		parsed, err := ddb.UnmarshalRecord(record.Change.NewImage)
		if err != nil {
			slog.WarnContext(ctx, "Failed to unmarshal record, skipping", "error", err)
			return nil
		}
		if err := parsed.Validate(true); err != nil {
			slog.WarnContext(ctx, "Invalid record, skipping", "id", parsed.ID, "target", parsed.Target, "error", err)
			return nil
		}

		return h.handleUpsert(ctx, parsed)

	case ddb.DynamoDBOperationTypeRemove:
		parsed, err := ddb.UnmarshalRecord(record.Change.Keys)
		if err != nil {
			slog.WarnContext(ctx, "Failed to unmarshal keys for delete operation, skipping", "error", err)
			return nil
		}
		if err := parsed.Validate(false); err != nil {
			slog.WarnContext(ctx, "Invalid delete record, skipping", "error", err)
			return nil
		}

		return h.handleDelete(ctx, parsed)

	default:
		slog.InfoContext(ctx, "Ignoring event type", "event_type", record.EventName)
		return nil
	}
}

// handleUpsert saves the object under the item's id, replacing any earlier
// version. Records failing validation are logged and skipped.
func (h *Handler) handleUpsert(ctx context.Context, record ddb.Record) error {
	m := h.model(record)

	attrs := maps.Clone(record.Object)
	attrs[recordx.MetaID] = record.ID

	r, err := m.New(attrs)
	if err != nil {
		slog.WarnContext(ctx, "Failed to build record, skipping", "id", record.ID, "target", record.Target, "error", err)
		return nil
	}

	slog.InfoContext(ctx, "Saving record", "id", record.ID, "index", m.Mapping().IndexName(), "type", m.Mapping().TypeName())
	err = r.SaveStrict(ctx)
	if errors.Is(err, recordx.ErrRecordInvalid) {
		slog.WarnContext(ctx, "Record is invalid, skipping", "id", record.ID, "error", err)
		return nil
	}
	return err
}

// handleDelete removes the document. A document that is already gone is not
// an error.
func (h *Handler) handleDelete(ctx context.Context, record ddb.Record) error {
	m := h.model(record)

	r, err := m.InitWith(map[string]any{recordx.MetaID: record.ID})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Deleting record", "id", record.ID, "index", m.Mapping().IndexName(), "type", m.Mapping().TypeName())
	if _, err := r.Destroy(ctx); err != nil {
		if errors.Is(err, recordx.ErrNotFound) {
			slog.InfoContext(ctx, "Record already deleted", "id", record.ID)
			return nil
		}
		return err
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "index-sync",
		Usage: "Sync DynamoDB stream events to a document store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "table-name",
				Usage:    "DynamoDB table name to sync from",
				EnvVars:  []string{"TABLE_NAME"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"RECORDX_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "driver",
				Usage:   "Store driver, overriding the config file",
				EnvVars: []string{"RECORDX_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment name for AWS Secrets Manager",
				EnvVars: []string{"ENV", "ENVIRONMENT"},
			},
			&cli.StringFlag{
				Name:    "algolia-app-id",
				Usage:   "Algolia application ID",
				EnvVars: []string{"ALGOLIA_APP_ID"},
			},
			&cli.StringFlag{
				Name:    "algolia-api-key",
				Usage:   "Algolia API key",
				EnvVars: []string{"ALGOLIA_API_KEY"},
			},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if driver := c.String("driver"); driver != "" {
		cfg.Store.Driver = driver
	}
	if env := c.String("env"); env != "" {
		cfg.Algolia.Env = env
	}
	if appID, apiKey := c.String("algolia-app-id"), c.String("algolia-api-key"); appID != "" && apiKey != "" {
		cfg.Algolia.AppID = appID
		cfg.Algolia.APIKey = apiKey
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func runAction(c *cli.Context) error {
	ctx := c.Context
	tableName := c.String("table-name")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := backend.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	slog.InfoContext(ctx, "Starting DynamoDB index sync", "table", tableName, "driver", cfg.Store.Driver)

	pool, err := backend.NewPool(ctx, cfg, logger)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create connection pool", "error", err)
		return err
	}

	handler := NewHandler(tableName, pool)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		slog.InfoContext(ctx, "Running in Lambda environment")
		lambda.Start(handler.HandleDynamoDBEvent)
	} else {
		slog.InfoContext(ctx, "Function cannot run outside of AWS Lambda environment")
	}

	return nil
}
