package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/internal/backend"
	"github.com/letmevibethatforyou/recordx/internal/config"
	"github.com/letmevibethatforyou/recordx/internal/ddb"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"
)

const defaultTarget = "vehicles/vehicle"

var (
	makes = map[string][]string{
		"Toyota":    {"Camry", "Corolla", "Prius", "RAV4", "Highlander", "Tacoma", "4Runner"},
		"Honda":     {"Civic", "Accord", "CR-V", "Pilot", "Fit", "HR-V", "Ridgeline"},
		"Ford":      {"F-150", "Mustang", "Explorer", "Escape", "Focus", "Fusion", "Bronco"},
		"BMW":       {"3 Series", "5 Series", "X3", "X5", "i3", "i8", "Z4"},
		"Mercedes":  {"C-Class", "E-Class", "S-Class", "GLC", "GLE", "A-Class", "CLA"},
		"Audi":      {"A3", "A4", "A6", "Q3", "Q5", "Q7", "TT"},
		"Chevrolet": {"Silverado", "Equinox", "Malibu", "Tahoe", "Suburban", "Camaro", "Corvette"},
		"Nissan":    {"Altima", "Sentra", "Rogue", "Pathfinder", "Frontier", "Titan", "370Z"},
	}

	colors = []string{
		"Red", "Blue", "Black", "White", "Silver", "Gray", "Green", "Yellow", "Orange", "Purple",
	}
)

// vehicleProperties is the mapping pushed before seeding a store directly.
var vehicleProperties = []struct {
	name, typ string
	opts      []recordx.PropertyOption
}{
	{"make", recordx.TypeString, []recordx.PropertyOption{recordx.IndexMode("not_analyzed")}},
	{"model", recordx.TypeString, nil},
	{"color", recordx.TypeString, []recordx.PropertyOption{recordx.IndexMode("not_analyzed")}},
	{"year", recordx.TypeInteger, nil},
	{"mileage", recordx.TypeLong, nil},
	{"price", recordx.TypeDouble, nil},
	{"available", recordx.TypeBoolean, nil},
	{"listed_at", recordx.TypeDate, nil},
}

func randomVehicle(now time.Time) map[string]any {
	makeKeys := make([]string, 0, len(makes))
	for v := range makes {
		makeKeys = append(makeKeys, v)
	}

	selectedMake := makeKeys[rand.IntN(len(makeKeys))]
	models := makes[selectedMake]

	return map[string]any{
		"make":      selectedMake,
		"model":     models[rand.IntN(len(models))],
		"year":      rand.IntN(10) + 2015, // 2015-2024
		"color":     colors[rand.IntN(len(colors))],
		"mileage":   rand.IntN(150_000),
		"price":     float64(5_000+rand.IntN(60_000)) + 0.99,
		"available": rand.IntN(4) != 0,
		"listed_at": now.Add(-time.Duration(rand.IntN(90*24)) * time.Hour).Format(time.RFC3339),
	}
}

// sink receives generated records.
type sink interface {
	put(ctx context.Context, record ddb.Record) error
}

// tableSink writes items to a DynamoDB table whose stream feeds index-sync.
type tableSink struct {
	client    *dynamodb.Client
	tableName string
}

func (s *tableSink) put(ctx context.Context, record ddb.Record) error {
	item, err := ddb.MarshalRecord(record)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return errors.Wrap(err, "failed to put item in DynamoDB")
	}
	return nil
}

// storeSink saves records straight into the configured document store.
type storeSink struct {
	model *recordx.Model
}

func newStoreSink(ctx context.Context, cfg config.Config, logger *slog.Logger, target ddb.Record) (*storeSink, error) {
	pool, err := backend.NewPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []recordx.ModelOption{recordx.WithIndexName(target.Index())}
	if typ := target.Type(); typ != "" {
		opts = append(opts, recordx.WithTypeName(typ))
	}
	m := recordx.NewModel("Vehicle", pool, opts...)
	m.Validates(recordx.PresenceOf("make", "model", "year"))

	err = m.DefineMapping(ctx, func(mapping *recordx.Mapping) {
		for _, p := range vehicleProperties {
			mapping.Property(p.name, append([]recordx.PropertyOption{recordx.StorageType(p.typ)}, p.opts...)...)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to define vehicle mapping")
	}
	return &storeSink{model: m}, nil
}

func (s *storeSink) put(ctx context.Context, record ddb.Record) error {
	attrs := map[string]any{recordx.MetaID: record.ID}
	for k, v := range record.Object {
		attrs[k] = v
	}

	r, err := s.model.New(attrs)
	if err != nil {
		return err
	}
	return r.SaveStrict(ctx)
}

func runAction(c *cli.Context) error {
	ctx := c.Context
	target := ddb.Record{Target: c.String("target")}
	tableName := c.String("table-name")
	count := c.Int("count")

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger := backend.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	if target.Index() == "" {
		return errors.Newf("target must be index or index/type, got %q", target.Target)
	}

	slog.InfoContext(ctx, "Starting vehicle generator",
		"environment", c.String("env"),
		"table", tableName,
		"target", target.Target,
		"count", count,
	)

	var out sink
	if tableName != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to load AWS config")
		}
		out = &tableSink{client: dynamodb.NewFromConfig(awsCfg), tableName: tableName}
	} else {
		s, err := newStoreSink(ctx, cfg, logger, target)
		if err != nil {
			return err
		}
		defer s.model.Pool().Close(ctx)
		out = s
	}

	now := time.Now().UTC()
	for i := 0; i < count; i++ {
		record := ddb.Record{
			ID:     ksuid.New().String(),
			Target: target.Target,
			Object: randomVehicle(now),
		}
		if err := out.put(ctx, record); err != nil {
			return errors.Wrapf(err, "failed to insert vehicle %d", i+1)
		}
		slog.InfoContext(ctx, "Successfully inserted vehicle",
			"id", record.ID,
			"make", record.Object["make"],
			"model", record.Object["model"],
			"year", record.Object["year"],
		)
	}

	slog.InfoContext(ctx, "Successfully generated and inserted all vehicles", "count", count)
	return nil
}

func main() {
	app := &cli.App{
		Name:  "generator",
		Usage: "Generate random vehicle records into a DynamoDB table or directly into a document store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Environment name",
				EnvVars: []string{"ENVIRONMENT"},
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file, used when no table is given",
				EnvVars: []string{"RECORDX_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "table-name",
				Aliases: []string{"t"},
				Usage:   "DynamoDB table name; when empty records are saved to the configured store",
				EnvVars: []string{"TABLE_NAME"},
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Destination as index or index/type",
				Value: defaultTarget,
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"c"},
				Usage:   "Number of vehicles to generate",
				Value:   1,
			},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}
