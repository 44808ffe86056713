package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/internal/backend"
	"github.com/letmevibethatforyou/recordx/internal/config"
	"github.com/letmevibethatforyou/recordx/internal/metrics"
	"github.com/letmevibethatforyou/recordx/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

const (
	defaultLimit   = 10
	defaultTimeout = 5 * time.Second
	facetSize      = 10
)

func main() {
	app := &cli.App{
		Name:  "recordctl",
		Usage: "Manage and query records in a document store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file; defaults to an in-memory store",
				EnvVars: []string{"RECORDX_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Model name; index and type names derive from it",
				Value:   "Document",
			},
			&cli.StringFlag{
				Name:    "index",
				Aliases: []string{"i"},
				Usage:   "Index name override",
				EnvVars: []string{"RECORDX_INDEX"},
			},
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Type name override",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout for the whole command",
				Value: defaultTimeout,
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Log store metrics when the command finishes",
			},
		},
		Before: setup,
		After:  teardown,
		Commands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "Search records",
				ArgsUsage: "[query]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "query",
						Aliases: []string{"q"},
						Usage:   "Query string to search for; positional arg is a fallback",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Usage:   "Records per page",
						Value:   defaultLimit,
					},
					&cli.IntFlag{
						Name:    "page",
						Aliases: []string{"p"},
						Usage:   "Page number, starting at 1",
						Value:   1,
					},
					&cli.StringSliceFlag{
						Name:  "filter",
						Usage: "Filter in field=value format; repeatable",
					},
					&cli.StringFlag{
						Name:  "sort",
						Usage: "Sort field, with an optional :desc suffix",
					},
					&cli.StringSliceFlag{
						Name:  "facet",
						Usage: "Field to compute term counts for; repeatable",
					},
				},
				Action: searchAction,
			},
			{
				Name:      "find",
				Usage:     "Fetch a record by id",
				ArgsUsage: "<id>",
				Action:    findAction,
			},
			{
				Name:   "count",
				Usage:  "Count records",
				Action: countAction,
			},
			{
				Name:      "create",
				Usage:     "Create or replace a record",
				ArgsUsage: "[json]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "id",
						Usage: "Record id; a new one is generated when empty",
					},
					&cli.StringSliceFlag{
						Name:    "attr",
						Aliases: []string{"a"},
						Usage:   "Attribute in name=value format; values are decoded as JSON when possible",
					},
				},
				Action: createAction,
			},
			{
				Name:      "destroy",
				Usage:     "Delete a record by id",
				ArgsUsage: "<id>",
				Action:    destroyAction,
			},
			{
				Name:  "mapping",
				Usage: "Create the index and push the type mapping",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "property",
						Usage: "Property in name:type format, e.g. views:integer; repeatable",
					},
				},
				Action: mappingAction,
			},
			{
				Name:   "delete-index",
				Usage:  "Delete the index and every record in it",
				Action: deleteIndexAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

type appState struct {
	pool     *recordx.ConnectionPool
	registry *prometheus.Registry
	cancel   context.CancelFunc
}

type stateKey struct{}

func state(c *cli.Context) *appState {
	return c.Context.Value(stateKey{}).(*appState)
}

func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	logger := backend.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	timeout := c.Duration("timeout")
	if timeout <= 0 {
		slog.Warn("timeout must be positive; using default", "timeout", timeout, "default", defaultTimeout)
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	c.Context = ctx

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		cancel()
		return errors.Wrap(err, "failed to register metrics")
	}

	pool, err := backend.NewPool(ctx, cfg, logger)
	if err != nil {
		cancel()
		return err
	}

	st := &appState{pool: pool, registry: registry, cancel: cancel}
	c.Context = context.WithValue(ctx, stateKey{}, st)
	return nil
}

func teardown(c *cli.Context) error {
	st, ok := c.Context.Value(stateKey{}).(*appState)
	if !ok {
		return nil
	}
	defer st.cancel()

	st.pool.Close(context.Background())
	if c.Bool("metrics") {
		logMetrics(c.Context, st.registry)
	}
	return nil
}

func logMetrics(ctx context.Context, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		slog.WarnContext(ctx, "failed to gather metrics", "error", err)
		return
	}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			attrs := []any{"metric", family.GetName()}
			for _, label := range m.GetLabel() {
				attrs = append(attrs, label.GetName(), label.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				attrs = append(attrs, "value", m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				attrs = append(attrs, "value", m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				attrs = append(attrs,
					"count", m.GetHistogram().GetSampleCount(),
					"sum", m.GetHistogram().GetSampleSum())
			}
			slog.InfoContext(ctx, "metric", attrs...)
		}
	}
}

func model(c *cli.Context) *recordx.Model {
	var opts []recordx.ModelOption
	if index := strings.TrimSpace(c.String("index")); index != "" {
		opts = append(opts, recordx.WithIndexName(index))
	}
	if typ := strings.TrimSpace(c.String("type")); typ != "" {
		opts = append(opts, recordx.WithTypeName(typ))
	}
	return recordx.NewModel(c.String("model"), state(c).pool, opts...)
}

func searchAction(c *cli.Context) error {
	ctx := c.Context

	text := strings.TrimSpace(c.String("query"))
	if text == "" && c.NArg() > 0 {
		text = strings.TrimSpace(c.Args().First())
	}

	limit := c.Int("limit")
	if limit <= 0 {
		slog.WarnContext(ctx, "limit must be positive; falling back to default", "limit", limit, "default", defaultLimit)
		limit = defaultLimit
	}

	opts, err := buildSearchOptions(text, c.StringSlice("filter"), c.String("sort"), c.StringSlice("facet"))
	if err != nil {
		return errors.Wrap(err, "invalid search")
	}

	m := model(c)
	coll := m.Search(recordx.Criteria(query.Build(opts...))).
		SetPerPage(limit).
		SetPage(c.Int("page"))

	slog.InfoContext(ctx, "executing search",
		"index", m.Mapping().IndexName(),
		"type", m.Mapping().TypeName(),
		"query", text,
		"page", coll.Page(),
		"per_page", coll.PerPage(),
	)

	resp, err := coll.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "search failed")
	}
	return printResults(coll, resp)
}

func findAction(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	r, err := model(c).Find(c.Context, id)
	if err != nil {
		return errors.Wrapf(err, "find %s", id)
	}
	return printJSON(r)
}

func countAction(c *cli.Context) error {
	n, err := model(c).Count(c.Context)
	if err != nil {
		return errors.Wrap(err, "count failed")
	}
	return printJSON(map[string]int64{"count": n})
}

func createAction(c *cli.Context) error {
	attrs, err := parseAttributes(c.Args().First(), c.StringSlice("attr"))
	if err != nil {
		return errors.Wrap(err, "invalid attributes")
	}
	if id := strings.TrimSpace(c.String("id")); id != "" {
		attrs[recordx.MetaID] = id
	}

	r, err := model(c).New(attrs)
	if err != nil {
		return err
	}
	if err := r.SaveStrict(c.Context); err != nil {
		return errors.Wrap(err, "save failed")
	}
	slog.InfoContext(c.Context, "record saved", "id", r.ID())
	return printJSON(r)
}

func destroyAction(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	r, err := model(c).InitWith(map[string]any{recordx.MetaID: id})
	if err != nil {
		return err
	}
	if _, err := r.Destroy(c.Context); err != nil {
		return errors.Wrapf(err, "destroy %s", id)
	}
	slog.InfoContext(c.Context, "record destroyed", "id", id)
	return nil
}

func mappingAction(c *cli.Context) error {
	props, err := parseProperties(c.StringSlice("property"))
	if err != nil {
		return errors.Wrap(err, "invalid property")
	}

	m := model(c)
	err = m.DefineMapping(c.Context, func(mapping *recordx.Mapping) {
		for _, p := range props {
			mapping.Property(p[0], recordx.StorageType(p[1]))
		}
	})
	if err != nil {
		return errors.Wrap(err, "update mapping failed")
	}
	return printJSON(m.Mapping().Definition())
}

func deleteIndexAction(c *cli.Context) error {
	m := model(c)
	if err := m.DeleteIndex(c.Context); err != nil {
		return errors.Wrap(err, "delete index failed")
	}
	slog.InfoContext(c.Context, "index deleted", "index", m.Mapping().IndexName())
	return nil
}

func requireID(c *cli.Context) (string, error) {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return "", errors.New("an id argument is required")
	}
	return id, nil
}

func buildSearchOptions(text string, filters []string, sort string, facets []string) ([]query.Option, error) {
	q := query.MatchAll()
	if text != "" {
		q = query.QueryString(text)
	}
	opts := []query.Option{query.WithQuery(q)}

	if len(filters) > 0 {
		exprs := make([]query.Expression, 0, len(filters))
		for _, item := range filters {
			field, value, err := splitPair(item, "=")
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, query.Eq(field, value))
		}
		opts = append(opts, query.WithFilter(query.And(exprs...)))
	}

	if sort = strings.TrimSpace(sort); sort != "" {
		field, dir, _ := strings.Cut(sort, ":")
		opts = append(opts, query.WithSort(field, strings.EqualFold(dir, "desc")))
	}

	for _, field := range facets {
		field = strings.TrimSpace(field)
		if field == "" {
			return nil, errors.New("facet field cannot be empty")
		}
		opts = append(opts, query.WithTermsFacet(field, field, facetSize))
	}
	return opts, nil
}

func parseAttributes(raw string, pairs []string) (map[string]any, error) {
	attrs := map[string]any{}
	if raw = strings.TrimSpace(raw); raw != "" {
		if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
			return nil, errors.Wrap(err, "attributes must be a JSON object")
		}
	}
	for _, item := range pairs {
		name, value, err := splitPair(item, "=")
		if err != nil {
			return nil, err
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			decoded = value
		}
		attrs[name] = decoded
	}
	return attrs, nil
}

func parseProperties(raw []string) ([][2]string, error) {
	props := make([][2]string, 0, len(raw))
	for _, item := range raw {
		name, typ, err := splitPair(item, ":")
		if err != nil {
			return nil, err
		}
		props = append(props, [2]string{name, typ})
	}
	return props, nil
}

func splitPair(item, sep string) (string, string, error) {
	item = strings.TrimSpace(item)
	key, value, ok := strings.Cut(item, sep)
	if !ok {
		return "", "", errors.Newf("expected name%svalue, got %q", sep, item)
	}
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if key == "" || value == "" {
		return "", "", errors.Newf("name and value must be non-empty: %q", item)
	}
	return key, value, nil
}

func printResults(coll *recordx.Collection, resp *recordx.Response) error {
	payload := struct {
		Total    int64             `json:"total"`
		Took     int64             `json:"took_ms"`
		TimedOut bool              `json:"timed_out,omitempty"`
		Page     int               `json:"page"`
		PerPage  int               `json:"per_page"`
		Facets   map[string]any    `json:"facets,omitempty"`
		Items    []*recordx.Record `json:"items"`
	}{
		Total:    resp.Total,
		Took:     resp.Took,
		TimedOut: resp.TimedOut,
		Page:     coll.Page(),
		PerPage:  coll.PerPage(),
		Facets:   resp.Facets,
		Items:    resp.Records,
	}
	return printJSON(payload)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal output")
	}
	fmt.Println(string(data))
	return nil
}
