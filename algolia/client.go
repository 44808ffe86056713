// Package algolia stores recordx documents in Algolia indices.
//
// Each recordx index maps to one Algolia index. Types share the index and
// are told apart by a "_type" attribute, which is declared as a filter-only
// facet when the index is created.
package algolia

import (
	"context"
	"os"
	"sync"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Secrets holds the Algolia application credentials.
type Secrets struct {
	// AppID is the Algolia application ID.
	AppID string `json:"app_id"`
	// WriteApiKey is the Algolia write API key.
	WriteApiKey string `json:"write_api_key"`
}

// FetchSecrets is a function type that retrieves Algolia credentials.
// It allows for different secret retrieval strategies (static, environment variables, etc.).
type FetchSecrets func() (Secrets, error)

// StaticSecrets returns a FetchSecrets function that provides static credentials.
// This is useful for testing or when credentials are known at compile time.
func StaticSecrets(appID, writeApiKey string) FetchSecrets {
	return func() (Secrets, error) {
		return Secrets{
			AppID:       appID,
			WriteApiKey: writeApiKey,
		}, nil
	}
}

// EnvSecrets reads ALGOLIA_APP_ID and ALGOLIA_API_KEY.
func EnvSecrets() FetchSecrets {
	return func() (Secrets, error) {
		appID := os.Getenv("ALGOLIA_APP_ID")
		if appID == "" {
			return Secrets{}, errors.New("ALGOLIA_APP_ID environment variable is not set")
		}

		apiKey := os.Getenv("ALGOLIA_API_KEY")
		if apiKey == "" {
			return Secrets{}, errors.New("ALGOLIA_API_KEY environment variable is not set")
		}

		return Secrets{
			AppID:       appID,
			WriteApiKey: apiKey,
		}, nil
	}
}

// indexAPI is the subset of *search.Index used by the store.
type indexAPI interface {
	Exists() (bool, error)
	Delete(opts ...interface{}) (search.DeleteTaskRes, error)
	SetSettings(settings search.Settings, opts ...interface{}) (search.UpdateTaskRes, error)
	GetObject(objectID string, object interface{}, opts ...interface{}) error
	SaveObject(object interface{}, opts ...interface{}) (search.SaveObjectRes, error)
	DeleteObject(objectID string, opts ...interface{}) (search.DeleteTaskRes, error)
	Search(query string, opts ...interface{}) (search.QueryRes, error)
}

// Client is a recordx.Client backed by Algolia. The underlying Algolia
// client is created on first use from the configured secrets.
type Client struct {
	initIndex func(name string) (indexAPI, error)
	tracer    trace.Tracer
}

// NewClient creates a client that fetches its credentials lazily.
func NewClient(fetchSecrets FetchSecrets) *Client {
	getClient := sync.OnceValues(func() (*search.Client, error) {
		secrets, err := fetchSecrets()
		if err != nil {
			return nil, errors.Wrap(err, "failed to fetch secrets")
		}

		if secrets.AppID == "" {
			return nil, errors.New("AppID is empty")
		}

		if secrets.WriteApiKey == "" {
			return nil, errors.New("WriteApiKey is empty")
		}

		return search.NewClient(secrets.AppID, secrets.WriteApiKey), nil
	})

	return newClient(func(name string) (indexAPI, error) {
		client, err := getClient()
		if err != nil {
			return nil, errors.WithSecondaryError(recordx.ErrBackendUnavailable, err)
		}
		return client.InitIndex(name), nil
	})
}

func newClient(initIndex func(name string) (indexAPI, error)) *Client {
	return &Client{
		initIndex: initIndex,
		tracer:    otel.Tracer("recordx-algolia"),
	}
}

// Dial implements recordx.Dialer. All pooled handles share c.
func (c *Client) Dial(ctx context.Context, url string) (recordx.Client, error) {
	return c, nil
}

// Index implements recordx.Client.
func (c *Client) Index(name string) recordx.Index {
	return &Index{client: c, name: name}
}

func (c *Client) startSpan(ctx context.Context, op, indexName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("algolia.index_name", indexName))
	return c.tracer.Start(ctx, "algolia."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error, msg string) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// index resolves a concrete Algolia index. Patterns are not supported.
func (c *Client) index(name string) (indexAPI, error) {
	if isPattern(name) {
		return nil, errors.Wrapf(recordx.ErrNotImplemented, "index pattern %q", name)
	}
	return c.initIndex(name)
}
