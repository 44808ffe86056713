package redis

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/query"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"
)

func TestPing(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(errors.New("connection refused")))

	s := NewClientForTest(c)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, recordx.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestGet(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("JSON.GET", "posts:post:p1")).
		Return(mock.Result(mock.RedisString(`{"_id":"p1","_type":"post","subject":"hello","views":3}`)))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("JSON.GET", "posts:post:missing")).
		Return(mock.Result(mock.RedisNil()))

	posts := NewClientForTest(c).Index("posts").Type("post")

	doc, err := posts.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Source["subject"] != "hello" {
		t.Errorf("expected subject hello, got %v", doc.Source["subject"])
	}
	if _, ok := doc.Source["_type"]; ok {
		t.Error("expected _type to be moved out of the source")
	}
	if doc.Meta[recordx.MetaID] != "p1" || doc.Meta[recordx.MetaIndex] != "posts" {
		t.Errorf("unexpected meta: %v", doc.Meta)
	}

	if _, err := posts.Get(context.Background(), "missing"); !errors.Is(err, recordx.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPut(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var stored map[string]any
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			if len(cmd) != 4 || cmd[0] != "JSON.SET" || cmd[1] != "posts:post:p1" || cmd[2] != "$" {
				return false
			}
			return json.Unmarshal([]byte(cmd[3]), &stored) == nil
		})).
		Return(mock.Result(mock.RedisString("OK")))

	posts := NewClientForTest(c).Index("posts").Type("post")
	meta, err := posts.Put(context.Background(), "p1", map[string]any{"subject": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta[recordx.MetaID] != "p1" || meta[recordx.MetaType] != "post" {
		t.Errorf("unexpected meta: %v", meta)
	}
	if stored["_type"] != "post" || stored["subject"] != "hello" {
		t.Errorf("unexpected stored document: %v", stored)
	}

	if _, err := posts.Put(context.Background(), "", nil); err == nil {
		t.Error("expected an error for an empty id")
	}
}

func TestPost(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var key string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			key = cmd[1]
			return cmd[0] == "JSON.SET"
		})).
		Return(mock.Result(mock.RedisString("OK")))

	meta, err := NewClientForTest(c).Index("posts").Type("post").Post(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, _ := meta[recordx.MetaID].(string)
	if len(id) != 27 {
		t.Errorf("expected a KSUID, got %q", id)
	}
	if key != "posts:post:"+id {
		t.Errorf("expected key posts:post:%s, got %s", id, key)
	}
}

func TestDelete(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	gomock.InOrder(
		c.EXPECT().
			Do(gomock.Any(), mock.Match("DEL", "posts:post:p1")).
			Return(mock.Result(mock.RedisInt64(1))),
		c.EXPECT().
			Do(gomock.Any(), mock.Match("DEL", "posts:post:p1")).
			Return(mock.Result(mock.RedisInt64(0))),
	)

	posts := NewClientForTest(c).Index("posts").Type("post")
	if err := posts.Delete(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := posts.Delete(context.Background(), "p1"); !errors.Is(err, recordx.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIndexExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	gomock.InOrder(
		c.EXPECT().
			Do(gomock.Any(), mock.Match("FT.INFO", "posts")).
			Return(mock.Result(mock.RedisArray(mock.RedisString("index_name"), mock.RedisString("posts")))),
		c.EXPECT().
			Do(gomock.Any(), mock.Match("FT.INFO", "posts")).
			Return(mock.Result(mock.RedisError("Unknown Index name"))),
	)

	index := NewClientForTest(c).Index("posts")
	if ok, err := index.Exists(context.Background()); err != nil || !ok {
		t.Fatalf("expected index to exist, got %v, %v", ok, err)
	}
	if ok, err := index.Exists(context.Background()); err != nil || ok {
		t.Fatalf("expected index to be missing, got %v, %v", ok, err)
	}
}

func TestCreateIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var got []string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			got = cmd
			return cmd[0] == "FT.CREATE"
		})).
		Return(mock.Result(mock.RedisString("OK")))

	err := NewClientForTest(c).Index("posts").Create(context.Background(), map[string]map[string]any{
		"post": {
			"properties": map[string]any{
				"subject":    map[string]any{"type": "string", "index": "not_analyzed"},
				"body":       map[string]any{"type": "string"},
				"views":      map[string]any{"type": "integer"},
				"secret":     map[string]any{"type": "string", "index": "no"},
				"publish_at": map[string]any{"type": "date"},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := strings.Join([]string{
		"FT.CREATE posts ON JSON PREFIX 1 posts: SCHEMA",
		"$._type AS _type TAG",
		"$.body AS body TEXT SORTABLE",
		"$.publish_at AS publish_at TAG SORTABLE",
		"$.subject AS subject TAG SORTABLE",
		"$.views AS views NUMERIC SORTABLE",
	}, " ")
	if strings.Join(got, " ") != want {
		t.Errorf("unexpected command:\n got: %s\nwant: %s", strings.Join(got, " "), want)
	}
}

func TestDeleteIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.DROPINDEX", "posts", "DD")).
		Return(mock.Result(mock.RedisError("Unknown Index name")))

	if err := NewClientForTest(c).Index("posts").Delete(context.Background()); !errors.Is(err, recordx.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutMapping(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	gomock.InOrder(
		c.EXPECT().
			Do(gomock.Any(), mock.Match("FT.ALTER", "posts", "SCHEMA", "ADD", "$.subject", "AS", "subject", "TAG", "SORTABLE")).
			Return(mock.Result(mock.RedisError("Duplicate field in schema - subject"))),
		c.EXPECT().
			Do(gomock.Any(), mock.Match("FT.ALTER", "posts", "SCHEMA", "ADD", "$.views", "AS", "views", "NUMERIC", "SORTABLE")).
			Return(mock.Result(mock.RedisString("OK"))),
	)

	err := NewClientForTest(c).Index("posts").Type("post").PutMapping(context.Background(), map[string]any{
		"properties": map[string]any{
			"subject": map[string]any{"type": "string", "index": "not_analyzed"},
			"views":   map[string]any{"type": "long"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIndexPatterns(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	posts := NewClientForTest(c).Index("posts_*").Type("post")
	if _, err := posts.Search(context.Background(), query.Build()); !errors.Is(err, recordx.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
	if _, err := posts.Get(context.Background(), "p1"); !errors.Is(err, recordx.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
}
