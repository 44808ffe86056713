package inmemory

import (
	"context"
	"encoding/json"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/segmentio/ksuid"
)

// Document represents a JSON document in the in-memory store.
type Document struct {
	// ID is the unique identifier for the document.
	ID string
	// Fields contains the document's data as key-value pairs.
	Fields map[string]any
	// Version starts at 1 and is incremented by every write.
	Version int64
	// Timestamp is the time of the last write.
	Timestamp time.Time
}

type docType struct {
	mapping   map[string]any
	documents []Document
	idIndex   map[string]int // maps document ID to index in documents slice
}

func newDocType() *docType {
	return &docType{idIndex: make(map[string]int)}
}

type index struct {
	types map[string]*docType
}

func (ix *index) docType(name string) *docType {
	t, ok := ix.types[name]
	if !ok {
		t = newDocType()
		ix.types[name] = t
	}
	return t
}

// Store is an in-process document store. It is safe for concurrent use and
// stands in for a remote store in tests and local tooling.
type Store struct {
	mu      sync.RWMutex
	indices map[string]*index
	now     func() time.Time

	dials  atomic.Int64
	closes atomic.Int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		indices: make(map[string]*index),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dial implements recordx.Dialer. Every call returns a new handle onto the
// same store; the url is ignored.
func (s *Store) Dial(ctx context.Context, url string) (recordx.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.dials.Add(1)
	return &conn{store: s}, nil
}

// Dials returns the number of handles created by Dial.
func (s *Store) Dials() int {
	return int(s.dials.Load())
}

// Closes returns the number of handles closed.
func (s *Store) Closes() int {
	return int(s.closes.Load())
}

// Index implements recordx.Client without going through a pool.
func (s *Store) Index(name string) recordx.Index {
	return &indexHandle{store: s, name: name}
}

// AddJSON stores a JSON document under index/typ/id, creating the index if
// needed. If a document with the same ID already exists, it is replaced.
func (s *Store) AddJSON(indexName, typ, id string, jsonData []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return errors.Wrap(err, "failed to unmarshal JSON")
	}
	_, err := s.put(indexName, typ, id, fields)
	return err
}

// Size returns the number of documents stored under index/typ.
func (s *Store) Size(indexName, typ string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ix, ok := s.indices[indexName]
	if !ok {
		return 0
	}
	t, ok := ix.types[typ]
	if !ok {
		return 0
	}
	return len(t.documents)
}

// Indices returns the names of all indices.
func (s *Store) Indices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	return names
}

// Clear removes every index.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices = make(map[string]*index)
}

func (s *Store) put(indexName, typ, id string, fields map[string]any) (recordx.Meta, error) {
	if isPattern(indexName) {
		return nil, errors.Wrapf(recordx.ErrInvalidCriteria, "cannot write to index pattern %q", indexName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ix, ok := s.indices[indexName]
	if !ok {
		ix = &index{types: make(map[string]*docType)}
		s.indices[indexName] = ix
	}
	t := ix.docType(typ)

	doc := Document{
		ID:        id,
		Fields:    maps.Clone(fields),
		Version:   1,
		Timestamp: s.now(),
	}
	if i, exists := t.idIndex[id]; exists {
		doc.Version = t.documents[i].Version + 1
		t.documents[i] = doc
	} else {
		t.idIndex[id] = len(t.documents)
		t.documents = append(t.documents, doc)
	}
	return meta(indexName, typ, doc), nil
}

func (s *Store) remove(indexName, typ, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ix, ok := s.indices[indexName]
	if !ok {
		return false
	}
	t, ok := ix.types[typ]
	if !ok {
		return false
	}
	i, exists := t.idIndex[id]
	if !exists {
		return false
	}

	t.documents = append(t.documents[:i], t.documents[i+1:]...)
	delete(t.idIndex, id)
	for j := i; j < len(t.documents); j++ {
		t.idIndex[t.documents[j].ID] = j
	}
	return true
}

func meta(indexName, typ string, doc Document) recordx.Meta {
	return recordx.Meta{
		recordx.MetaID:        doc.ID,
		recordx.MetaIndex:     indexName,
		recordx.MetaType:      typ,
		recordx.MetaVersion:   doc.Version,
		recordx.MetaTimestamp: doc.Timestamp,
	}
}

func isPattern(name string) bool {
	return strings.ContainsAny(name, "*?[{")
}

// matchIndices returns the index names matched by name, which may be a
// pattern. Callers hold at least the read lock.
func (s *Store) matchIndices(name string) ([]string, error) {
	if !isPattern(name) {
		if _, ok := s.indices[name]; ok {
			return []string{name}, nil
		}
		return nil, nil
	}
	if !doublestar.ValidatePattern(name) {
		return nil, errors.Wrapf(recordx.ErrInvalidCriteria, "invalid index pattern %q", name)
	}
	var out []string
	for candidate := range s.indices {
		ok, err := doublestar.Match(name, candidate)
		if err != nil {
			return nil, errors.Wrapf(recordx.ErrInvalidCriteria, "index pattern %q: %v", name, err)
		}
		if ok {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// conn is a pooled handle onto a Store.
type conn struct {
	store  *Store
	closed atomic.Bool
}

func (c *conn) Index(name string) recordx.Index {
	return c.store.Index(name)
}

// Close implements io.Closer so pools release the handle on shutdown.
func (c *conn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.store.closes.Add(1)
	}
	return nil
}

type indexHandle struct {
	store *Store
	name  string
}

func (h *indexHandle) Name() string {
	return h.name
}

func (h *indexHandle) Exists(ctx context.Context) (bool, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	names, err := h.store.matchIndices(h.name)
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func (h *indexHandle) Create(ctx context.Context, mappings map[string]map[string]any) error {
	if isPattern(h.name) {
		return errors.Wrapf(recordx.ErrInvalidCriteria, "cannot create index pattern %q", h.name)
	}

	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	if _, ok := h.store.indices[h.name]; ok {
		return errors.Newf("index %q already exists", h.name)
	}
	ix := &index{types: make(map[string]*docType)}
	for typ, mapping := range mappings {
		ix.docType(typ).mapping = mapping
	}
	h.store.indices[h.name] = ix
	return nil
}

func (h *indexHandle) Delete(ctx context.Context) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	names, err := h.store.matchIndices(h.name)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.Wrapf(recordx.ErrNotFound, "index %q", h.name)
	}
	for _, name := range names {
		delete(h.store.indices, name)
	}
	return nil
}

func (h *indexHandle) Type(name string) recordx.Type {
	return &typeHandle{store: h.store, index: h.name, name: name}
}

type typeHandle struct {
	store *Store
	index string
	name  string
}

func (h *typeHandle) Get(ctx context.Context, id string) (*recordx.Document, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	names, err := h.store.matchIndices(h.index)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		t, ok := h.store.indices[name].types[h.name]
		if !ok {
			continue
		}
		if i, ok := t.idIndex[id]; ok {
			doc := t.documents[i]
			return &recordx.Document{
				Source: maps.Clone(doc.Fields),
				Meta:   meta(name, h.name, doc),
			}, nil
		}
	}
	return nil, errors.Wrapf(recordx.ErrNotFound, "%s/%s/%s", h.index, h.name, id)
}

func (h *typeHandle) Put(ctx context.Context, id string, body map[string]any) (recordx.Meta, error) {
	if id == "" {
		return nil, errors.New("put requires an id")
	}
	return h.store.put(h.index, h.name, id, body)
}

func (h *typeHandle) Post(ctx context.Context, body map[string]any) (recordx.Meta, error) {
	return h.store.put(h.index, h.name, ksuid.New().String(), body)
}

func (h *typeHandle) Delete(ctx context.Context, id string) error {
	if !h.store.remove(h.index, h.name, id) {
		return errors.Wrapf(recordx.ErrNotFound, "%s/%s/%s", h.index, h.name, id)
	}
	return nil
}

func (h *typeHandle) PutMapping(ctx context.Context, mapping map[string]any) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	ix, ok := h.store.indices[h.index]
	if !ok {
		return errors.Wrapf(recordx.ErrNotFound, "index %q", h.index)
	}
	ix.docType(h.name).mapping = mapping
	return nil
}

// Mapping returns the mapping stored for index/typ.
func (s *Store) Mapping(indexName, typ string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ix, ok := s.indices[indexName]
	if !ok {
		return nil, false
	}
	t, ok := ix.types[typ]
	if !ok || t.mapping == nil {
		return nil, false
	}
	return t.mapping, true
}

func (h *typeHandle) Search(ctx context.Context, criteria recordx.Criteria) (*recordx.SearchResponse, error) {
	return h.store.search(ctx, h.index, h.name, criteria)
}
