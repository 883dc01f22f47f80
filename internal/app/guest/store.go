package guest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultNamespace = "aadi_orders"
	SchemaVersion    = 2
)

// Store persists at most one guest order per restaurant.
type Store interface {
	Load(ctx context.Context, restaurantID string) (Order, error)
	Save(ctx context.Context, order Order) error
	Delete(ctx context.Context, restaurantID string) error
}

// document is the on-disk shape. Version 1 documents, written before
// versioning existed, have no schemaVersion and may lack nested defaults.
type document struct {
	SchemaVersion int              `json:"schemaVersion"`
	ByRestaurant  map[string]Order `json:"byRestaurant"`
}

func decodeDocument(data []byte) (document, error) {
	var doc document
	if len(data) == 0 {
		return document{SchemaVersion: SchemaVersion, ByRestaurant: map[string]Order{}}, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, err
	}
	if doc.ByRestaurant == nil {
		doc.ByRestaurant = map[string]Order{}
	}
	if doc.SchemaVersion < SchemaVersion {
		for id, o := range doc.ByRestaurant {
			doc.ByRestaurant[id] = migrateOrder(id, o)
		}
		doc.SchemaVersion = SchemaVersion
	}
	return doc, nil
}

// migrateOrder fills the fields version 1 documents could omit.
func migrateOrder(restaurantID string, o Order) Order {
	if o.RestaurantID == "" {
		o.RestaurantID = restaurantID
	}
	if o.State == "" {
		o.State = StateDraft
	}
	if o.ArrivalPlan.Mode == "" {
		o.ArrivalPlan = DefaultArrivalPlan()
	}
	if o.Cart.Items == nil {
		o.Cart.Items = []CartItem{}
	}
	if o.Events == nil {
		o.Events = []Event{}
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	return o
}

// FileStore keeps every order of a namespace in <Dir>/<Namespace>.json.
type FileStore struct {
	Dir       string
	Namespace string

	mu sync.Mutex
}

func NewFileStore(dir, namespace string) *FileStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &FileStore{Dir: dir, Namespace: namespace}
}

func (s *FileStore) path() string {
	return filepath.Join(s.Dir, s.Namespace+".json")
}

func (s *FileStore) read() (document, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return decodeDocument(nil)
	}
	if err != nil {
		return document{}, err
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return document{}, fmt.Errorf("read %s: %w", s.path(), err)
	}
	return doc, nil
}

func (s *FileStore) write(doc document) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	doc.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, s.Namespace+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path())
}

func (s *FileStore) Load(_ context.Context, restaurantID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return Order{}, err
	}
	o, ok := doc.ByRestaurant[restaurantID]
	if !ok {
		return Order{}, ErrNoOrder
	}
	return o, nil
}

func (s *FileStore) Save(_ context.Context, order Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.ByRestaurant[order.RestaurantID] = order
	return s.write(doc)
}

func (s *FileStore) Delete(_ context.Context, restaurantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc.ByRestaurant[restaurantID]; !ok {
		return nil
	}
	delete(doc.ByRestaurant, restaurantID)
	return s.write(doc)
}

// All lists every stored order, for status overviews.
func (s *FileStore) All(_ context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(doc.ByRestaurant))
	for _, o := range doc.ByRestaurant {
		out = append(out, o)
	}
	return out, nil
}
