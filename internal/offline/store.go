package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xelth-com/tapcount/internal/models"
)

const (
	queueFile   = "queue.json"
	catalogFile = "catalog.json"
	prefsFile   = "prefs.json"
)

// Store is the device-local durable cache: the offline queue, the catalog snapshot and the
// operator's preferences
type Store interface {
	LoadQueue() ([]OfflineCount, error)
	SaveQueue(entries []OfflineCount) error
	ClearQueue() error
	LoadCatalog() ([]models.Product, error)
	SaveCatalog(products []models.Product) error
	LoadPrefs() (Prefs, error)
	SavePrefs(p Prefs) error
}

// FileStore keeps each document as a JSON file in a directory.
// Writes go to a temp file and are renamed into place so a crash never leaves half a queue.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) LoadQueue() ([]OfflineCount, error) {
	var entries []OfflineCount
	if err := s.read(queueFile, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *FileStore) SaveQueue(entries []OfflineCount) error {
	if len(entries) == 0 {
		return s.ClearQueue()
	}
	return s.write(queueFile, entries)
}

func (s *FileStore) ClearQueue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, queueFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

func (s *FileStore) LoadCatalog() ([]models.Product, error) {
	var products []models.Product
	if err := s.read(catalogFile, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *FileStore) SaveCatalog(products []models.Product) error {
	return s.write(catalogFile, products)
}

func (s *FileStore) LoadPrefs() (Prefs, error) {
	var p Prefs
	if err := s.read(prefsFile, &p); err != nil {
		return Prefs{}, err
	}
	return p, nil
}

func (s *FileStore) SavePrefs(p Prefs) error {
	return s.write(prefsFile, p)
}

func (s *FileStore) read(name string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupt %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) write(name string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

// MemoryStore is a Store for tests and stations without a writable disk
type MemoryStore struct {
	mu      sync.Mutex
	queue   []OfflineCount
	catalog []models.Product
	prefs   Prefs
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) LoadQueue() ([]OfflineCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OfflineCount(nil), s.queue...), nil
}

func (s *MemoryStore) SaveQueue(entries []OfflineCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]OfflineCount(nil), entries...)
	return nil
}

func (s *MemoryStore) ClearQueue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	return nil
}

func (s *MemoryStore) LoadCatalog() ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Product(nil), s.catalog...), nil
}

func (s *MemoryStore) SaveCatalog(products []models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = append([]models.Product(nil), products...)
	return nil
}

func (s *MemoryStore) LoadPrefs() (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs, nil
}

func (s *MemoryStore) SavePrefs(p Prefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p
	return nil
}
