package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// Store はモデルのメタデータを保存するキーバリューストア
//
// Registry はこのインターフェースだけに依存する。実装は FileStore（本番）と
// MemoryStore（テスト）。
type Store interface {
	// Get は id のモデルを返す。存在しない場合は NotFoundError。
	Get(id string) (*model.TrainedModel, error)
	// Put はモデルを作成または置き換える
	Put(m *model.TrainedModel) error
	// Delete はモデルを削除し、存在したかどうかを返す
	Delete(id string) (bool, error)
	// List は読み込めるすべてのモデルを返す
	List() ([]*model.TrainedModel, error)
}

// validateID はファイル名として安全な ID かどうかを検証する
func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") || strings.HasPrefix(id, ".") {
		return errors.NewValidationError("id", "invalid model id", id)
	}
	return nil
}

// MemoryStore はプロセス内だけで保持する Store
type MemoryStore struct {
	mu     sync.RWMutex
	models map[string]*model.TrainedModel
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore は空の MemoryStore を作成する
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{models: make(map[string]*model.TrainedModel)}
}

// Get implements Store.
func (s *MemoryStore) Get(id string) (*model.TrainedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, errors.NewNotFoundError("model", id)
	}
	return m.Clone(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(m *model.TrainedModel) error {
	if err := validateID(m.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[id]; !ok {
		return false, nil
	}
	delete(s.models, id)
	return true, nil
}

// List implements Store.
func (s *MemoryStore) List() ([]*model.TrainedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.TrainedModel, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
