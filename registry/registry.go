// Package registry は学習済みモデルの正規の集合を保持し、永続化する。
//
// メモリ上のマップが唯一の読み取り元で、変更は Store を通して書き込まれる。
// ニューラルネットワークの重みは {modelsDir}/{id}_model/ に置かれ、削除時に
// メタデータと一緒に取り除かれる。
package registry

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"k8s.io/utils/clock"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
)

// ArtifactDirSuffix はニューラルネットワークの成果物ディレクトリの接尾辞
const ArtifactDirSuffix = "_model"

// Registry はモデル ID からモデルへのマップ
type Registry struct {
	mu     sync.RWMutex
	models map[string]*model.TrainedModel

	store     Store
	modelsDir string
	clock     clock.PassiveClock
	logger    log.Logger
}

// Option は Registry の設定を変更する
type Option func(*Registry)

// WithClock は ID 生成に使う時計を設定する
func WithClock(c clock.PassiveClock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithLogger はロガーを設定する
func WithLogger(l log.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New は Registry を作成する
//
// パラメータ:
//   - store: メタデータの保存先
//   - modelsDir: 成果物ディレクトリを置くルート
//
// 使用例:
//
//	store, _ := registry.NewFileStore("models", nil)
//	reg := registry.New(store, "models")
//	if err := reg.Init(); err != nil { ... }
func New(store Store, modelsDir string, opts ...Option) *Registry {
	r := &Registry{
		models:    make(map[string]*model.TrainedModel),
		store:     store,
		modelsDir: modelsDir,
		clock:     clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.GetLoggerWithName("registry")
	}
	return r
}

// Init は Store からすべてのモデルを読み込む
func (r *Registry) Init() error {
	return r.LoadAll()
}

// Shutdown は何もしない。書き込みは Register/Delete の時点で完了している。
func (r *Registry) Shutdown() error {
	return nil
}

// LoadAll は Store の内容でメモリ上のマップを置き換える
func (r *Registry) LoadAll() error {
	models, err := r.store.List()
	if err != nil {
		return err
	}

	loaded := make(map[string]*model.TrainedModel, len(models))
	for _, m := range models {
		r.resolveArtifact(m)
		loaded[m.ID] = m
	}

	r.mu.Lock()
	r.models = loaded
	r.mu.Unlock()

	r.logger.Info("Loaded models", log.SamplesKey, len(loaded))
	return nil
}

// NewModelID は登録用の新しいモデル ID を生成する
func (r *Registry) NewModelID() string {
	return model.NewID(r.clock.Now())
}

// ArtifactDir は id のモデルが所有する成果物ディレクトリを返す
func (r *Registry) ArtifactDir(id string) string {
	return filepath.Join(r.modelsDir, ArtifactKey(id))
}

// ArtifactKey はメタデータに保存する成果物の参照（modelsDir からの相対名）
func ArtifactKey(id string) string {
	return id + ArtifactDirSuffix
}

// resolveArtifact は重みの参照を registry が所有するディレクトリに置き換える。
// 保存されている値は信用しない。
func (r *Registry) resolveArtifact(m *model.TrainedModel) {
	if m.Kind == model.NeuralNetwork && m.Parameters.Neural != nil {
		m.Parameters.Neural.WeightsArtifactRef = r.ArtifactDir(m.ID)
	}
}

// Register はモデルを登録して永続化する
//
// 同じ ID がすでに存在する場合は ValidationError。永続化に失敗した場合は
// マップに追加しない。
func (r *Registry) Register(m *model.TrainedModel) error {
	if m == nil {
		return errors.NewValidationError("model", "model is nil", nil)
	}
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[m.ID]; exists {
		return errors.NewValidationError("id", "model id already registered", m.ID)
	}
	persisted := m.Clone()
	if p := persisted.Parameters.Neural; p != nil {
		p.WeightsArtifactRef = ArtifactKey(m.ID)
	}
	if err := r.store.Put(persisted); err != nil {
		return err
	}
	stored := m.Clone()
	r.resolveArtifact(stored)
	r.models[m.ID] = stored

	r.logger.Info("Registered model", log.ModelIDKey, m.ID, log.ModelKindKey, m.Kind.String(), log.ModelNameKey, m.Name)
	return nil
}

// Get は id のモデルのコピーを返す。存在しない場合は NotFoundError。
func (r *Registry) Get(id string) (*model.TrainedModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[id]
	if !ok {
		return nil, errors.NewNotFoundError("model", id)
	}
	return m.Clone(), nil
}

// Delete はモデルを削除する
//
// 成果物ディレクトリ、メタデータ、マップのエントリの順に取り除く。ファイルの
// 削除に失敗した場合はエントリを残すので、次の LoadAll と食い違わない。
// 未知の ID は (false, nil)。
func (r *Registry) Delete(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[id]
	if !ok {
		return false, nil
	}

	switch m.Kind {
	case model.NeuralNetwork:
		dir := r.ArtifactDir(id)
		if err := os.RemoveAll(dir); err != nil {
			return true, errors.NewArtifactIOError("remove", dir, err)
		}
	case model.Linear, model.Multivariate:
	default:
		return true, errors.NewValidationError("kind", "unsupported model kind", m.Kind)
	}

	if _, err := r.store.Delete(id); err != nil {
		return true, err
	}
	delete(r.models, id)

	r.logger.Info("Deleted model", log.ModelIDKey, id, log.ModelKindKey, m.Kind.String())
	return true, nil
}

// List はすべてのモデルの要約を CreatedAt、ID の順で返す
func (r *Registry) List() []model.ModelSummary {
	r.mu.RLock()
	out := make([]model.ModelSummary, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m.Summary())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len は登録済みモデルの数を返す
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
