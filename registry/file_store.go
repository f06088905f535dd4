package registry

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/fsutil"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
)

const metadataExt = ".json"

// FileStore はモデルごとに {dir}/{id}.json を 1 つ持つ Store
//
// 書き込みは一時ファイル + fsync + rename で行う。List は壊れたファイルを
// 警告ログを出して読み飛ばす。
type FileStore struct {
	dir    string
	logger log.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore はディレクトリを作成して FileStore を返す
func NewFileStore(dir string, logger log.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewArtifactIOError("mkdir", dir, err)
	}
	if logger == nil {
		logger = log.GetLoggerWithName("registry.filestore")
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir はメタデータのディレクトリを返す
func (s *FileStore) Dir() string {
	return s.dir
}

// Path は id のメタデータファイルのパスを返す
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+metadataExt)
}

// Get implements Store.
func (s *FileStore) Get(id string) (*model.TrainedModel, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	m, err := s.read(s.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.NewNotFoundError("model", id)
	}
	return m, err
}

// Put implements Store.
func (s *FileStore) Put(m *model.TrainedModel) error {
	if err := validateID(m.ID); err != nil {
		return err
	}
	data, err := m.ToJSON()
	if err != nil {
		return errors.Wrap(err, "encode model metadata")
	}
	return fsutil.WriteFileAtomic(s.Path(m.ID), 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Delete implements Store.
func (s *FileStore) Delete(id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	path := s.Path(id)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.NewArtifactIOError("remove", path, err)
	}
	return true, nil
}

// List implements Store.
func (s *FileStore) List() ([]*model.TrainedModel, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.NewArtifactIOError("readdir", s.dir, err)
	}

	var out []*model.TrainedModel
	for _, e := range entries {
		name := e.Name()
		// ディレクトリは成果物、"." で始まるものは書き込み途中の一時ファイル
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != metadataExt {
			continue
		}
		path := filepath.Join(s.dir, name)
		m, err := s.read(path)
		if err == nil {
			err = checkStoredID(m.ID, strings.TrimSuffix(name, metadataExt))
		}
		if err != nil {
			s.logger.Warn("Skipping unreadable model metadata", err, log.ArtifactPathKey, path)
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileStore) read(path string) (*model.TrainedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.NewArtifactIOError("read", path, err)
	}
	var m model.TrainedModel
	if err := m.FromJSON(data); err != nil {
		return nil, errors.NewArtifactIOError("decode", path, err)
	}
	return &m, nil
}

// checkStoredID はファイル名と中身の ID が一致することを確認する
func checkStoredID(id, fileID string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if id != fileID {
		return errors.NewValidationError("id", "model id does not match its metadata file", id)
	}
	return nil
}
