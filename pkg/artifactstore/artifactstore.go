// Package artifactstore はモデル成果物のバックアップ先を抽象化する。
//
// アップロードは学習結果に影響しない副作用で、失敗はログに残すだけでよい。
package artifactstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/fsutil"
)

// Store は成果物のアップロード先
type Store interface {
	// Upload は path（ファイルまたはディレクトリ）を modelID の下に保存し、参照を返す
	Upload(ctx context.Context, modelID, path string) (string, error)
}

// DirStore はローカルのバックアップディレクトリにコピーする Store
type DirStore struct {
	Root string
}

var _ Store = (*DirStore)(nil)

// NewDirStore は DirStore を作成する
func NewDirStore(root string) *DirStore {
	return &DirStore{Root: root}
}

// Upload implements Store.
//
// 戻り値の参照は {Root}/{modelID}/{base(path)}。
func (s *DirStore) Upload(ctx context.Context, modelID, path string) (string, error) {
	if modelID == "" || filepath.Base(modelID) != modelID {
		return "", errors.NewValidationError("modelID", "invalid model id", modelID)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.NewArtifactIOError("stat", path, err)
	}

	dest := filepath.Join(s.Root, modelID, filepath.Base(path))
	if !info.IsDir() {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", errors.NewArtifactIOError("mkdir", filepath.Dir(dest), err)
		}
		return dest, copyFile(path, dest, info.Mode().Perm())
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, fi.Mode().Perm())
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", errors.NewArtifactIOError("upload", path, err)
	}
	return dest, nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.NewArtifactIOError("open", src, err)
	}
	defer in.Close()

	return fsutil.WriteFileAtomic(dst, perm, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
