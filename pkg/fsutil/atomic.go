// Package fsutil はモデルのメタデータと成果物の書き込みに使うファイル操作を提供する。
package fsutil

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// WriteFileAtomic は同じディレクトリの一時ファイルに書き込み、fsync してから path に rename する
//
// クラッシュしても書きかけのファイルが path に残ることはない。
// write が失敗した場合、一時ファイルは削除される。
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.NewArtifactIOError("create", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return errors.NewArtifactIOError("write", path, err)
	}
	if err = bw.Flush(); err != nil {
		return errors.NewArtifactIOError("write", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return errors.NewArtifactIOError("sync", path, err)
	}
	if err = tmp.Close(); err != nil {
		return errors.NewArtifactIOError("close", path, err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return errors.NewArtifactIOError("chmod", path, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return errors.NewArtifactIOError("rename", path, err)
	}
	return nil
}

// Exists はパスが存在するかどうかを返す
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
