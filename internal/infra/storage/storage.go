// Пакет storage — дисковая дисциплина хранилища: документы и файлы сессий
// пишутся только атомарно, чтобы watcher и параллельный читатель никогда не
// увидели наполовину записанный файл.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"telegram-forwarder/internal/infra/logger"
)

// Права на файлы хранилища и их каталоги: документы и сессии содержат
// секреты, доступ только владельцу процесса.
const (
	DefaultFilePerm = 0o600
	dirPerm         = 0o700
)

// EnsureDir создаёт каталог dir вместе с родителями. Пустой путь и "."
// означают текущий каталог и не требуют действий.
func EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile записывает data в path через временный файл в том же
// каталоге: write → fsync → chmod → rename. Читатель видит либо прежнее
// содержимое целиком, либо новое целиком; rename атомарен в пределах одного
// тома, поэтому temp создаётся рядом с целью.
func AtomicWriteFile(path string, data []byte) error {
	target := filepath.Clean(path)
	dir := filepath.Dir(target)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := writeAndSync(tmp, data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("replace %s: %w", target, err)
	}
	syncDir(dir)
	return nil
}

// writeAndSync доводит данные до диска и выставляет права будущего файла.
func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Chmod(DefaultFilePerm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	return nil
}

// syncDir фиксирует запись имени файла в каталоге. Best-effort: часть ОС и ФС
// не поддерживает fsync каталога, тогда остаёмся на гарантиях rename.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	if err := d.Sync(); err != nil {
		logger.Warnf("storage: dir sync %s: %v", dir, err)
	}
	_ = d.Close()
}
