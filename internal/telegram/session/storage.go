package session

// Пакет session — файловое хранилище MTProto-сессий поверх tdsession.Storage.
// Каждый аккаунт держит собственный файл; запись атомарна, чтобы обрыв
// процесса не оставил полуфабрикат, из-за которого аккаунт пришлось бы
// авторизовывать заново.

import (
	"context"
	"os"
	"sync"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"

	"telegram-forwarder/internal/infra/storage"
)

// FileStorage реализует tdsession.Storage поверх обычного файла. Потокобезопасен:
// Load/Store защищены мьютексом. Path — путь до файла сессии на диске.
type FileStorage struct {
	Path string
	mux  sync.Mutex
}

// Компиляторная проверка соответствия интерфейсу tdsession.Storage.
var _ tdsession.Storage = (*FileStorage)(nil)

// LoadSession читает файл сессии с диска. Отсутствие файла транслируется в
// tdsession.ErrNotFound — gotd начнёт новую авторизацию.
func (f *FileStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно сохраняет данные сессии на диск.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}

	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.Path, data); err != nil {
		return errors.Wrap(err, "atomic write session")
	}
	return nil
}
