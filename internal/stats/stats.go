// Package stats — учёт циклов рассылки в bbolt. Каждая завершённая сессия
// цикла (один проход воркера по целям) пишется в бакет своего дня; суточная
// сводка агрегируется на чтении. Запись не должна валить рассылку: вызывающая
// сторона логирует ошибку и продолжает.
//
// Файл делят два процесса (движок пишет, админ-бот читает), а bbolt держит
// эксклюзивный flock, поэтому база не держится открытой: каждая операция
// открывает файл, работает и закрывает его, а конкурентное открытие
// пережидается таймаутом.
package stats

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"telegram-forwarder/internal/infra/storage"
)

// dayLayout — имя бакета дня.
const dayLayout = "2006-01-02"

var sessionsBucket = []byte("sessions")

// Session — итог одного цикла рассылки одного аккаунта.
type Session struct {
	AccountID  int64          `json:"account_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Targets    int            `json:"targets"`
	Sent       int            `json:"sent"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	ByType     map[string]int `json:"by_type,omitempty"` // тип сообщения → доставок
	Errors     map[string]int `json:"errors,omitempty"`  // вид ошибки → отказов
}

// Summary — суточная сводка по всем аккаунтам.
type Summary struct {
	Day      string
	Sessions int
	Sent     int
	Failed   int
	Skipped  int
	ByType   map[string]int
	Errors   map[string]int
}

// openTimeout — предел ожидания flock, пока файлом занят соседний процесс.
const openTimeout = 5 * time.Second

// Recorder пишет и агрегирует сессии поверх одного файла bbolt.
type Recorder struct {
	path string
}

// Open проверяет доступность файла статистики (создавая его при
// необходимости). Сам файл между операциями закрыт.
func Open(path string) (*Recorder, error) {
	if err := storage.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, errors.Wrap(err, "ensure stats dir")
	}
	r := &Recorder{path: path}
	db, err := r.open()
	if err != nil {
		return nil, err
	}
	if err := db.Close(); err != nil {
		return nil, errors.Wrap(err, "close stats db")
	}
	return r, nil
}

// open берёт файл на время одной операции.
func (r *Recorder) open() (*bbolt.DB, error) {
	db, err := bbolt.Open(r.path, storage.DefaultFilePerm, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "open stats db")
	}
	return db, nil
}

// Close ничего не освобождает: файл не держится открытым. Оставлен для
// симметрии с другими ресурсами процесса.
func (r *Recorder) Close() error {
	return nil
}

// Record сохраняет сессию в бакет дня её начала.
func (r *Recorder) Record(s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}

	db, err := r.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(sessionsBucket)
		if err != nil {
			return errors.Wrap(err, "create sessions bucket")
		}
		day, err := root.CreateBucketIfNotExists([]byte(s.StartedAt.Format(dayLayout)))
		if err != nil {
			return errors.Wrap(err, "create day bucket")
		}
		seq, err := day.NextSequence()
		if err != nil {
			return errors.Wrap(err, "next sequence")
		}
		key := fmt.Sprintf("%020d-%d", seq, s.AccountID)
		return day.Put([]byte(key), data)
	})
}

// Daily агрегирует все сессии указанного дня. День без записей даёт пустую
// сводку, не ошибку.
func (r *Recorder) Daily(day time.Time) (Summary, error) {
	sum := Summary{
		Day:    day.Format(dayLayout),
		ByType: map[string]int{},
		Errors: map[string]int{},
	}

	db, err := r.open()
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = db.Close() }()

	err = db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(sessionsBucket)
		if root == nil {
			return nil
		}
		bucket := root.Bucket([]byte(sum.Day))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var s Session
			if err := json.Unmarshal(v, &s); err != nil {
				return errors.Wrap(err, "unmarshal session")
			}
			sum.Sessions++
			sum.Sent += s.Sent
			sum.Failed += s.Failed
			sum.Skipped += s.Skipped
			for k, n := range s.ByType {
				sum.ByType[k] += n
			}
			for k, n := range s.Errors {
				sum.Errors[k] += n
			}
			return nil
		})
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// Sessions возвращает сессии дня в порядке записи.
func (r *Recorder) Sessions(day time.Time) ([]Session, error) {
	db, err := r.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var out []Session
	err = db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(sessionsBucket)
		if root == nil {
			return nil
		}
		bucket := root.Bucket([]byte(day.Format(dayLayout)))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var s Session
			if err := json.Unmarshal(v, &s); err != nil {
				return errors.Wrap(err, "unmarshal session")
			}
			out = append(out, s)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
