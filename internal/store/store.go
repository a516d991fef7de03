// Документный слой хранилища: чтение и атомарная запись четырёх JSON-документов
// (учётные данные, цели, операторы, глобальная политика). Запись ведёт один
// писатель — админ-бот (супервизор пишет только узкие поля), чтение может идти
// параллельно; снисходительность к висячей запятой на чтении покрывает гонку
// с незавершённой записью.

package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/infra/storage"
	"telegram-forwarder/internal/infra/timeutil"

	"go.uber.org/zap"
)

// ErrAccountNotFound возвращается мутациями по несуществующему account_id.
// Вызывающие различают его и сбои самого документа через errors.Is.
var ErrAccountNotFound = errors.New("account not found")

// Paths — расположение документов хранилища на диске.
type Paths struct {
	Credentials  string
	Targets      string
	Operators    string
	GlobalPolicy string
}

// Store предоставляет типизированный доступ к документам. Потокобезопасен:
// mu сериализует циклы read-modify-write, чтобы параллельные правки из
// обработчиков бота не теряли данные друг друга.
type Store struct {
	paths Paths
	mu    sync.Mutex
}

// New создаёт Store поверх указанных путей. Файлы не трогаются до первого
// обращения; EnsureDefaults создаёт отсутствующие документы.
func New(paths Paths) *Store {
	return &Store{paths: paths}
}

// EnsureDefaults создаёт отсутствующие документы с содержимым по умолчанию.
// Вызывается на старте обоих процессов; существующие файлы не перезаписываются.
func (s *Store) EnsureDefaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type seed struct {
		path  string
		value any
	}
	seeds := []seed{
		{s.paths.Credentials, map[string]accountRecord{}},
		{s.paths.Targets, map[string][]Target{}},
		{s.paths.Operators, recordFromOperators(DefaultOperators())},
		{s.paths.GlobalPolicy, recordFromPolicy(DefaultGlobalPolicy())},
	}
	for _, sd := range seeds {
		if _, err := os.Stat(sd.path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", sd.path, err)
		}
		if err := storage.WriteJSONFile(sd.path, sd.value); err != nil {
			return err
		}
		logger.Info("created default document", zap.String("path", sd.path))
	}
	return nil
}

// LoadAccounts читает документ учётных данных. Записи с пустым api_id/api_hash
// пропускаются с предупреждением — одна битая запись не валит загрузку.
// Отсутствующий файл равносилен пустому документу.
func (s *Store) LoadAccounts() (map[string]Account, error) {
	var raw map[string]accountRecord
	if err := storage.ReadJSONFile(s.paths.Credentials, &raw); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Account{}, nil
		}
		return nil, err
	}

	accounts := make(map[string]Account, len(raw))
	for id, rec := range raw {
		acc := rec.toAccount(id)
		if acc.APIID == 0 || acc.APIHash == "" {
			logger.Warn("skipping malformed account record", zap.String("account", id))
			continue
		}
		accounts[id] = acc
	}
	return accounts, nil
}

// SaveAccounts перезаписывает документ учётных данных целиком.
func (s *Store) SaveAccounts(accounts map[string]Account) error {
	raw := make(map[string]accountRecord, len(accounts))
	for id, acc := range accounts {
		raw[id] = recordFromAccount(acc)
	}
	return storage.WriteJSONFile(s.paths.Credentials, raw)
}

// UpsertAccount добавляет или заменяет запись аккаунта, обновляя last_updated.
func (s *Store) UpsertAccount(acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.LoadAccounts()
	if err != nil {
		return err
	}
	acc.LastUpdated = time.Now()
	accounts[acc.ID] = acc
	return s.SaveAccounts(accounts)
}

// MutateAccount применяет fn к записи аккаунта под локом и сохраняет документ.
// Используется ботом для точечных правок (start, delay, mode, expiry).
func (s *Store) MutateAccount(id string, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.LoadAccounts()
	if err != nil {
		return err
	}
	acc, ok := accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	fn(&acc)
	acc.LastUpdated = time.Now()
	accounts[id] = acc
	return s.SaveAccounts(accounts)
}

// DeleteAccount удаляет аккаунт и его список целей. Путь к файлу сессии
// возвращается вызывающему — удаление файла остаётся за ним.
func (s *Store) DeleteAccount(id string) (sessionFile string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.LoadAccounts()
	if err != nil {
		return "", err
	}
	acc, ok := accounts[id]
	if !ok {
		return "", fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	delete(accounts, id)
	if err := s.SaveAccounts(accounts); err != nil {
		return "", err
	}

	targets, err := s.loadTargetsLocked()
	if err != nil {
		return "", err
	}
	if _, ok := targets[id]; ok {
		delete(targets, id)
		if err := storage.WriteJSONFile(s.paths.Targets, targets); err != nil {
			return "", err
		}
	}
	return acc.SessionFile, nil
}

// AccountIDs возвращает отсортированный список идентификаторов аккаунтов.
func (s *Store) AccountIDs() ([]string, error) {
	accounts, err := s.LoadAccounts()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadTargets читает документ целей. Отсутствующий файл — пустая карта.
func (s *Store) LoadTargets() (map[string][]Target, error) {
	return s.loadTargetsLocked()
}

func (s *Store) loadTargetsLocked() (map[string][]Target, error) {
	var targets map[string][]Target
	if err := storage.ReadJSONFile(s.paths.Targets, &targets); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string][]Target{}, nil
		}
		return nil, err
	}
	if targets == nil {
		targets = map[string][]Target{}
	}
	return targets, nil
}

// TargetsFor возвращает список целей аккаунта в персистентном порядке.
func (s *Store) TargetsFor(id string) ([]Target, error) {
	targets, err := s.loadTargetsLocked()
	if err != nil {
		return nil, err
	}
	return targets[id], nil
}

// SetTargets перезаписывает список целей аккаунта.
func (s *Store) SetTargets(id string, list []Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets, err := s.loadTargetsLocked()
	if err != nil {
		return err
	}
	targets[id] = list
	return storage.WriteJSONFile(s.paths.Targets, targets)
}

// AddTargets дописывает новые активные цели в конец списка аккаунта.
func (s *Store) AddTargets(id string, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets, err := s.loadTargetsLocked()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, u := range urls {
		targets[id] = append(targets[id], Target{URL: u, Active: true, AddedAt: now})
	}
	return storage.WriteJSONFile(s.paths.Targets, targets)
}

// DeleteTargetsByIndices удаляет цели аккаунта по номерам (нумерация с 1,
// как в списке, который бот показывает оператору). Индексы применяются в
// обратном порядке, чтобы более ранние позиции оставались валидными.
// Возвращает число фактически удалённых целей; индексы вне диапазона
// пропускаются молча.
func (s *Store) DeleteTargetsByIndices(id string, indices []int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets, err := s.loadTargetsLocked()
	if err != nil {
		return 0, err
	}
	list := targets[id]

	sorted := make([]int, len(indices))
	copy(sorted, indices)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	removed := 0
	prev := 0
	for i, idx := range sorted {
		if i > 0 && idx == prev {
			continue // дубликат индекса
		}
		prev = idx
		if idx < 1 || idx > len(list) {
			continue
		}
		list = append(list[:idx-1], list[idx:]...)
		removed++
	}

	targets[id] = list
	if err := storage.WriteJSONFile(s.paths.Targets, targets); err != nil {
		return 0, err
	}
	return removed, nil
}

// LoadOperators читает документ операторов; отсутствующий файл — дефолтный документ.
func (s *Store) LoadOperators() (Operators, error) {
	var rec operatorsRecord
	if err := storage.ReadJSONFile(s.paths.Operators, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultOperators(), nil
		}
		return Operators{}, err
	}
	ops := Operators{
		Primary:    rec.PrimaryAdmin,
		AdminLimit: rec.AdminLimit,
		Secondary:  rec.SecondaryAdmins,
	}
	if ops.Secondary == nil {
		ops.Secondary = []int64{}
	}
	if ops.AdminLimit < len(ops.Secondary) {
		// Повреждённый документ: лимит не может быть ниже фактического числа операторов.
		ops.AdminLimit = len(ops.Secondary)
	}
	return ops, nil
}

// SaveOperators записывает документ операторов.
func (s *Store) SaveOperators(ops Operators) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storage.WriteJSONFile(s.paths.Operators, recordFromOperators(ops))
}

// MutateOperators применяет fn под локом и сохраняет документ при успехе fn.
func (s *Store) MutateOperators(fn func(*Operators) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.LoadOperators()
	if err != nil {
		return err
	}
	if err := fn(&ops); err != nil {
		return err
	}
	return storage.WriteJSONFile(s.paths.Operators, recordFromOperators(ops))
}

// LoadPolicy читает глобальную политику; отсутствующий файл — политика по умолчанию.
func (s *Store) LoadPolicy() (GlobalPolicy, error) {
	var rec policyRecord
	if err := storage.ReadJSONFile(s.paths.GlobalPolicy, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultGlobalPolicy(), nil
		}
		return GlobalPolicy{}, err
	}
	policy := GlobalPolicy{
		AutoStart:        rec.AutoStart,
		SkipConfirmation: rec.SkipConfirmation,
		ConcurrentUsers:  rec.ConcurrentUsers,
		DefaultDelay:     time.Duration(rec.DefaultDelay) * time.Second,
		DefaultMode:      ParseForwardMode(rec.DefaultForwardMode),
	}
	if policy.DefaultDelay < timeutil.MinDelay {
		policy.DefaultDelay = timeutil.MinDelay
	}
	return policy, nil
}

// SavePolicy записывает документ глобальной политики.
func (s *Store) SavePolicy(policy GlobalPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storage.WriteJSONFile(s.paths.GlobalPolicy, recordFromPolicy(policy))
}

func recordFromOperators(ops Operators) operatorsRecord {
	sec := ops.Secondary
	if sec == nil {
		sec = []int64{}
	}
	return operatorsRecord{
		PrimaryAdmin:    ops.Primary,
		AdminLimit:      ops.AdminLimit,
		SecondaryAdmins: sec,
	}
}

func recordFromPolicy(policy GlobalPolicy) policyRecord {
	return policyRecord{
		AutoStart:          policy.AutoStart,
		SkipConfirmation:   policy.SkipConfirmation,
		ConcurrentUsers:    policy.ConcurrentUsers,
		DefaultDelay:       flexInt(policy.DefaultDelay / time.Second),
		DefaultForwardMode: policy.DefaultMode.Code(),
	}
}
