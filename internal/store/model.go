// Package store — персистентная модель данных движка пересылки: аккаунты,
// цели, операторы и глобальная политика. Документы лежат на диске в JSON-виде
// и редактируются админ-ботом; супервизор читает их по событиям watcher'а.
// В этом файле — доменные типы и их отображение в формат документов.
package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"telegram-forwarder/internal/infra/timeutil"
)

// ForwardMode — режим пересылки сообщения в цель.
type ForwardMode int

const (
	// ModePreserveOriginal — обычный forward с атрибуцией и уведомлением.
	ModePreserveOriginal ForwardMode = iota + 1
	// ModeSilent — forward с атрибуцией, но без уведомления получателя.
	ModeSilent
	// ModeAsCopy — перепубликация содержимого без заголовка пересылки.
	ModeAsCopy
)

// ParseForwardMode разбирает код режима из документа ("1"|"2"|"3").
// Неизвестные значения трактуются как ModePreserveOriginal.
func ParseForwardMode(code string) ForwardMode {
	switch strings.TrimSpace(code) {
	case "2":
		return ModeSilent
	case "3":
		return ModeAsCopy
	default:
		return ModePreserveOriginal
	}
}

// Code возвращает код режима для документа.
func (m ForwardMode) Code() string {
	switch m {
	case ModeSilent:
		return "2"
	case ModeAsCopy:
		return "3"
	default:
		return "1"
	}
}

// String возвращает человекочитаемое имя режима (для логов и меню бота).
func (m ForwardMode) String() string {
	switch m {
	case ModeSilent:
		return "silent"
	case ModeAsCopy:
		return "copy"
	default:
		return "forward"
	}
}

// Account — аккаунт Telegram, от имени которого ведётся пересылка.
// ID аккаунта — десятичная запись api_id; это же ключ во всех документах.
type Account struct {
	ID          string
	APIID       int
	APIHash     string
	Phone       string
	SessionFile string
	Start       bool
	AutoStart   bool
	Delay       time.Duration
	Mode        ForwardMode
	ModeSet     bool
	Expiry      time.Time // нулевое время — бессрочно
	LastUpdated time.Time
}

// IsExpired сообщает, истёк ли срок аккаунта к моменту now.
func (a Account) IsExpired(now time.Time) bool {
	return timeutil.IsExpired(a.Expiry, now)
}

// Eligible — аккаунт включён оператором и не истёк; только такие аккаунты
// получают воркера.
func (a Account) Eligible(now time.Time) bool {
	return a.Start && !a.IsExpired(now)
}

// EffectiveMode возвращает режим с учётом глобальной политики: при
// mode_set=false действует default_forward_mode.
func (a Account) EffectiveMode(policy GlobalPolicy) ForwardMode {
	if a.ModeSet {
		return a.Mode
	}
	return policy.DefaultMode
}

// EffectiveDelay возвращает задержку с учётом глобальной политики и
// минимального порога.
func (a Account) EffectiveDelay(policy GlobalPolicy) time.Duration {
	d := a.Delay
	if !a.ModeSet && policy.DefaultDelay > 0 {
		d = policy.DefaultDelay
	}
	if d < timeutil.MinDelay {
		return timeutil.MinDelay
	}
	return d
}

// Target — одна цель пересылки, привязанная к аккаунту. Список целей
// упорядочен: порядок вставки служит базой индексов для удаления по номеру.
type Target struct {
	URL     string
	Active  bool
	AddedAt time.Time
}

// Operators — принципалы, которым разрешено управлять админ-ботом.
type Operators struct {
	Primary    int64
	AdminLimit int
	Secondary  []int64
}

// IsOperator сообщает, имеет ли пользователь доступ к боту.
func (o Operators) IsOperator(id int64) bool {
	if id == o.Primary {
		return true
	}
	for _, s := range o.Secondary {
		if s == id {
			return true
		}
	}
	return false
}

// IsPrimary сообщает, является ли пользователь главным оператором.
func (o Operators) IsPrimary(id int64) bool { return id == o.Primary }

// AddSecondary добавляет второстепенного оператора с проверкой инвариантов:
// лимит не превышен, главный оператор не дублируется, повторное добавление — ошибка.
func (o *Operators) AddSecondary(id int64) error {
	if id == o.Primary {
		return fmt.Errorf("user %d is already the primary operator", id)
	}
	for _, s := range o.Secondary {
		if s == id {
			return fmt.Errorf("user %d is already an operator", id)
		}
	}
	if len(o.Secondary) >= o.AdminLimit {
		return fmt.Errorf("operator limit %d reached", o.AdminLimit)
	}
	o.Secondary = append(o.Secondary, id)
	return nil
}

// RemoveSecondary убирает второстепенного оператора; отсутствие — ошибка.
func (o *Operators) RemoveSecondary(id int64) error {
	for i, s := range o.Secondary {
		if s == id {
			o.Secondary = append(o.Secondary[:i], o.Secondary[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("user %d is not an operator", id)
}

// SetAdminLimit меняет лимит второстепенных операторов. Лимит не может быть
// отрицательным или меньше текущего числа операторов.
func (o *Operators) SetAdminLimit(limit int) error {
	if limit < 0 {
		return fmt.Errorf("admin limit must be non-negative, got %d", limit)
	}
	if limit < len(o.Secondary) {
		return fmt.Errorf("admin limit %d is below current operator count %d", limit, len(o.Secondary))
	}
	o.AdminLimit = limit
	return nil
}

// GlobalPolicy — процессные значения по умолчанию для пересылки.
// ConcurrentUsers сохраняется для совместимости формата и поведения не меняет:
// воркеры всегда независимы.
type GlobalPolicy struct {
	AutoStart        bool
	SkipConfirmation bool
	ConcurrentUsers  bool
	DefaultDelay     time.Duration
	DefaultMode      ForwardMode
}

// DefaultGlobalPolicy — политика, записываемая при первом запуске.
func DefaultGlobalPolicy() GlobalPolicy {
	return GlobalPolicy{
		AutoStart:        true,
		SkipConfirmation: false,
		ConcurrentUsers:  true,
		DefaultDelay:     time.Minute,
		DefaultMode:      ModePreserveOriginal,
	}
}

// DefaultOperators — документ операторов при первом запуске: владелец ещё не
// назначен, лимит второстепенных — 5.
func DefaultOperators() Operators {
	return Operators{Primary: 0, AdminLimit: 5, Secondary: []int64{}}
}

// lastUpdatedLayout — формат поля last_updated в документе учётных данных.
const lastUpdatedLayout = time.RFC3339

// flexInt принимает числовое поле, записанное либо числом, либо строкой.
// Документы исторически писались разными инструментами, оба варианта встречаются.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", string(data), err)
	}
	*f = flexInt(n)
	return nil
}

// accountRecord — формат записи аккаунта в документе учётных данных.
type accountRecord struct {
	APIID       flexInt `json:"api_id"`
	APIHash     string  `json:"api_hash"`
	Phone       string  `json:"phone"`
	SessionFile string  `json:"session_file,omitempty"`
	LastUpdated string  `json:"last_updated"`
	Delay       string  `json:"delay"`
	ForwardMode string  `json:"forward_mode"`
	ModeSet     bool    `json:"mode_set"`
	Start       bool    `json:"start"`
	AutoStart   bool    `json:"auto_start_forwarding"`
	ExpiryDate  *string `json:"expiry_date"`
}

// toAccount превращает запись документа в доменный аккаунт.
// Ошибки отдельных полей не фатальны: делая документ снисходительным к ручным
// правкам, некорректные значения заменяем дефолтами.
func (r accountRecord) toAccount(id string) Account {
	acc := Account{
		ID:          id,
		APIID:       int(r.APIID),
		APIHash:     strings.TrimSpace(r.APIHash),
		Phone:       strings.TrimSpace(r.Phone),
		SessionFile: strings.TrimSpace(r.SessionFile),
		Start:       r.Start,
		AutoStart:   r.AutoStart,
		Delay:       timeutil.ParseDelay(r.Delay, time.Minute),
		Mode:        ParseForwardMode(r.ForwardMode),
		ModeSet:     r.ModeSet,
	}
	if r.ExpiryDate != nil {
		if exp, err := timeutil.ParseExpiry(*r.ExpiryDate); err == nil {
			acc.Expiry = exp
		}
	}
	if ts, err := time.Parse(lastUpdatedLayout, strings.TrimSpace(r.LastUpdated)); err == nil {
		acc.LastUpdated = ts
	}
	return acc
}

// recordFromAccount — обратное преобразование для записи на диск.
func recordFromAccount(a Account) accountRecord {
	rec := accountRecord{
		APIID:       flexInt(a.APIID),
		APIHash:     a.APIHash,
		Phone:       a.Phone,
		SessionFile: a.SessionFile,
		LastUpdated: a.LastUpdated.Format(lastUpdatedLayout),
		Delay:       timeutil.FormatDelay(a.Delay),
		ForwardMode: a.Mode.Code(),
		ModeSet:     a.ModeSet,
		Start:       a.Start,
		AutoStart:   a.AutoStart,
	}
	if !a.Expiry.IsZero() {
		s := timeutil.FormatExpiry(a.Expiry)
		rec.ExpiryDate = &s
	}
	return rec
}

// targetRecord — формат записи цели. Исторически допускается и голая строка
// URL (означает активную цель), и объект; на чтении принимаются оба ключа
// даты — "added_at" и "added_date".
type targetRecord struct {
	URL       string `json:"url"`
	Active    bool   `json:"active"`
	AddedAt   string `json:"added_at,omitempty"`
	AddedDate string `json:"added_date,omitempty"`
}

func (t *Target) UnmarshalJSON(data []byte) error {
	// Упрощённая запись: просто строка URL.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Target{URL: strings.TrimSpace(s), Active: true}
		return nil
	}

	var rec targetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*t = Target{URL: strings.TrimSpace(rec.URL), Active: rec.Active}
	raw := rec.AddedAt
	if raw == "" {
		raw = rec.AddedDate
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(raw)); err == nil {
		t.AddedAt = ts
	}
	return nil
}

func (t Target) MarshalJSON() ([]byte, error) {
	rec := targetRecord{URL: t.URL, Active: t.Active}
	if !t.AddedAt.IsZero() {
		rec.AddedAt = t.AddedAt.Format(time.RFC3339)
	}
	return json.Marshal(rec)
}

// operatorsRecord — формат документа операторов.
type operatorsRecord struct {
	PrimaryAdmin    int64   `json:"primary_admin"`
	AdminLimit      int     `json:"admin_limit"`
	SecondaryAdmins []int64 `json:"secondary_admins"`
}

// policyRecord — формат документа глобальной политики.
type policyRecord struct {
	AutoStart          bool    `json:"auto_start_forwarding"`
	SkipConfirmation   bool    `json:"skip_confirmation"`
	ConcurrentUsers    bool    `json:"concurrent_users"`
	DefaultDelay       flexInt `json:"default_delay"`
	DefaultForwardMode string  `json:"default_forward_mode"`
}
