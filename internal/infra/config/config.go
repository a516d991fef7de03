// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (движок пересылки + админ-бот). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. предоставляет производные пути к документам хранилища,
//  4. фиксирует результат в потокобезопасном singleton.
//
// Бизнес-контекст: окружение задаёт «операционные» ручки процесса — каталоги
// базы данных, сессий и логов, токен админ-бота, лимиты скорости API, флаги
// тестового DC и headless-режима. Сами аккаунты, цели и операторы живут не в
// окружении, а в документах хранилища (internal/store).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env).
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	// Каталоги хранилища.
	DatabaseDir string // документы: credentials/targets/operators/global policy
	SessionsDir string // файлы MTProto-сессий, по одному на аккаунт
	LogsDir     string // файловые синки логгера и bbolt-файл статистики

	// Логирование.
	LogLevel string
	FileLogs bool // включает файловые синки в LogsDir

	// Telegram.
	BotToken    string // токен админ-бота; движку пересылки не нужен
	ThrottleRPS int    // лимит запросов к API на клиента
	TestDC      bool   // использовать тестовый DC Telegram
	Headless    bool   // TELEGRAM_HEADLESS: без интерактивных промптов авторизации
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock; singleton записывается
// один раз в Load.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения.
const (
	defaultDatabaseDir = "database"
	defaultSessionsDir = "sessions"
	defaultLogsDir     = "logs"
	defaultLogLevel    = "info"
	defaultFileLogs    = true
	defaultThrottleRPS = 1
)

// Имена документов внутри каталога базы данных.
const (
	credentialsFileName  = "credentials.json"
	targetsFileName      = "target_chats.json"
	operatorsFileName    = "admins.json"
	globalPolicyFileName = "global_settings.json"
	statsFileName        = "stats.bbolt"
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
// При первом вызове читает .env, формирует EnvConfig и фиксирует результат в
// singleton. Повторный вызов запрещён (возвращается ошибка), чтобы избежать
// гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := loadDotenv(envPath); err != nil {
		return nil, err
	}

	var warnings []string

	databaseDir := sanitizePath("DATABASE_DIR", os.Getenv("DATABASE_DIR"), defaultDatabaseDir, &warnings)
	sessionsDir := sanitizePath("SESSIONS_DIR", os.Getenv("SESSIONS_DIR"), defaultSessionsDir, &warnings)
	logsDir := sanitizePath("LOGS_DIR", os.Getenv("LOGS_DIR"), defaultLogsDir, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	fileLogs := parseBoolDefault("FILE_LOGS", defaultFileLogs, &warnings)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")
	headless := strings.EqualFold(strings.TrimSpace(os.Getenv("TELEGRAM_HEADLESS")), "true")

	env := EnvConfig{
		DatabaseDir: databaseDir,
		SessionsDir: sessionsDir,
		LogsDir:     logsDir,
		LogLevel:    logLevel,
		FileLogs:    fileLogs,
		BotToken:    botToken,
		ThrottleRPS: throttleRPS,
		TestDC:      testDC,
		Headless:    headless,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// loadDotenv читает .env, если файл существует. Отсутствие файла — не ошибка:
// все параметры имеют дефолты или могут прийти из окружения процесса.
func loadDotenv(envPath string) error {
	if _, err := os.Stat(envPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// CredentialsFile — путь к документу учётных данных аккаунтов.
func (e EnvConfig) CredentialsFile() string { return filepath.Join(e.DatabaseDir, credentialsFileName) }

// TargetsFile — путь к документу целей пересылки.
func (e EnvConfig) TargetsFile() string { return filepath.Join(e.DatabaseDir, targetsFileName) }

// OperatorsFile — путь к документу операторов админ-бота.
func (e EnvConfig) OperatorsFile() string { return filepath.Join(e.DatabaseDir, operatorsFileName) }

// GlobalPolicyFile — путь к документу глобальных настроек пересылки.
func (e EnvConfig) GlobalPolicyFile() string {
	return filepath.Join(e.DatabaseDir, globalPolicyFileName)
}

// StatsFile — путь к bbolt-файлу статистики циклов.
func (e EnvConfig) StatsFile() string { return filepath.Join(e.LogsDir, statsFileName) }

// SessionFile — канонический путь файла сессии для телефона: sessions/<phone>.session
// (плюс в начале номера отбрасывается, чтобы имя файла было переносимым).
func (e EnvConfig) SessionFile(phone string) string {
	name := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	return filepath.Join(e.SessionsDir, name+".session")
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero — простой валидатор чисел для parseIntDefault.
func greaterThanZero(v int) bool { return v > 0 }

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizePath возвращает валидный путь каталога. Если переменная не задана,
// подставляет fallback и пишет предупреждение.
func sanitizePath(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return filepath.Clean(v)
}
