// Файловые синки логгера. Записи раскладываются по назначению:
//   - main.log    — вся активность на настроенном уровне;
//   - error.log   — только ошибки;
//   - debug.log   — всё, включая debug, независимо от уровня консоли;
//   - success.log — записи об успешных пересылках (logger.Success);
//   - stats.log   — итоги циклов и сводки (logger.Stat).
//
// Ротация — lumberjack. Синки — чисто диагностический слой: при выключенных
// синках поведение приложения не меняется.

package logger

import (
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Имена вложенных логгеров, по которым записи маршрутизируются в целевые синки.
const (
	successLoggerName = "success"
	statsLoggerName   = "stats"
)

// Параметры ротации файлов логов.
const (
	sinkMaxSizeMB  = 50
	sinkMaxBackups = 3
	sinkMaxAgeDays = 7
)

// namedCore пропускает в обёрнутое ядро только записи логгера с именем name.
// Используется для success/stats синков, которые наполняются по имени, а не по уровню.
type namedCore struct {
	zapcore.Core
	name string
}

func (c namedCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if entry.LoggerName != c.name {
		return ce
	}
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c namedCore) With(fields []zapcore.Field) zapcore.Core {
	return namedCore{Core: c.Core.With(fields), name: c.name}
}

// fileEncoderConfig — encoder для файлов: как консольный, но без цветов.
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := defaultEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// sinkWriter создаёт ротируемый writer для файла логов в каталоге dir.
func sinkWriter(dir, name string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    sinkMaxSizeMB,
		MaxBackups: sinkMaxBackups,
		MaxAge:     sinkMaxAgeDays,
		Compress:   true,
	})
}

// EnableFileSinks включает файловые синки в каталоге dir и пересобирает логгер.
// Вызывается один раз на старте процесса после Init. Потокобезопасно.
func EnableFileSinks(dir string) {
	encoder := zapcore.NewConsoleEncoder(fileEncoderConfig())

	mainCore := zapcore.NewCore(encoder, sinkWriter(dir, "main.log"), logLevel)
	errorCore := zapcore.NewCore(encoder, sinkWriter(dir, "error.log"), zapcore.ErrorLevel)
	debugCore := zapcore.NewCore(encoder, sinkWriter(dir, "debug.log"), zapcore.DebugLevel)
	successCore := namedCore{
		Core: zapcore.NewCore(encoder, sinkWriter(dir, "success.log"), zapcore.InfoLevel),
		name: successLoggerName,
	}
	statsCore := namedCore{
		Core: zapcore.NewCore(encoder, sinkWriter(dir, "stats.log"), zapcore.InfoLevel),
		name: statsLoggerName,
	}

	mu.Lock()
	defer mu.Unlock()
	fileCores = []zapcore.Core{mainCore, errorCore, debugCore, successCore, statsCore}
	rebuildLoggerLocked()
}

// DisableFileSinks отключает файловые синки (используется в тестах).
func DisableFileSinks() {
	mu.Lock()
	defer mu.Unlock()
	fileCores = nil
	rebuildLoggerLocked()
}
