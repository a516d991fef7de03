// Пакет timeutil содержит служебные функции для работы со временем:
// разбор человекочитаемых задержек ("1h 2m 45s"), форматирование их обратно
// для отображения оператору и работа с датами истечения аккаунтов.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MinDelay — нижняя граница задержки между пересылками.
const MinDelay = time.Second

// ExpiryLayout — формат даты истечения аккаунта (локальное время).
const ExpiryLayout = "2006-01-02-15:04:05"

// delayToken распознаёт одну компоненту задержки: число и единицу h/m/s.
var delayToken = regexp.MustCompile(`^(\d+)\s*([hms])`)

// ParseDelayStrict разбирает строку задержки. Принимаются комбинации
// "[Nh][Nm][Ns]" в любом порядке, с произвольными пробелами, без учёта
// регистра, либо голое целое число секунд. Пустая строка означает минимальную
// задержку. Строка, которую не удалось разобрать целиком, даёт ошибку.
// Успешный результат никогда не опускается ниже MinDelay.
func ParseDelayStrict(value string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return MinDelay, nil
	}

	// Голое целое — секунды.
	if n, err := strconv.Atoi(v); err == nil {
		return clampDelay(time.Duration(n) * time.Second), nil
	}

	var total time.Duration
	seen := false
	rest := v
	for rest != "" {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			break
		}
		m := delayToken.FindStringSubmatch(rest)
		if m == nil {
			// Неразобранный хвост — вся строка считается некорректной.
			return 0, fmt.Errorf("invalid delay %q", value)
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("invalid delay %q", value)
		}
		switch m[2] {
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
		seen = true
		rest = rest[len(m[0]):]
	}

	if !seen {
		return 0, fmt.Errorf("invalid delay %q", value)
	}
	return clampDelay(total), nil
}

// ParseDelay — снисходительный вариант ParseDelayStrict для чтения документов:
// некорректная строка даёт fallback вместо ошибки.
func ParseDelay(value string, fallback time.Duration) time.Duration {
	d, err := ParseDelayStrict(value)
	if err != nil {
		return clampDelay(fallback)
	}
	return d
}

// clampDelay поднимает значение до MinDelay; отрицательный fallback тоже
// приводится к минимуму, чтобы наружу никогда не уходила нулевая пауза.
func clampDelay(d time.Duration) time.Duration {
	if d < MinDelay {
		return MinDelay
	}
	return d
}

// FormatDelay форматирует задержку в виде "Nh Nm Ns", опуская нулевые
// компоненты. Значения меньше секунды отображаются как "1s" (см. MinDelay).
func FormatDelay(d time.Duration) string {
	d = clampDelay(d).Round(time.Second)

	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)

	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

// ParseExpiry разбирает дату истечения "YYYY-MM-DD-HH:MM:SS" в локальном времени.
// Пустая строка означает бессрочный аккаунт и возвращает нулевое время.
func ParseExpiry(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(ExpiryLayout, v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry %q: %w", value, err)
	}
	return t, nil
}

// FormatExpiry форматирует дату истечения; нулевое время — пустая строка (бессрочно).
func FormatExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(ExpiryLayout)
}

// IsExpired сообщает, истёк ли срок к моменту now. Нулевая дата — бессрочно.
func IsExpired(expiry, now time.Time) bool {
	return !expiry.IsZero() && now.After(expiry)
}
