// Чтение и запись JSON-документов конфигурации.
// Документы редактируются параллельно с чтением (бот пишет, супервизор читает по
// событию watcher'а), поэтому на чтении действует правило снисходительности:
// одна лишняя запятая перед закрывающей скобкой не считается ошибкой.

package storage

import (
	"encoding/json"
	"fmt"
	"os"
)

// ReadJSONFile читает файл path и декодирует его в v.
// Если строгий разбор не удался, повторяет попытку после удаления
// висячих запятых перед '}' и ']'. Отсутствующий файл — ошибка os.ErrNotExist.
func ReadJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err == nil {
		return nil
	}
	if err := json.Unmarshal(StripTrailingCommas(data), v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// WriteJSONFile сериализует v с отступами и атомарно записывает в path.
func WriteJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')
	return AtomicWriteFile(path, data)
}

// StripTrailingCommas удаляет запятые, стоящие непосредственно перед '}' или ']'
// (с учётом пробельных символов между ними). Содержимое строковых литералов
// не трогается. Используется как второй шанс при разборе повреждённых документов.
func StripTrailingCommas(data []byte) []byte {
	out := make([]byte, 0, len(data))
	inString := false
	escaped := false

	for i := 0; i < len(data); i++ {
		c := data[i]

		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			out = append(out, c)
		case ',':
			// Смотрим вперёд: если до ближайшего непробельного символа стоит
			// закрывающая скобка — запятая лишняя, пропускаем её.
			j := i + 1
			for j < len(data) && isJSONSpace(data[j]) {
				j++
			}
			if j < len(data) && (data[j] == '}' || data[j] == ']') {
				continue
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
