package state

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"isomine/internal/fileutil"
)

// ReadEnvFile parses KEY="value" lines. Blank lines, '#' comments and lines
// without '=' are skipped. A missing file yields an empty map.
func ReadEnvFile(path string) (map[string]string, error) {
	values := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		if fileutil.IsNotExist(err) {
			return values, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return values, nil
}

// WriteEnvFile writes values with sorted keys, replacing path atomically.
func WriteEnvFile(path string, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(`="`)
		b.WriteString(escape(values[key]))
		b.WriteString("\"\n")
	}
	return fileutil.WriteAtomic(path, []byte(b.String()), 0o644)
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+1 < len(value) && (value[i+1] == '"' || value[i+1] == '\\') {
			i++
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

// envStore is an env file held in memory between reads and an explicit Save.
type envStore struct {
	path   string
	values map[string]string
}

func loadEnvStore(path string) (envStore, error) {
	values, err := ReadEnvFile(path)
	if err != nil {
		return envStore{}, err
	}
	return envStore{path: path, values: values}, nil
}

// Get returns the value for key or "".
func (e *envStore) Get(key string) string { return e.values[key] }

// Set records value for key. Call Save to persist.
func (e *envStore) Set(key, value string) { e.values[key] = value }

// Has reports whether key is present.
func (e *envStore) Has(key string) bool {
	_, ok := e.values[key]
	return ok
}

// Values returns a copy of every key/value pair.
func (e *envStore) Values() map[string]string {
	out := make(map[string]string, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Path is the backing file.
func (e *envStore) Path() string { return e.path }

// Save persists the store.
func (e *envStore) Save() error { return WriteEnvFile(e.path, e.values) }
