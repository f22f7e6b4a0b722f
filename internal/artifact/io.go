package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"isomine/internal/canonical"
	"isomine/internal/fileutil"
)

const maxLineBytes = 64 << 20

// WriteJSON writes v as indented, key-sorted JSON.
func WriteJSON(path string, v any) error {
	data, err := canonical.MarshalIndent(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return fileutil.WriteAtomic(path, data, 0o644)
}

// WriteJSONL writes one canonical JSON line per row.
func WriteJSONL[T any](path string, rows []T) error {
	var buf bytes.Buffer
	for i, row := range rows {
		line, err := canonical.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode %s row %d: %w", filepath.Base(path), i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return fileutil.WriteAtomic(path, buf.Bytes(), 0o644)
}

// AppendJSONL appends canonical JSON lines to path, creating it if needed.
func AppendJSONL[T any](path string, rows ...T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	for i, row := range rows {
		line, err := canonical.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode %s row %d: %w", filepath.Base(path), i, err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return f.Close()
}

// WriteText writes a plain text file atomically.
func WriteText(path, text string) error {
	return fileutil.WriteAtomic(path, []byte(text), 0o644)
}

// ReadJSON decodes the JSON document at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ReadJSONC decodes a JSON document that may carry comments and trailing commas.
func ReadJSONC(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ReadJSONL decodes every non-blank line of path.
func ReadJSONL[T any](path string) ([]T, error) {
	var rows []T
	err := ScanJSONL(path, func(line []byte) error {
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

// ScanJSONL calls fn with each non-blank line of path.
func ScanJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<16), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}

// CountJSONL returns the number of non-blank lines in path.
func CountJSONL(path string) (int, error) {
	count := 0
	err := ScanJSONL(path, func([]byte) error {
		count++
		return nil
	})
	return count, err
}
