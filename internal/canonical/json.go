package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Marshal renders v as compact JSON with object keys sorted at every depth
// and HTML escaping disabled.
func Marshal(v any) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	return encode(generic, "")
}

// MarshalIndent is Marshal with two-space indentation and a trailing newline,
// used for summaries and manifests meant to be read by people.
func MarshalIndent(v any) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	out, err := encode(generic, "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Checksum returns the SHA-256 hex digest of the canonical form of v.
func Checksum(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(data), nil
}

// LinesChecksum hashes the canonical forms of rows joined by newlines.
func LinesChecksum[T any](rows []T) (string, error) {
	h := sha256.New()
	for i, row := range rows {
		data, err := Marshal(row)
		if err != nil {
			return "", fmt.Errorf("row %d: %w", i, err)
		}
		if i > 0 {
			h.Write([]byte{'\n'})
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// toGeneric round-trips v through encoding/json so struct field order stops
// mattering; maps are emitted with sorted keys by the encoder.
func toGeneric(v any) (any, error) {
	raw, err := encode(v, "")
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	return out, nil
}

func encode(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
