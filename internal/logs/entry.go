package logs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"isomine/internal/logging"
)

// Entry is one decoded run log record.
type Entry struct {
	Raw       string
	Parsed    bool
	TS        string
	Level     string
	Msg       string
	Stage     string
	EventType string
	Component string
	Attrs     map[string]any
}

var reserved = map[string]bool{
	"ts": true, "level": true, "msg": true,
	logging.FieldStage: true, logging.FieldEventType: true, logging.FieldComponent: true,
}

// ParseEntry decodes line. A line that is not a JSON object yields an
// unparsed entry carrying only Raw.
func ParseEntry(line string) Entry {
	e := Entry{Raw: line}
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return e
	}
	e.Parsed = true
	str := func(key string) string {
		v, _ := fields[key].(string)
		return v
	}
	e.TS, e.Level, e.Msg = str("ts"), str("level"), str("msg")
	e.Stage, e.EventType, e.Component = str(logging.FieldStage), str(logging.FieldEventType), str(logging.FieldComponent)
	for k, v := range fields {
		if reserved[k] {
			continue
		}
		if e.Attrs == nil {
			e.Attrs = map[string]any{}
		}
		e.Attrs[k] = v
	}
	return e
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Stage     string
	EventType string
	MinLevel  string
}

// Empty reports whether f matches every entry.
func (f Filter) Empty() bool {
	return f.Stage == "" && f.EventType == "" && f.MinLevel == ""
}

// Match reports whether e passes f.
func (f Filter) Match(e Entry) bool {
	if f.Empty() || !e.Parsed {
		return true
	}
	if f.Stage != "" && e.Stage != f.Stage {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.MinLevel != "" && levelOf(e.Level) < levelOf(f.MinLevel) {
		return false
	}
	return true
}

func levelOf(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Format renders e as one console line with remaining attributes sorted
// by key.
func Format(e Entry) string {
	if !e.Parsed {
		return e.Raw
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s", e.TS, strings.ToUpper(e.Level))
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	b.WriteString(" " + e.Msg)
	if e.EventType != "" {
		fmt.Fprintf(&b, " event=%s", e.EventType)
	}
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}
