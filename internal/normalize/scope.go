package normalize

import (
	"strings"
)

// FrontMatter is the scope of lines seen before the first heading.
const FrontMatter = "front_matter"

// Scope is the structural context of a line.
type Scope struct {
	Section string
	Clause  string
	Table   string
}

// SubclausePath lists the clause number and each of its ancestors.
func (s Scope) SubclausePath() []string {
	parts := strings.Split(s.Clause, ".")
	if s.Clause == "" || s.Clause == FrontMatter || len(parts) == 0 {
		return []string{s.Clause}
	}
	path := make([]string, 0, len(parts))
	for i := range parts {
		path = append(path, strings.Join(parts[:i+1], "."))
	}
	return path
}

// ScopeCounters tallies section, clause and table signals.
type ScopeCounters struct {
	Section int `json:"section"`
	Clause  int `json:"clause"`
	Table   int `json:"table"`
}

func (c *ScopeCounters) add(o ScopeCounters) {
	c.Section += o.Section
	c.Clause += o.Clause
	c.Table += o.Table
}

// Tracker follows scope through the lines of one part. Opportunities count
// the structural signals seen; boundaries count the signals that resolved to
// a scope.
type Tracker struct {
	cur           Scope
	captionOpen   bool
	Boundaries    ScopeCounters
	Opportunities ScopeCounters
}

// NewTracker starts a part in front matter.
func NewTracker() *Tracker {
	return &Tracker{cur: Scope{Section: FrontMatter, Clause: FrontMatter}}
}

// Current returns the scope in force.
func (t *Tracker) Current() Scope { return t.cur }

// Heading records a clause heading or a numbered normative line.
func (t *Tracker) Heading(number string) {
	if number == "" {
		return
	}
	section := sectionOf(number)
	if !strings.Contains(number, ".") {
		t.Opportunities.Section++
	}
	if section != t.cur.Section {
		t.Boundaries.Section++
		t.cur.Section = section
	}
	t.clause(number)
}

// Annex records an annex heading such as "Annex B".
func (t *Tracker) Annex(letter string) {
	section := "Annex " + letter
	t.Opportunities.Section++
	if section != t.cur.Section {
		t.Boundaries.Section++
		t.cur.Section = section
	}
	t.clause(section)
}

func (t *Tracker) clause(value string) {
	t.Opportunities.Clause++
	if value != t.cur.Clause {
		t.Boundaries.Clause++
		t.cur.Clause = value
	}
	t.cur.Table = ""
	t.captionOpen = false
}

// Caption opens a table scope.
func (t *Tracker) Caption(label string) {
	t.Opportunities.Table++
	t.Boundaries.Table++
	t.cur.Table = label
	t.captionOpen = true
}

// Region records an accepted table region and returns the table it belongs
// to. A region right after its caption is already counted; one without a
// caption resolves only when a table from an earlier page is still open.
func (t *Tracker) Region() string {
	if t.captionOpen {
		t.captionOpen = false
		return t.cur.Table
	}
	t.Opportunities.Table++
	if t.cur.Table != "" {
		t.Boundaries.Table++
	}
	return t.cur.Table
}

func sectionOf(number string) string {
	if len(number) > 1 && number[1] == '.' && number[0] >= 'A' && number[0] <= 'Z' {
		return "Annex " + number[:1]
	}
	head, _, _ := strings.Cut(number, ".")
	return head
}
