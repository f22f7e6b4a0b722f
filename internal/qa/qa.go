package qa

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"isomine/internal/artifact"
	"isomine/internal/layout"
	"isomine/internal/normalize"
	"isomine/internal/policy"
	"isomine/internal/services"
	"isomine/internal/state"
)

// Row statuses.
const (
	StatusOpen    = "open"
	StatusPending = "pending_rerun"
)

// Row is one queue item joined with the latest recorded decision.
type Row struct {
	normalize.QAItem
	Status   string `json:"status"`
	Decision string `json:"decision,omitempty"`
	Reviewer string `json:"reviewer,omitempty"`
}

// List returns the queue of the last normalize pass. Items decided since
// that pass are reported as pending a rerun.
func List(l layout.Layout) ([]Row, error) {
	queue, err := normalize.ReadQueue(l)
	if err != nil {
		return nil, err
	}
	decided, err := normalize.ReadAdjudications(l)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(queue))
	for _, item := range queue {
		row := Row{QAItem: item, Status: StatusOpen}
		if adj, ok := decided[item.QAItemID]; ok && adj.Decision != item.LastDecision {
			row.Status = StatusPending
			row.Decision = adj.Decision
			row.Reviewer = adj.Reviewer
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b Row) int {
		if c := strings.Compare(a.Part, b.Part); c != 0 {
			return c
		}
		if a.Page != b.Page {
			return a.Page - b.Page
		}
		return strings.Compare(a.QAItemID, b.QAItemID)
	})
	return rows, nil
}

// Render draws rows as a table.
func Render(rows []Row) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"QA Item", "Part", "Page", "Type", "Method", "Band", "Reasons", "Status"})
	for _, r := range rows {
		status := r.Status
		if r.Decision != "" {
			status += " (" + r.Decision + ")"
		}
		tw.AppendRow(table.Row{
			r.QAItemID, r.Part, r.Page, r.UnitType, r.ExtractMethod,
			orDash(r.QualityBand), orDash(strings.Join(r.ReasonCodes, ",")), status,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

// DecisionFile is the reviewer ledger read by qa-apply.
type DecisionFile struct {
	Decisions []normalize.Adjudication `yaml:"decisions" json:"decisions" validate:"required,min=1,dive"`
}

// LoadDecisions reads and validates a decision file.
func LoadDecisions(path string) ([]normalize.Adjudication, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrUsage, "qa", "read decisions", path, err)
	}
	return ParseDecisions(data)
}

// ParseDecisions decodes a YAML decision document. Unknown keys are
// rejected.
func ParseDecisions(data []byte) ([]normalize.Adjudication, error) {
	var doc DecisionFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, services.Wrap(services.ErrValidation, "qa", "parse decisions", "invalid yaml", err)
	}
	if err := policy.Check("qa decision", doc); err != nil {
		return nil, services.Wrap(services.ErrValidation, "qa", "validate decisions", err.Error(), nil)
	}
	return doc.Decisions, nil
}

// ApplyResult summarizes one qa-apply.
type ApplyResult struct {
	Recorded  int
	Confirmed int
	Rejected  int
	ResetFrom string
}

// Apply records decisions for known QA items and resets normalize and every
// later stage so the next invocation re-derives units with them applied.
// Nothing is recorded when any decision names an unknown item.
func Apply(l layout.Layout, st *state.State, cl *state.Checklist, decisions []normalize.Adjudication, now time.Time) (ApplyResult, error) {
	queue, err := normalize.ReadQueue(l)
	if err != nil {
		return ApplyResult{}, err
	}
	prior, err := normalize.ReadAdjudications(l)
	if err != nil {
		return ApplyResult{}, err
	}
	known := make(map[string]bool, len(queue)+len(prior))
	for _, item := range queue {
		known[item.QAItemID] = true
	}
	for id := range prior {
		known[id] = true
	}
	var unknown []string
	for _, d := range decisions {
		if !known[d.QAItemID] {
			unknown = append(unknown, d.QAItemID)
		}
	}
	if len(unknown) > 0 {
		return ApplyResult{}, services.Wrap(services.ErrValidation, "qa", "apply",
			fmt.Sprintf("unknown qa item(s): %s", strings.Join(unknown, ", ")), nil)
	}

	res := ApplyResult{ResetFrom: state.Normalize}
	stamped := make([]normalize.Adjudication, len(decisions))
	for i, d := range decisions {
		d.TimestampUTC = state.Timestamp(now)
		stamped[i] = d
		switch d.Decision {
		case normalize.DecisionConfirm:
			res.Confirmed++
		case normalize.DecisionReject:
			res.Rejected++
		}
	}
	if err := artifact.AppendJSONL(l.Adjudications(), stamped...); err != nil {
		return ApplyResult{}, err
	}
	res.Recorded = len(stamped)

	state.ResetFrom(st, cl, state.Normalize)
	st.Touch(now)
	if err := state.Save(st, cl); err != nil {
		return res, services.Wrap(services.ErrStopCondition, "qa", "save state", l.StateFile(), err)
	}
	return res, nil
}
