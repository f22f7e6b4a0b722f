package normalize

import (
	"isomine/internal/artifact"
	"isomine/internal/fileutil"
	"isomine/internal/layout"
	"isomine/internal/services"
)

// Adjudication decisions.
const (
	DecisionConfirm = "confirm"
	DecisionReject  = "reject"
)

// Adjudication is one row of qa/adjudications.jsonl.
type Adjudication struct {
	QAItemID     string `json:"qa_item_id" yaml:"qa_item_id" validate:"required"`
	Decision     string `json:"decision" yaml:"decision" validate:"required,oneof=confirm reject"`
	Reviewer     string `json:"reviewer" yaml:"reviewer" validate:"required"`
	Note         string `json:"note,omitempty" yaml:"note"`
	TimestampUTC string `json:"timestamp_utc" yaml:"-"`
}

// ReadAdjudications returns the latest decision per QA item. A missing
// ledger means no decisions.
func ReadAdjudications(l layout.Layout) (map[string]Adjudication, error) {
	rows, err := artifact.ReadJSONL[Adjudication](l.Adjudications())
	if err != nil {
		if fileutil.IsNotExist(err) {
			return map[string]Adjudication{}, nil
		}
		return nil, services.Wrap(services.ErrStopCondition, "normalize", "read adjudications", l.Adjudications(), err)
	}
	latest := make(map[string]Adjudication, len(rows))
	for _, row := range rows {
		latest[row.QAItemID] = row
	}
	return latest, nil
}

// ReadQueue loads the QA queue written by the last normalize pass.
func ReadQueue(l layout.Layout) ([]QAItem, error) {
	rows, err := artifact.ReadJSONL[QAItem](l.QAQueue())
	if err != nil {
		if fileutil.IsNotExist(err) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrStopCondition, "normalize", "read qa queue", l.QAQueue(), err)
	}
	return rows, nil
}
