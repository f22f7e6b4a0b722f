package baseline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"isomine/internal/anchor"
	"isomine/internal/fileutil"
	"isomine/internal/layout"
	"isomine/internal/normalize"
	"isomine/internal/services"
)

// SchemaVersion is bumped whenever the snapshot shape changes.
const SchemaVersion = 1

// Snapshot is the persisted baseline of one completed run.
type Snapshot struct {
	SchemaVersion   int                   `cbor:"schema_version"`
	RunID           string                `cbor:"run_id"`
	Edition         string                `cbor:"edition"`
	SourceSignature string                `cbor:"source_signature"`
	CreatedAtUTC    string                `cbor:"created_at_utc"`
	Slices          []normalize.UnitSlice `cbor:"unit_slices"`
	Links           []anchor.TextLink     `cbor:"anchor_text_links"`
	Units           []anchor.AnchoredUnit `cbor:"anchored_units"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("baseline: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("baseline: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode returns the compressed snapshot bytes.
func Encode(s Snapshot) ([]byte, error) {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SchemaVersion
	}
	raw, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(r io.Reader) (Snapshot, error) {
	var s Snapshot
	zr, err := zstd.NewReader(r)
	if err != nil {
		return s, err
	}
	defer zr.Close()
	if err := decMode.NewDecoder(zr).Decode(&s); err != nil {
		return s, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.SchemaVersion != SchemaVersion {
		return s, services.Wrap(services.ErrSchema, "baseline", "decode snapshot",
			fmt.Sprintf("unsupported snapshot schema version %d", s.SchemaVersion), nil)
	}
	return s, nil
}

// Write stores the snapshot at the layout's snapshot path.
func Write(l layout.Layout, s Snapshot) (string, error) {
	data, err := Encode(s)
	if err != nil {
		return "", err
	}
	path := l.Snapshot()
	if err := fileutil.WriteAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Read loads the snapshot of the run laid out by l. A missing snapshot is
// ErrNotFound.
func Read(l layout.Layout) (Snapshot, error) {
	path := l.Snapshot()
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, services.Wrap(services.ErrNotFound, "baseline", "read snapshot", path, err)
	}
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()
	return Decode(f)
}

// FromRun gathers the snapshot content from a run's artifacts.
func FromRun(l layout.Layout, runID, sourceSignature, createdAt string) (Snapshot, error) {
	slices, err := normalize.ReadSlices(l)
	if err != nil {
		return Snapshot{}, err
	}
	links, err := anchor.ReadLinks(l)
	if err != nil {
		return Snapshot{}, err
	}
	units, err := anchor.ReadUnits(l)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		SchemaVersion:   SchemaVersion,
		RunID:           runID,
		Edition:         l.Edition,
		SourceSignature: sourceSignature,
		CreatedAtUTC:    createdAt,
		Slices:          slices,
		Links:           links,
		Units:           units,
	}, nil
}
