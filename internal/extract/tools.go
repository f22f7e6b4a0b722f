package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"isomine/internal/services"
)

// Executor abstracts command execution for the poppler tools.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// commandExecutor executes commands using os/exec.
type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	return cmd.Output()
}

// Text extraction modes.
const (
	ModeLayout = "-layout"
	ModeRaw    = "-raw"
)

// Poppler wraps pdfinfo and pdftotext.
type Poppler struct {
	pdfToText string
	pdfInfo   string
	pdfToPPM  string
	timeout   time.Duration
	exec      Executor
}

// NewPoppler constructs a Poppler using os/exec.
func NewPoppler(pdfToText, pdfInfo string, timeout time.Duration) *Poppler {
	return NewPopplerWithExecutor(pdfToText, pdfInfo, timeout, nil)
}

// NewPopplerWithExecutor allows injecting a custom executor for testing.
func NewPopplerWithExecutor(pdfToText, pdfInfo string, timeout time.Duration, exec Executor) *Poppler {
	if exec == nil {
		exec = commandExecutor{}
	}
	return &Poppler{
		pdfToText: strings.TrimSpace(pdfToText),
		pdfInfo:   strings.TrimSpace(pdfInfo),
		timeout:   timeout,
		exec:      exec,
	}
}

// Binaries returns the configured tool commands.
func (p *Poppler) Binaries() (pdfToText, pdfInfo string) { return p.pdfToText, p.pdfInfo }

func (p *Poppler) run(ctx context.Context, binary string, args []string) ([]byte, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.exec.Run(ctx, binary, args)
}

// PageCount reads the "Pages:" line of pdfinfo output.
func (p *Poppler) PageCount(ctx context.Context, path string) (int, error) {
	out, err := p.run(ctx, p.pdfInfo, []string{path})
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "extract", "pdfinfo", path, err)
	}
	return parsePageCount(out, path)
}

func parsePageCount(out []byte, path string) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "pages") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			break
		}
		return n, nil
	}
	return 0, services.Wrap(services.ErrExternalTool, "extract", "pdfinfo",
		fmt.Sprintf("unable to parse page count for %s", path), nil)
}

// PageText extracts one page. A tool failure is returned as an error; the
// caller decides whether it is fatal.
func (p *Poppler) PageText(ctx context.Context, path string, page int, mode string) (string, error) {
	n := strconv.Itoa(page)
	out, err := p.run(ctx, p.pdfToText, []string{"-f", n, "-l", n, mode, "-enc", "UTF-8", path, "-"})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ErrNoRasterizer reports that no pdftoppm binary is configured.
var ErrNoRasterizer = errors.New("rasterizer not configured")

// WithRasterizer enables ink measurement through pdftoppm.
func (p *Poppler) WithRasterizer(pdfToPPM string) *Poppler {
	p.pdfToPPM = strings.TrimSpace(pdfToPPM)
	return p
}

// inkThreshold is the gray level below which a pixel counts as ink.
const inkThreshold = 0.5

// InkCoverage renders page as a low-resolution grayscale PGM and returns the
// fraction of dark pixels.
func (p *Poppler) InkCoverage(ctx context.Context, path string, page int) (float64, error) {
	if p.pdfToPPM == "" {
		return 0, ErrNoRasterizer
	}
	n := strconv.Itoa(page)
	out, err := p.run(ctx, p.pdfToPPM, []string{"-f", n, "-l", n, "-r", "24", "-gray", path})
	if err != nil {
		return 0, err
	}
	return pgmInkRatio(out)
}

// pgmInkRatio parses a binary (P5) PGM image.
func pgmInkRatio(data []byte) (float64, error) {
	fields := make([]int, 0, 3)
	rest := data
	if !bytes.HasPrefix(rest, []byte("P5")) {
		return 0, errors.New("not a binary PGM image")
	}
	rest = rest[2:]
	for len(fields) < 3 {
		rest = skipPGMSpace(rest)
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if end == 0 {
			return 0, errors.New("malformed PGM header")
		}
		v, err := strconv.Atoi(string(rest[:end]))
		if err != nil {
			return 0, err
		}
		fields = append(fields, v)
		rest = rest[end:]
	}
	if len(rest) == 0 {
		return 0, errors.New("truncated PGM image")
	}
	rest = rest[1:]
	width, height, maxVal := fields[0], fields[1], fields[2]
	pixels := width * height
	if pixels == 0 || maxVal <= 0 || maxVal > 255 || len(rest) < pixels {
		return 0, errors.New("unsupported PGM geometry")
	}
	cutoff := int(float64(maxVal) * inkThreshold)
	dark := 0
	for _, px := range rest[:pixels] {
		if int(px) < cutoff {
			dark++
		}
	}
	return float64(dark) / float64(pixels), nil
}

func skipPGMSpace(b []byte) []byte {
	for len(b) > 0 {
		switch {
		case b[0] == '#':
			if i := bytes.IndexByte(b, '\n'); i >= 0 {
				b = b[i+1:]
				continue
			}
			return nil
		case b[0] == ' ' || b[0] == '\t' || b[0] == '\n' || b[0] == '\r':
			b = b[1:]
		default:
			return b
		}
	}
	return b
}
