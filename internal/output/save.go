package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/coderunner/loadtest/internal/report"
	"github.com/coderunner/loadtest/internal/threshold"
)

// LockFileName is taken in the output directory while reports are written.
const LockFileName = ".loadtest.lock"

// Paths are the files written by Save.
type Paths struct {
	JSON string
	HTML string
}

// Save writes <dir>/<test_id>.json and <dir>/<test_id>.html, creating dir if
// needed. Concurrent runs sharing dir are serialised with a file lock.
func Save(dir string, r report.Report, thresholdResults []threshold.Result) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create output directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, LockFileName))
	if err := lock.Lock(); err != nil {
		return Paths{}, fmt.Errorf("lock output directory: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	paths := Paths{
		JSON: filepath.Join(dir, r.TestID+".json"),
		HTML: filepath.Join(dir, r.TestID+".html"),
	}

	if err := writeFile(paths.JSON, func(w *bufio.Writer) error {
		return WriteJSON(w, r)
	}); err != nil {
		return Paths{}, fmt.Errorf("write JSON report: %w", err)
	}
	if err := writeFile(paths.HTML, func(w *bufio.Writer) error {
		return GenerateHTMLReport(w, r, thresholdResults)
	}); err != nil {
		return Paths{}, fmt.Errorf("write HTML report: %w", err)
	}
	return paths, nil
}

func writeFile(path string, fill func(w *bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
