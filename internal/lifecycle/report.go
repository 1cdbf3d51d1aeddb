package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/galoko/PeopleWatcher/internal/capture"
)

// ReportFile is the crash report location under the storage root.
const ReportFile = "Reports/Report.txt"

// writeCrashReport overwrites the crash report with the details of a
// fatal run.
func writeCrashReport(root, runID string, t capture.Termination, s capture.Stats, now time.Time) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(ReportFile))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("lifecycle: create report dir: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "run_id: %s\n", runID)
	fmt.Fprintf(&b, "written: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "terminated: %s\n", t.At.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "state: %s\n", t.From)
	if k, ok := capture.KindOf(t.Cause); ok {
		fmt.Fprintf(&b, "kind: %s\n", k)
	}
	fmt.Fprintf(&b, "cause: %v\n", t.Cause)

	stats, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("lifecycle: encode stats: %w", err)
	}
	b.WriteString("stats: ")
	b.Write(stats)
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("lifecycle: write report: %w", err)
	}
	return path, nil
}
