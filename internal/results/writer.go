// Package results renders tabulation output to files: a canonical JSON
// summary and a line-oriented audit log. Both are bit-identical across
// runs over the same inputs and seed.
package results

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openrcv/tally/internal/models"
	"github.com/openrcv/tally/internal/tabulator"
)

// Recorder collects engine events as persisted audit rows, in emission
// order. It implements tabulator.Observer.
type Recorder struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

// NewRecorder creates an empty event recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnEvent appends one engine event. The engine calls synchronously from a
// single goroutine; the lock only guards against readers polling while a
// tabulation runs.
func (r *Recorder) OnEvent(ev tabulator.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payload, err := json.Marshal(ev)
	if err != nil {
		// Events are plain data; this cannot fail for any event the
		// engine emits.
		payload = []byte(fmt.Sprintf(`{"kind":%q}`, ev.Kind))
	}
	r.events = append(r.events, models.AuditEvent{
		Seq:     len(r.events),
		Round:   ev.Round,
		Type:    string(ev.Kind),
		Payload: string(payload),
	})
}

// Events returns the recorded events in emission order.
func (r *Recorder) Events() []models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AuditEvent(nil), r.events...)
}

// WriteSummary writes the canonical JSON summary for a run and returns
// the file path. The write is atomic: a temp file is renamed into place.
func WriteSummary(dir string, run *models.ContestRun) (string, error) {
	summary := *run
	summary.AuditEvents = nil // the audit trail has its own file

	data, err := json.MarshalIndent(&summary, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fileStem(run)+"_summary.json")
	if err := writeAtomically(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// WriteAuditLog writes the audit trail: every engine event as one JSON
// line, followed by the per-ballot round outcomes.
func WriteAuditLog(dir string, run *models.ContestRun, ballotAudits []tabulator.BallotAudit) (string, error) {
	path := filepath.Join(dir, fileStem(run)+"_audit.log")

	tmp, err := os.CreateTemp(dir, ".audit-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, event := range run.AuditEvents {
		if _, err := fmt.Fprintln(w, event.Payload); err != nil {
			tmp.Close()
			return "", err
		}
	}
	for _, audit := range ballotAudits {
		for _, outcome := range audit.Rounds {
			var err error
			if outcome.Counted {
				_, err = fmt.Fprintf(w, "ballot %s round %d counted for %s at %s\n",
					audit.BallotID, outcome.Round, outcome.Candidate, outcome.Value.String())
			} else {
				_, err = fmt.Fprintf(w, "ballot %s round %d exhausted (%s) at %s\n",
					audit.BallotID, outcome.Round, outcome.Reason, outcome.Value.String())
			}
			if err != nil {
				tmp.Close()
				return "", err
			}
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// fileStem builds the output file prefix from the contest name and run id.
func fileStem(run *models.ContestRun) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, run.ContestName)
	return name + "_" + run.RunID
}

func writeAtomically(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".summary-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
