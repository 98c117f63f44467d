/*
log.go - Structured-log notifier

PURPOSE:
  Default ingest.Notifier. Emits the terminal import summary as structured
  log entries so operators can trace what each upload did without a mail or
  websocket channel in the loop.
*/
package notify

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/warp/ingest-engine/ingest"
)

// LogNotifier writes import summaries through a logrus entry.
type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the summary. One line per import, plus one line per system
// error so infrastructure failures stand out from row-level rejects.
func (n *LogNotifier) Notify(_ context.Context, owner string, s ingest.Summary) error {
	entry := n.log.WithFields(logrus.Fields{
		"import_id": s.ImportID,
		"owner":     owner,
		"profile":   s.Profile,
		"processed": s.Processed,
		"updated":   s.Updated,
		"skipped":   s.Skipped,
		"errors":    len(s.Errors),
		"warnings":  len(s.Warnings),
	})
	if len(s.SystemErrors) > 0 {
		for _, msg := range s.SystemErrors {
			entry.WithField("system_error", msg).Error("import finished with system errors")
		}
		return nil
	}
	if len(s.Errors) > 0 {
		entry.Warn("import finished with rejected rows")
		return nil
	}
	entry.Info("import finished")
	return nil
}
