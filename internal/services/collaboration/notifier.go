package collaboration

import (
	"doc-collab/internal/models"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/glog"
)

// LogNotifier surfaces notifications through the log
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (LogNotifier) Notify(n models.Notification) {
	switch n.Level {
	case models.NotificationError:
		glog.Errorf("❌ [%s] %s", n.DocumentID, n.Message)
	default:
		glog.Warningf("⚠️  [%s] %s", n.DocumentID, n.Message)
	}
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(models.Notification)

func (f NotifierFunc) Notify(n models.Notification) { f(n) }

// cursorPalette is the set of colours participants are drawn in
var cursorPalette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c",
	"#008080", "#9a6324", "#800000", "#000075",
}

// ColorFor picks a stable colour for an identity, so a participant keeps the
// same cursor colour across sessions and devices.
func ColorFor(identityID string) string {
	return cursorPalette[xxhash.Sum64String(identityID)%uint64(len(cursorPalette))]
}
