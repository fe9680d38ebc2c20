package p2p

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const recentLogsCapacity = 100

// recentLogs is a logrus hook keeping the last warnings and errors for /get_logs/v1.
type recentLogs struct {
	lock    sync.Mutex
	entries []HTTPSchemaLogEntry
	next    int
	full    bool
}

func newRecentLogs(capacity int) *recentLogs {
	return &recentLogs{entries: make([]HTTPSchemaLogEntry, capacity)}
}

func (r *recentLogs) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (r *recentLogs) Fire(entry *logrus.Entry) error {
	fields := make(map[string]string, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = fmt.Sprint(v)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries[r.next] = HTTPSchemaLogEntry{
		Time:    entry.Time.UTC().Format(time.RFC3339Nano),
		Level:   entry.Level.String(),
		Message: entry.Message,
		Fields:  fields,
	}
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// snapshot returns the kept entries, oldest first.
func (r *recentLogs) snapshot() []HTTPSchemaLogEntry {
	r.lock.Lock()
	defer r.lock.Unlock()
	if !r.full {
		return append([]HTTPSchemaLogEntry{}, r.entries[:r.next]...)
	}
	out := append([]HTTPSchemaLogEntry{}, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}
