package p2p

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// go test -run TestRecentLogs
func TestRecentLogs(t *testing.T) {
	assert := assert.New(t)
	history := newRecentLogs(3)
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.AddHook(history)

	l.Info("not kept")
	l.WithError(errors.New("boom")).WithField("peer", "1.2.3.4").Error("first")
	assert.Len(history.snapshot(), 1)
	first := history.snapshot()[0]
	assert.Equal("error", first.Level)
	assert.Equal("first", first.Message)
	assert.Equal("boom", first.Fields["error"])
	assert.Equal("1.2.3.4", first.Fields["peer"])

	for i := 0; i < 4; i++ {
		l.Warn(fmt.Sprintf("warn %d", i))
	}
	entries := history.snapshot()
	assert.Len(entries, 3, "only the newest entries are kept")
	assert.Equal("warn 1", entries[0].Message)
	assert.Equal("warn 3", entries[2].Message)
}
