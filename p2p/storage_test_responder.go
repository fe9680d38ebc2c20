package p2p

import (
	"fmt"
	"sync"
	"time"

	"github.com/KelvinWu602/forus-snode/message"
)

type MessageTestStatus int

const (
	TestSuccess MessageTestStatus = iota
	TestRetry
	TestWrongRequest
	TestError
)

func (s MessageTestStatus) String() string {
	switch s {
	case TestSuccess:
		return "success"
	case TestRetry:
		return "retry"
	case TestWrongRequest:
		return "wrong_request"
	default:
		return "error"
	}
}

func ParseMessageTestStatus(s string) MessageTestStatus {
	switch s {
	case "success":
		return TestSuccess
	case "retry":
		return TestRetry
	case "wrong_request":
		return TestWrongRequest
	}
	return TestError
}

type StorageTestCallback func(status MessageTestStatus, answer string, elapsed time.Duration)

// ProcessStorageTestReq answers a proof of storage challenge. While the evaluation says retry it is
// repeated every STORAGE_TEST_RETRY_INTERVAL, until STORAGE_TEST_RETRY_PERIOD passed or the node shuts
// down. cb is called exactly once.
func (h *RequestHandler) ProcessStorageTestReq(height uint64, tester string, hash string, cb StorageTestCallback) {
	h.stats.recordStorageTest()
	started := time.Now()

	var once sync.Once
	reply := func(status MessageTestStatus, answer string, elapsed time.Duration) {
		once.Do(func() { cb(status, answer, elapsed) })
	}

	status, answer := h.sn.ProcessStorageTestReq(height, tester, hash)
	if status != TestRetry || h.sn.ShuttingDown() {
		reply(status, answer, time.Since(started))
		return
	}

	logMsg(h.name, "ProcessStorageTestReq", fmt.Sprintf("storage test for %s at height %d not ready, retrying", message.Obfuscate(hash), height))
	retryPeriod := h.v.GetDuration("STORAGE_TEST_RETRY_PERIOD")

	// the timer id is only known once AddTimer returned
	registered := make(chan struct{})
	var id TimerID
	id = h.timers.AddTimer(h.v.GetDuration("STORAGE_TEST_RETRY_INTERVAL"), func() {
		<-registered
		elapsed := time.Since(started)
		logMsg(h.name, "ProcessStorageTestReq", fmt.Sprintf("performing storage test retry, %v since started", elapsed))

		status, answer := h.sn.ProcessStorageTestReq(height, tester, hash)
		if status == TestRetry && elapsed < retryPeriod && !h.sn.ShuttingDown() {
			return
		}
		h.timers.CancelTimer(id)
		reply(status, answer, elapsed)
	})
	close(registered)
}
