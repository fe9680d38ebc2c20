package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storageTestResult struct {
	status  MessageTestStatus
	answer  string
	elapsed time.Duration
}

func runStorageTest(t *testing.T, h *RequestHandler) (storageTestResult, chan storageTestResult) {
	t.Helper()
	results := make(chan storageTestResult, 4)
	h.ProcessStorageTestReq(100, testPeers[0].PubkeyLegacy, "somehash", func(status MessageTestStatus, answer string, elapsed time.Duration) {
		results <- storageTestResult{status, answer, elapsed}
	})
	select {
	case res := <-results:
		return res, results
	case <-time.After(5 * time.Second):
		t.Fatal("storage test never answered")
	}
	return storageTestResult{}, results
}

// go test -run TestStorageTestImmediate
func TestStorageTestImmediate(t *testing.T) {
	assert := assert.New(t)
	for _, status := range []MessageTestStatus{TestSuccess, TestWrongRequest, TestError} {
		sn := NewMockServiceNode(testSelf)
		sn.TestResults = []MessageTestStatus{status}
		sn.TestAnswer = "data"
		h := newTestHandler(t, sn, RequestHandlerDeps{})

		res, _ := runStorageTest(t, h)
		assert.Equal(status, res.status)
		assert.Equal(1, sn.TestCalls(), "no retries for %s", status)
		if status == TestSuccess {
			assert.Equal("data", res.answer)
		} else {
			assert.Empty(res.answer)
		}
	}
}

// go test -run TestStorageTestRetryThenSuccess
func TestStorageTestRetryThenSuccess(t *testing.T) {
	assert := assert.New(t)
	sn := NewMockServiceNode(testSelf)
	sn.TestResults = []MessageTestStatus{TestRetry, TestRetry, TestSuccess}
	sn.TestAnswer = "found it"
	h := newTestHandler(t, sn, RequestHandlerDeps{})

	res, results := runStorageTest(t, h)
	assert.Equal(TestSuccess, res.status)
	assert.Equal("found it", res.answer)
	assert.Equal(3, sn.TestCalls())
	// two ticks of 10ms
	assert.GreaterOrEqual(res.elapsed, 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(results, 0, "callback fires once")
	assert.Equal(3, sn.TestCalls(), "the timer is cancelled after answering")
}

// go test -run TestStorageTestGivesUp
func TestStorageTestGivesUp(t *testing.T) {
	assert := assert.New(t)
	sn := NewMockServiceNode(testSelf)
	sn.TestResults = []MessageTestStatus{TestRetry}
	h := newTestHandler(t, sn, RequestHandlerDeps{})

	res, _ := runStorageTest(t, h)
	assert.Equal(TestRetry, res.status)
	assert.GreaterOrEqual(res.elapsed, 300*time.Millisecond)
	assert.Less(res.elapsed, 2*time.Second)
}

// go test -run TestStorageTestStopsOnShutdown
func TestStorageTestStopsOnShutdown(t *testing.T) {
	assert := assert.New(t)
	sn := NewMockServiceNode(testSelf)
	sn.TestResults = []MessageTestStatus{TestRetry}
	h := newTestHandler(t, sn, RequestHandlerDeps{})

	results := make(chan storageTestResult, 1)
	h.ProcessStorageTestReq(1, "tester", "hash", func(status MessageTestStatus, answer string, elapsed time.Duration) {
		results <- storageTestResult{status, answer, elapsed}
	})
	time.Sleep(30 * time.Millisecond)
	sn.SetShuttingDown(true)

	select {
	case res := <-results:
		assert.Equal(TestRetry, res.status)
		assert.Less(res.elapsed, 300*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("storage test kept retrying after shutdown")
	}
}

// go test -run TestStorageTestAnswersWhenTimersFinish
func TestStorageTestAnswersWhenTimersFinish(t *testing.T) {
	assert := assert.New(t)
	sn := NewMockServiceNode(testSelf)
	sn.TestResults = []MessageTestStatus{TestRetry}

	// the retry tick never comes on its own, only finishAll can fire it
	v := newTestConfig(t)
	v.Set("STORAGE_TEST_RETRY_INTERVAL", time.Minute)
	pending := newPendingRequests()
	timers := newTickerTimers(pending)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewRequestHandler(ctx, "test", v, sn, newTestEncryption(t), RequestHandlerDeps{Pending: pending, Timers: timers})

	results := make(chan storageTestResult, 2)
	h.ProcessStorageTestReq(1, "tester", "hash", func(status MessageTestStatus, answer string, elapsed time.Duration) {
		results <- storageTestResult{status, answer, elapsed}
	})
	time.Sleep(30 * time.Millisecond)
	assert.Len(results, 0)

	// same order as Node.Shutdown
	sn.SetShuttingDown(true)
	timers.finishAll()

	select {
	case res := <-results:
		assert.Equal(TestRetry, res.status)
	case <-time.After(2 * time.Second):
		t.Fatal("storage test never answered after its timer was finished")
	}
	assert.True(pending.wait(time.Second))
	assert.Equal(2, sn.TestCalls())
	assert.Len(results, 0, "callback fires once")
}

// go test -run TestStorageTestDuringShutdown
func TestStorageTestDuringShutdown(t *testing.T) {
	assert := assert.New(t)
	sn := NewMockServiceNode(testSelf)
	sn.TestResults = []MessageTestStatus{TestRetry}
	sn.SetShuttingDown(true)
	h := newTestHandler(t, sn, RequestHandlerDeps{})

	res, _ := runStorageTest(t, h)
	assert.Equal(TestRetry, res.status)
	assert.Equal(1, sn.TestCalls(), "no retry timer once shutting down")
}

// go test -run TestMessageTestStatusNames
func TestMessageTestStatusNames(t *testing.T) {
	for _, status := range []MessageTestStatus{TestSuccess, TestRetry, TestWrongRequest, TestError} {
		require.Equal(t, status, ParseMessageTestStatus(status.String()))
	}
	assert.Equal(t, TestError, ParseMessageTestStatus("nonsense"))
}
