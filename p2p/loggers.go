package p2p

import (
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

var logHistory = newRecentLogs(recentLogsCapacity)

func init() {
	logger.AddHook(logHistory)
}

func setLogLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("unknown log level %q, keeping %v", level, logger.GetLevel())
		return
	}
	logger.SetLevel(parsed)
}

func logMsg(name string, fn string, msg string) {
	logger.WithFields(logrus.Fields{"node": name, "fn": fn}).Debug(msg)
}

func logWarn(name string, fn string, msg string) {
	logger.WithFields(logrus.Fields{"node": name, "fn": fn}).Warn(msg)
}

func logError(name string, fn string, err error, msg string) {
	logger.WithFields(logrus.Fields{"node": name, "fn": fn}).WithError(err).Error(msg)
}

func logProtocolMessageHandlerError(handlerName string, peer string, err error, input any) {
	logger.WithFields(logrus.Fields{"handler": handlerName, "peer": peer, "input": input}).WithError(err).Warn("protocol message handler error")
}
