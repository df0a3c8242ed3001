package whatsapp

import (
	"fmt"
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/sipeed/wagate/pkg/logger"
)

var levels = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

// logBridge routes whatsmeow's logging into the gateway logger, dropping
// anything below min.
type logBridge struct {
	module string
	min    int
}

func newLogBridge(module, minLevel string) waLog.Logger {
	floor, ok := levels[strings.ToUpper(strings.TrimSpace(minLevel))]
	if !ok {
		floor = levels["WARN"]
	}
	return &logBridge{module: module, min: floor}
}

func (l *logBridge) fields() map[string]interface{} {
	return map[string]interface{}{"module": l.module}
}

func (l *logBridge) Debugf(msg string, args ...interface{}) {
	if l.min <= 0 {
		logger.DebugCF("whatsmeow", fmt.Sprintf(msg, args...), l.fields())
	}
}

func (l *logBridge) Infof(msg string, args ...interface{}) {
	if l.min <= 1 {
		logger.InfoCF("whatsmeow", fmt.Sprintf(msg, args...), l.fields())
	}
}

func (l *logBridge) Warnf(msg string, args ...interface{}) {
	if l.min <= 2 {
		logger.WarnCF("whatsmeow", fmt.Sprintf(msg, args...), l.fields())
	}
}

func (l *logBridge) Errorf(msg string, args ...interface{}) {
	logger.ErrorCF("whatsmeow", fmt.Sprintf(msg, args...), l.fields())
}

func (l *logBridge) Sub(module string) waLog.Logger {
	return &logBridge{module: l.module + "/" + module, min: l.min}
}
