package views

import "go.uber.org/zap"

// Notifier presents transient messages to the user.
type Notifier interface {
	Loading(msg string)
	Success(msg string)
	Error(msg string, err error)
}

type nopNotifier struct{}

func (nopNotifier) Loading(string)      {}
func (nopNotifier) Success(string)      {}
func (nopNotifier) Error(string, error) {}

// LogNotifier writes notifications to a zap logger. The CLI uses it.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Loading(msg string) { n.logger.Debug(msg) }

func (n *LogNotifier) Success(msg string) { n.logger.Info(msg) }

func (n *LogNotifier) Error(msg string, err error) { n.logger.Error(msg, zap.Error(err)) }
