package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGTERM, syscall.SIGINT)

	return gracefulShutdown
}

// ListenForShutdown blocks until a termination signal arrives, runs signalHandler and then waits
// for either drained to close or timeToWait to elapse, whichever comes first.
func ListenForShutdown(
	signalChan chan os.Signal,
	drained <-chan struct{},
	signalHandler func(),
	timeToWait time.Duration,
	l *zap.Logger,
) {
	sig := <-signalChan
	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		l.Sugar().Infof("caught signal %v", sig)

		signalHandler()

		l.Sugar().Infof("Waiting up to %v seconds for in-flight work...", timeToWait.Seconds())
		select {
		case <-drained:
			l.Sugar().Infof("In-flight work drained")
		case <-time.After(timeToWait):
			l.Sugar().Warnf("Timed out waiting for in-flight work")
		}

		l.Sugar().Infof("Exiting")
	}
}
