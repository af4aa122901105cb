package badger

import (
	"fmt"
	"log/slog"
	"strings"
)

// slogAdapter satisfies badger.Logger by forwarding to slog.
type slogAdapter struct{ log *slog.Logger }

func msg(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.log.Error(msg(format, args...))
}

func (a slogAdapter) Warningf(format string, args ...any) {
	a.log.Warn(msg(format, args...))
}

func (a slogAdapter) Infof(format string, args ...any) {
	a.log.Info(msg(format, args...))
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.log.Debug(msg(format, args...))
}
