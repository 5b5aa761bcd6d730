package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogAdapter routes whatsmeow's printf style logging into slog.
type slogAdapter struct {
	log *slog.Logger
}

var _ waLog.Logger = (*slogAdapter)(nil)

func (s *slogAdapter) logf(level slog.Level, msg string, args []interface{}) {
	// whatsmeow logs every frame at debug; skip formatting when it is off.
	if !s.log.Enabled(context.Background(), level) {
		return
	}
	s.log.Log(context.Background(), level, fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Debugf(msg string, args ...interface{}) { s.logf(slog.LevelDebug, msg, args) }
func (s *slogAdapter) Infof(msg string, args ...interface{})  { s.logf(slog.LevelInfo, msg, args) }
func (s *slogAdapter) Warnf(msg string, args ...interface{})  { s.logf(slog.LevelWarn, msg, args) }
func (s *slogAdapter) Errorf(msg string, args ...interface{}) { s.logf(slog.LevelError, msg, args) }

func (s *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{log: s.log.With("module", module)}
}
