package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"

	_ "github.com/mattn/go-sqlite3"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/lifecycle"
)

// Session holds the device keys of the single account this service runs
// as. They persist across restarts so pairing is only needed once.
type Session struct {
	container *sqlstore.Container
	log       *slog.Logger
}

// OpenSession opens or creates the session database at path.
func OpenSession(ctx context.Context, path string, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "whatsapp")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	dbLog := &slogAdapter{log: log.With("module", "whatsmeow-db")}
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path), dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	return &Session{container: container, log: log}, nil
}

// Close closes the session database.
func (s *Session) Close() error {
	return s.container.Close()
}

// Factory returns a lifecycle.ClientFactory creating clients on the stored
// device. Every client gets its own whatsmeow instance.
func (s *Session) Factory(cache Cache) lifecycle.ClientFactory {
	return func(sink lifecycle.Sink) (lifecycle.Client, error) {
		device, err := s.container.GetFirstDevice(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to get device store: %w", err)
		}

		cli := whatsmeow.NewClient(device, &slogAdapter{log: s.log.With("module", "whatsmeow")})
		return newClient(cli, cache, sink, s.log), nil
	}
}
