package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/apiprobe/apiprobe/pkg/auth"
	"github.com/apiprobe/apiprobe/pkg/cli/internal/output"
	"github.com/apiprobe/apiprobe/pkg/history"
	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/pkg/request"
	"github.com/apiprobe/apiprobe/pkg/scenario"
	"github.com/apiprobe/apiprobe/pkg/storage"
	"github.com/apiprobe/apiprobe/pkg/variables"
)

// App bundles the shared stores commands operate on. Everything hangs off
// one KV store rooted at the data directory; when the directory cannot be
// used the app degrades to in-memory stores and warns once.
type App struct {
	Log       *slog.Logger
	KV        storage.KV
	Vars      *variables.Store
	History   *history.Store
	Scenarios *scenario.Store
	Tokens    *auth.TokenSource
}

// newApp wires stores from the persistent flags.
func newApp() *App {
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(logLevel),
		Format: logging.FormatText,
		Output: os.Stderr,
	})

	kv := openKV(log)
	vars := variables.NewStore(
		variables.WithPersistence(kv),
		variables.WithLogger(log),
	)
	hist := history.NewStore(
		history.WithPersistence(kv),
		history.WithLogger(log),
	)
	tokens := auth.NewTokenSource(
		auth.WithStorage(kv),
		auth.WithLogger(log),
	)

	return &App{
		Log:       log,
		KV:        kv,
		Vars:      vars,
		History:   hist,
		Scenarios: scenario.NewStore(kv, log),
		Tokens:    tokens,
	}
}

// openKV opens the file-backed store under the data directory, falling
// back to memory when the directory is unusable.
func openKV(log *slog.Logger) storage.KV {
	dir := dataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			output.Warn("cannot determine home directory, state will not be saved: %v", err)
			return storage.NewMemory()
		}
		dir = filepath.Join(home, ".apiprobe")
	}

	kv, err := storage.NewFile(dir)
	if err != nil {
		output.Warn("cannot open data directory %s, state will not be saved: %v", dir, err)
		return storage.NewMemory()
	}
	log.Debug("using data directory", "dir", dir)
	return kv
}

// executor builds a request executor for the effective base URL.
func (a *App) executor(opts ...request.ExecutorOption) (*request.Executor, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("no base URL configured (use --base-url or APIPROBE_BASE_URL)")
	}
	opts = append([]request.ExecutorOption{
		request.WithTokenSource(a.Tokens),
		request.WithLogger(a.Log),
	}, opts...)
	return request.NewExecutor(baseURL, opts...), nil
}

func jsonOut(v any) error {
	return output.JSON(v)
}
