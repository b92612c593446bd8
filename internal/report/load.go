package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/vincentbai/navtrace/internal/database"
	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/store"
)

// defaultInputs are the store files looked for when no input is given.
var defaultInputs = []string{
	models.TrackingMobile.DefaultFileName(),
	models.TrackingURL.DefaultFileName(),
	"url-tracking.json",
}

// DiscoverInputs lists the default store files present in dir.
func DiscoverInputs(dir string) []string {
	var found []string
	for _, name := range defaultInputs {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			found = append(found, path)
		}
	}
	return found
}

// Load reads the given store files concurrently and returns their sessions
// in argument order. Unlike the persister, which heals a corrupt store, the
// report treats an unreadable input as fatal.
func Load(ctx context.Context, paths ...string) ([]models.Session, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input files")
	}
	results := make([][]models.Session, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("failed to open input: %w", err)
			}
			sessions, err := store.ReadFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = sessions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.Session
	for _, sessions := range results {
		all = append(all, sessions...)
	}
	return all, nil
}

// LoadDatabase reads every session indexed in a navtrace database.
func LoadDatabase(path string) ([]models.Session, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db, err := database.NewDatabase(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Sessions()
}
