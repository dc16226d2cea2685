package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/Amund211/stockpile/internal/adapters/backend"
	"github.com/Amund211/stockpile/internal/adapters/database"
	"github.com/Amund211/stockpile/internal/logging"
)

// contentTypeFor guesses from the extension first, then from the contents
func contentTypeFor(name string, data []byte) string {
	if contentType := mime.TypeByExtension(path.Ext(name)); contentType != "" {
		return contentType
	}
	return http.DetectContentType(data)
}

// importAssets stores every regular file in fsys under its slash separated path.
// Returns the number of assets stored.
func importAssets(ctx context.Context, fsys fs.FS, store backend.AssetStore, labels []string, logger *slog.Logger) (int, error) {
	imported := 0
	err := fs.WalkDir(fsys, ".", func(name string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || strings.HasPrefix(path.Base(name), ".") {
			return nil
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}

		asset := backend.StoredAsset{
			Address:     name,
			Labels:      labels,
			ContentType: contentTypeFor(name, data),
			Data:        data,
		}
		if err := store.PutAsset(ctx, asset); err != nil {
			return fmt.Errorf("failed to store %s: %w", name, err)
		}

		logger.Info("Imported asset", "address", name, "size", len(data), "contentType", asset.ContentType)
		imported++
		return nil
	})
	return imported, err
}

func parseLabels(raw string) []string {
	labels := []string{}
	for label := range strings.SplitSeq(raw, ",") {
		if label = strings.TrimSpace(label); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}

func main() {
	dir := flag.String("dir", "", "directory to import")
	rawLabels := flag.String("labels", "", "comma separated labels to attach to every asset")
	production := flag.Bool("production", false, "import into the production schema")
	flag.Parse()

	logger := logging.NewServiceLogger(os.Stdout, slog.LevelInfo).With("command", "import-assets")

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	if *dir == "" {
		fail("No directory provided")
	}

	connectionString := database.LOCAL_CONNECTION_STRING
	if host := os.Getenv("DB_HOST"); host != "" {
		connectionString = database.ConnectionString(os.Getenv("DB_USERNAME"), os.Getenv("DB_PASSWORD"), host)
	}

	db, err := database.NewPostgresDatabase(connectionString)
	if err != nil {
		fail("Failed to connect to database", "error", err.Error())
	}
	defer db.Close()

	ctx := context.Background()
	schemaName := database.GetSchemaName(!*production)

	err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, schemaName)
	if err != nil {
		fail("Failed to migrate database", "error", err.Error())
	}

	store := backend.NewPostgresStore(db, schemaName)

	imported, err := importAssets(ctx, os.DirFS(*dir), store, parseLabels(*rawLabels), logger)
	if err != nil {
		fail("Failed to import assets", "error", err.Error(), "imported", imported)
	}
	logger.Info("Import complete", "imported", imported, "schema", schemaName)
}
