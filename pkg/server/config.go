package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gorelay/pkg/datastore"
	"github.com/NicolasHaas/gorelay/pkg/model"
)

// BansExport is the top-level YAML document for ban export and import.
type BansExport struct {
	Bans []model.Ban `yaml:"bans"`
}

// ExportBansYAML exports every persisted ban as YAML.
func ExportBansYAML(ctx context.Context, st datastore.BanReadProvider) ([]byte, error) {
	bans, err := st.ListBans(ctx)
	if err != nil {
		return nil, fmt.Errorf("export bans: %w", err)
	}
	return yaml.Marshal(&BansExport{Bans: bans})
}

// LoadBansFromYAML reads a bans YAML file and stores every entry.
func LoadBansFromYAML(ctx context.Context, path string, st datastore.BanWriteProvider) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI argument
	if err != nil {
		return 0, fmt.Errorf("read bans file: %w", err)
	}
	return ImportBansYAML(ctx, data, st)
}

// ImportBansYAML parses YAML produced by ExportBansYAML and upserts each ban.
// Entries without a creation time are stamped with the current time.
func ImportBansYAML(ctx context.Context, data []byte, st datastore.BanWriteProvider) (int, error) {
	var doc BansExport
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse bans file: %w", err)
	}

	n := 0
	for _, b := range doc.Bans {
		if b.CreatedAt.IsZero() {
			b.CreatedAt = time.Now().UTC().Truncate(time.Second)
		}
		if err := st.CreateBan(ctx, b); err != nil {
			return n, fmt.Errorf("import ban %s %q: %w", b.Kind, b.Value, err)
		}
		n++
	}
	slog.Info("imported bans from YAML", "count", n)
	return n, nil
}
