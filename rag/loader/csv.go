package loader

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/searchflow/rag"
)

// CSVLoaderConfig configures the CSV loader.
type CSVLoaderConfig struct {
	// Delimiter is the field separator. Defaults to ','.
	Delimiter rune
	// TextColumn names the body column. Defaults to "text", then "content".
	TextColumn string
	// EmbeddingColumn holds a JSON array of numbers. Defaults to "embedding".
	EmbeddingColumn string
}

// CSVLoader loads CSV files. The first row is the header; each following row
// becomes one item. Unknown columns land in metadata as strings.
type CSVLoader struct {
	config CSVLoaderConfig
}

// NewCSVLoader creates a CSVLoader with the given config.
func NewCSVLoader(config CSVLoaderConfig) *CSVLoader {
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	if config.EmbeddingColumn == "" {
		config.EmbeddingColumn = "embedding"
	}
	return &CSVLoader{config: config}
}

// Load reads a CSV file and returns items.
func (l *CSVLoader) Load(ctx context.Context, source string) ([]rag.CorpusItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("csv loader: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = l.config.Delimiter
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv loader: parsing %s: %w", source, err)
	}
	if len(records) < 2 {
		return []rag.CorpusItem{}, nil
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	textCol := l.resolveTextColumn(header)
	if textCol < 0 {
		return nil, fmt.Errorf("csv loader: %s has no text column", source)
	}

	items := make([]rag.CorpusItem, 0, len(records)-1)
	for row, rec := range records[1:] {
		it := rag.CorpusItem{Metadata: make(map[string]any)}
		for i, v := range rec {
			if i >= len(header) {
				break
			}
			switch {
			case i == textCol:
				it.Text = v
			case header[i] == "id":
				it.ID = strings.TrimSpace(v)
			case header[i] == l.config.EmbeddingColumn:
				if strings.TrimSpace(v) == "" {
					continue
				}
				if err := json.Unmarshal([]byte(v), &it.Embedding); err != nil {
					return nil, fmt.Errorf("csv loader: row %d in %s: embedding: %w", row+1, source, err)
				}
			case v != "":
				it.Metadata[header[i]] = v
			}
		}
		if strings.TrimSpace(it.Text) == "" {
			return nil, fmt.Errorf("csv loader: row %d in %s: empty text", row+1, source)
		}
		if it.ID == "" {
			origin := filepath.Base(source)
			if s := it.SourceURL(); s != "" {
				origin = s
			}
			it.ID = StableID(origin, it.Text)
		}
		items = append(items, it)
	}
	return items, nil
}

func (l *CSVLoader) resolveTextColumn(header []string) int {
	candidates := []string{"text", "content"}
	if l.config.TextColumn != "" {
		candidates = []string{strings.ToLower(l.config.TextColumn)}
	}
	for _, want := range candidates {
		for i, h := range header {
			if h == want {
				return i
			}
		}
	}
	return -1
}

// SupportedTypes returns the extensions handled by CSVLoader.
func (l *CSVLoader) SupportedTypes() []string {
	return []string{".csv"}
}
