package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/searchflow/rag"
)

// JSONLoaderConfig configures the JSON/JSONL loader.
type JSONLoaderConfig struct {
	// TextField names the body field. Defaults to "text", then "content".
	TextField string
	// IDField names the id field. Defaults to "id".
	IDField string
	// EmbeddingField names the vector field. Defaults to "embedding".
	EmbeddingField string
}

// JSONLoader loads JSON (single object or array) and JSONL files.
// Fields other than id, text and embedding are merged into the item
// metadata; an explicit "metadata" object wins over top-level fields.
type JSONLoader struct {
	config JSONLoaderConfig
}

// NewJSONLoader creates a JSONLoader.
func NewJSONLoader(config JSONLoaderConfig) *JSONLoader {
	if config.IDField == "" {
		config.IDField = "id"
	}
	if config.EmbeddingField == "" {
		config.EmbeddingField = "embedding"
	}
	return &JSONLoader{config: config}
}

// Load reads a JSON or JSONL file and returns items.
func (l *JSONLoader) Load(ctx context.Context, source string) ([]rag.CorpusItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ToLower(filepath.Ext(source)) == ".jsonl" {
		return l.loadJSONL(ctx, source)
	}
	return l.loadJSON(source)
}

// loadJSON handles .json files (single object or array).
func (l *JSONLoader) loadJSON(source string) ([]rag.CorpusItem, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("json loader: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []rag.CorpusItem{}, nil
	}

	if data[0] == '[' {
		var records []map[string]any
		if err := decode(data, &records); err != nil {
			return nil, fmt.Errorf("json loader: parsing array in %s: %w", source, err)
		}
		return l.toItems(source, records)
	}

	var obj map[string]any
	if err := decode(data, &obj); err != nil {
		return nil, fmt.Errorf("json loader: parsing object in %s: %w", source, err)
	}
	return l.toItems(source, []map[string]any{obj})
}

// loadJSONL handles .jsonl files (one JSON object per line).
func (l *JSONLoader) loadJSONL(ctx context.Context, source string) ([]rag.CorpusItem, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("jsonl loader: %w", err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	// Records carry embeddings, so lines are long.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]any
		if err := decode(line, &obj); err != nil {
			return nil, fmt.Errorf("jsonl loader: line %d in %s: %w", lineNum, source, err)
		}
		records = append(records, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonl loader: reading %s: %w", source, err)
	}
	return l.toItems(source, records)
}

// decode keeps numbers as json.Number so ids and versions survive intact.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (l *JSONLoader) toItems(source string, records []map[string]any) ([]rag.CorpusItem, error) {
	items := make([]rag.CorpusItem, 0, len(records))
	for i, rec := range records {
		it, err := l.toItem(source, rec)
		if err != nil {
			return nil, fmt.Errorf("json loader: record %d in %s: %w", i, source, err)
		}
		items = append(items, it)
	}
	return items, nil
}

func (l *JSONLoader) toItem(source string, rec map[string]any) (rag.CorpusItem, error) {
	textField := l.config.TextField
	if textField == "" {
		textField = "text"
		if _, ok := rec[textField]; !ok {
			textField = "content"
		}
	}

	text := stringValue(rec[textField])
	if strings.TrimSpace(text) == "" {
		return rag.CorpusItem{}, fmt.Errorf("missing %q field", textField)
	}

	emb, err := toVector(rec[l.config.EmbeddingField])
	if err != nil {
		return rag.CorpusItem{}, fmt.Errorf("field %q: %w", l.config.EmbeddingField, err)
	}

	meta := make(map[string]any)
	for k, v := range rec {
		switch k {
		case l.config.IDField, textField, l.config.EmbeddingField, "metadata":
			continue
		}
		meta[k] = plain(v)
	}
	if nested, ok := rec["metadata"].(map[string]any); ok {
		for k, v := range nested {
			meta[k] = plain(v)
		}
	}

	it := rag.CorpusItem{
		ID:        stringValue(rec[l.config.IDField]),
		Text:      text,
		Embedding: emb,
		Metadata:  meta,
	}
	if it.ID == "" {
		origin := filepath.Base(source)
		if s := it.SourceURL(); s != "" {
			origin = s
		}
		it.ID = StableID(origin, text)
	}
	return it, nil
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// plain turns json.Number values back into int64 or float64 so metadata
// looks the same as after a regular decode.
func plain(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	default:
		return v
	}
}

func toVector(v any) ([]float32, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of numbers, got %T", v)
	}
	out := make([]float32, len(arr))
	for i, e := range arr {
		n, ok := e.(json.Number)
		if !ok {
			return nil, fmt.Errorf("element %d is %T, not a number", i, e)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// SupportedTypes returns the extensions handled by JSONLoader.
func (l *JSONLoader) SupportedTypes() []string {
	return []string{".json", ".jsonl"}
}
