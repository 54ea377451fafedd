package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/BaSui01/searchflow/rag"
)

// corpusNamespace scopes generated item ids.
var corpusNamespace = uuid.MustParse("6f1c9a52-3d0e-4b7a-9a5e-3c2f1b8d7e40")

// CorpusLoader reads one corpus source into items.
type CorpusLoader interface {
	// Load reads the source and returns items in file order.
	Load(ctx context.Context, source string) ([]rag.CorpusItem, error)

	// SupportedTypes returns the file extensions this loader handles (e.g. ".json").
	SupportedTypes() []string
}

// LoaderRegistry routes Load calls to the appropriate CorpusLoader based on file extension.
type LoaderRegistry struct {
	mu      sync.RWMutex
	loaders map[string]CorpusLoader // extension (lowercase, with dot) -> loader
}

// NewLoaderRegistry creates a registry pre-populated with the built-in loaders.
func NewLoaderRegistry() *LoaderRegistry {
	r := &LoaderRegistry{
		loaders: make(map[string]CorpusLoader),
	}

	builtins := []CorpusLoader{
		NewJSONLoader(JSONLoaderConfig{}),
		NewCSVLoader(CSVLoaderConfig{}),
	}
	for _, l := range builtins {
		for _, ext := range l.SupportedTypes() {
			r.loaders[strings.ToLower(ext)] = l
		}
	}
	return r
}

// Register adds or replaces a loader for the given file extension.
// ext should include the leading dot (e.g. ".ndjson").
func (r *LoaderRegistry) Register(ext string, loader CorpusLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(ext)] = loader
}

// Load determines the loader from the source's file extension and delegates to it.
func (r *LoaderRegistry) Load(ctx context.Context, source string) ([]rag.CorpusItem, error) {
	ext := strings.ToLower(filepath.Ext(source))
	if ext == "" {
		return nil, fmt.Errorf("loader: cannot determine file type for %q (no extension)", source)
	}

	r.mu.RLock()
	l, ok := r.loaders[ext]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("loader: no loader registered for extension %q", ext)
	}
	return l.Load(ctx, source)
}

// SupportedTypes returns all registered extensions, sorted.
func (r *LoaderRegistry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supportedLocked()
}

func (r *LoaderRegistry) supportedLocked() []string {
	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// LoadCorpus loads a corpus file, or every supported file directly inside a
// directory in name order, and fails on duplicate ids across all of them.
func LoadCorpus(ctx context.Context, path string) ([]rag.CorpusItem, error) {
	reg := NewLoaderRegistry()
	files, err := reg.corpusFiles(path)
	if err != nil {
		return nil, err
	}

	var items []rag.CorpusItem
	origin := make(map[string]string)
	for _, file := range files {
		loaded, err := reg.Load(ctx, file)
		if err != nil {
			return nil, err
		}
		for i, it := range loaded {
			where := fmt.Sprintf("%s record %d", filepath.Base(file), i)
			if prev, dup := origin[it.ID]; dup {
				return nil, fmt.Errorf("loader: duplicate item id %q (%s and %s)", it.ID, prev, where)
			}
			origin[it.ID] = where
		}
		items = append(items, loaded...)
	}
	return items, nil
}

func (r *LoaderRegistry) corpusFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read corpus dir: %w", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, ok := r.loaders[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("loader: no corpus files in %s (supported: %s)", path, strings.Join(r.supportedLocked(), ", "))
	}
	return files, nil
}

// StableID derives a deterministic id from the record source and its text,
// so reloading the same file yields the same ids.
func StableID(source, text string) string {
	return uuid.NewSHA1(corpusNamespace, []byte(source+"\x00"+text)).String()
}
