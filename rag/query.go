package rag

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/types"
)

// Intent is the coarse purpose detected in a query.
type Intent string

const (
	IntentImplementation  Intent = "implementation"
	IntentDocumentation   Intent = "documentation"
	IntentExample         Intent = "example"
	IntentTroubleshooting Intent = "troubleshooting"
	IntentGeneral         Intent = "general"
)

// Query is the structured form of a raw query string. It lives for one request.
type Query struct {
	Raw string
	// Normalized is Cleaned lowercased; it identifies the query in cache keys and stats.
	Normalized string
	// Cleaned is the raw text without authorization tokens and with collapsed whitespace.
	// It is the text embedded by the vector channel.
	Cleaned    string
	Keywords   []string
	Authorized bool
	Intent     Intent
	Stacks     []string
	Categories []string
	Filters    Filters
	TopK       int

	// Caller context forwarded to the reranker.
	Module   string
	TaskHint string
}

// QueryProcessorConfig configures a QueryProcessor.
type QueryProcessorConfig struct {
	AuthorizationToken string
	DefaultTopK        int
	MaxTopK            int
}

// DefaultQueryProcessorConfig returns the default query processor settings.
func DefaultQueryProcessorConfig() QueryProcessorConfig {
	return QueryProcessorConfig{
		AuthorizationToken: "vinapermitecriar",
		DefaultTopK:        8,
		MaxTopK:            50,
	}
}

// QueryProcessor turns raw query strings into Query values. It is stateless
// and safe for concurrent use.
type QueryProcessor struct {
	cfg    QueryProcessorConfig
	logger *zap.Logger
}

// NewQueryProcessor creates a processor. Zero limits fall back to the defaults.
func NewQueryProcessor(cfg QueryProcessorConfig, logger *zap.Logger) *QueryProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultQueryProcessorConfig()
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = def.MaxTopK
	}
	if cfg.DefaultTopK > cfg.MaxTopK {
		cfg.DefaultTopK = cfg.MaxTopK
	}
	return &QueryProcessor{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "query_processor")),
	}
}

// Process validates and structures raw. topK 0 selects the default; values
// outside 1..MaxTopK are rejected. Empty or whitespace-only input fails with
// EMPTY_QUERY.
//
// Token detection is a case-sensitive substring match, so the token also counts
// when embedded inside a longer word. Every occurrence is removed from Cleaned.
func (p *QueryProcessor) Process(raw string, filters Filters, topK int) (*Query, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, types.NewEmptyQueryError()
	}
	if topK == 0 {
		topK = p.cfg.DefaultTopK
	}
	if topK < 0 || topK > p.cfg.MaxTopK {
		return nil, types.NewInvalidRequestError("top_k must be between 1 and " + strconv.Itoa(p.cfg.MaxTopK))
	}

	authorized := false
	text := raw
	if tok := p.cfg.AuthorizationToken; tok != "" && strings.Contains(raw, tok) {
		authorized = true
		text = strings.ReplaceAll(raw, tok, " ")
	}

	cleaned := strings.Join(strings.Fields(text), " ")
	normalized := strings.ToLower(cleaned)

	q := &Query{
		Raw:        raw,
		Normalized: normalized,
		Cleaned:    cleaned,
		Keywords:   ExtractKeywords(normalized),
		Authorized: authorized,
		Intent:     detectIntent(normalized),
		Stacks:     detectLabels(normalized, stackKeywords),
		Categories: detectLabels(normalized, categoryKeywords),
		Filters:    filters.Normalize(),
		TopK:       topK,
	}

	p.logger.Debug("query processed",
		zap.Bool("authorized", q.Authorized),
		zap.String("intent", string(q.Intent)),
		zap.Int("keywords", len(q.Keywords)),
		zap.Int("top_k", q.TopK),
	)
	return q, nil
}

// ExtractKeywords tokenizes lowercased text into deduplicated keywords,
// dropping stopwords and tokens shorter than two runes.
func ExtractKeywords(text string) []string {
	tokens := Tokenize(text)
	out := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Tokenize splits lowercased text into terms. Letters, digits and the
// characters . - + # stay inside a term so that next.js, c++ and c# survive.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '+' || r == '#')
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".-")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// =============================================================================
// 🧭 Intent and context detection
// =============================================================================

var intentOrder = []Intent{IntentImplementation, IntentDocumentation, IntentExample, IntentTroubleshooting}

var intentPatterns = map[Intent][]string{
	IntentImplementation: {
		"como implementar", "como fazer", "implementação", "implementacao", "código para",
		"exemplo de código", "tutorial", "how to", "implement", "build", "create", "criar",
		"setup", "configure", "integrate",
	},
	IntentDocumentation: {
		"documentação", "documentacao", "referência", "referencia", "api", "propriedades",
		"parâmetros", "props", "docs", "documentation", "reference", "parameters", "what is",
	},
	IntentExample: {
		"exemplo", "example", "sample", "demo", "showcase", "template", "snippet",
	},
	IntentTroubleshooting: {
		"erro", "error", "problema", "problem", "bug", "não funciona", "not working", "fix",
		"solução", "issue", "fails", "crash", "debug",
	},
}

var stackKeywords = []labelKeywords{
	{"nextjs", []string{"next.js", "nextjs", "next", "app router", "pages router"}},
	{"react", []string{"react", "jsx", "tsx", "component", "hook", "state"}},
	{"typescript", []string{"typescript", "ts", "type", "interface", "generic"}},
	{"tailwind", []string{"tailwind", "css", "styling", "classes", "responsive"}},
	{"shadcn", []string{"shadcn", "shadcn/ui", "radix", "ui components"}},
	{"prisma", []string{"prisma", "orm", "database", "schema", "migration"}},
	{"auth", []string{"auth", "authentication", "login", "oauth", "jwt", "session"}},
}

var categoryKeywords = []labelKeywords{
	{"ui_components", []string{"component", "button", "form", "input", "dialog", "modal"}},
	{"routing", []string{"route", "navigation", "link", "redirect", "middleware"}},
	{"data_fetching", []string{"fetch", "api", "swr", "query", "mutation", "cache"}},
	{"styling", []string{"css", "style", "theme", "design", "layout", "responsive"}},
	{"authentication", []string{"auth", "login", "user", "session", "permission"}},
	{"database", []string{"database", "sql", "query", "model", "schema", "migration"}},
}

type labelKeywords struct {
	label    string
	keywords []string
}

// containsPhrase matches a pattern on token boundaries; multi-word patterns
// match as a contiguous token run.
func containsPhrase(text, pattern string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], pattern)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(pattern)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		idx = start + 1
		if idx >= len(text) {
			return false
		}
	}
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// detectIntent picks the intent with the most pattern hits. Ties go to the
// earlier intent in intentOrder; no hits means general.
func detectIntent(normalized string) Intent {
	best, bestScore := IntentGeneral, 0
	for _, intent := range intentOrder {
		score := 0
		for _, p := range intentPatterns[intent] {
			if containsPhrase(normalized, p) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = intent, score
		}
	}
	return best
}

func detectLabels(normalized string, table []labelKeywords) []string {
	var out []string
	for _, lk := range table {
		for _, kw := range lk.keywords {
			if containsPhrase(normalized, kw) {
				out = append(out, lk.label)
				break
			}
		}
	}
	return out
}

var stopwords = toSet(
	// en
	"a", "an", "and", "are", "as", "at", "be", "by", "can", "do", "does", "for", "from",
	"how", "i", "in", "into", "is", "it", "its", "me", "my", "of", "on", "or", "should",
	"that", "the", "their", "this", "to", "use", "using", "was", "what", "when", "where",
	"which", "who", "why", "will", "with", "you", "your",
	// pt
	"o", "os", "as", "um", "uma", "uns", "umas", "de", "do", "da", "dos", "das", "em", "no",
	"na", "nos", "nas", "por", "para", "com", "sem", "que", "e", "ou", "se", "como", "qual",
	"quais", "meu", "minha", "seu", "sua", "ao", "aos", "à", "às", "é", "são", "ser",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
