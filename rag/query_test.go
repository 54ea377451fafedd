package rag

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/searchflow/types"
)

const testToken = "vinapermitecriar"

func newTestProcessor() *QueryProcessor {
	return NewQueryProcessor(DefaultQueryProcessorConfig(), nil)
}

func TestQueryProcessor_EmptyQuery(t *testing.T) {
	p := newTestProcessor()
	for _, raw := range []string{"", "   ", "\t\n "} {
		_, err := p.Process(raw, nil, 0)
		require.Error(t, err)
		assert.Equal(t, types.ErrEmptyQuery, types.GetErrorCode(err))
		assert.True(t, types.IsValidation(err))
	}
}

func TestQueryProcessor_TopK(t *testing.T) {
	p := newTestProcessor()

	q, err := p.Process("react hooks", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, q.TopK)

	q, err = p.Process("react hooks", nil, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, q.TopK)

	for _, k := range []int{-1, 51} {
		_, err = p.Process("react hooks", nil, k)
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	}
}

func TestQueryProcessor_Authorization(t *testing.T) {
	p := newTestProcessor()

	tests := []struct {
		name       string
		raw        string
		authorized bool
		cleaned    string
	}{
		{"no token", "How to implement React hooks", false, "How to implement React hooks"},
		{"token prefix", testToken + " how to implement react hooks", true, "how to implement react hooks"},
		{"token repeated", "auth " + testToken + " flow " + testToken, true, "auth flow"},
		{"token embedded in word", "x" + testToken + "y setup", true, "x y setup"},
		{"case sensitive", strings.ToUpper(testToken) + " setup", false, strings.ToUpper(testToken) + " setup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := p.Process(tt.raw, nil, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.authorized, q.Authorized)
			assert.Equal(t, tt.cleaned, q.Cleaned)
			assert.Equal(t, strings.ToLower(tt.cleaned), q.Normalized)
			assert.Equal(t, tt.raw, q.Raw)
		})
	}
}

func TestQueryProcessor_TokenOnly(t *testing.T) {
	q, err := newTestProcessor().Process("  "+testToken+"  ", nil, 0)
	require.NoError(t, err)
	assert.True(t, q.Authorized)
	assert.Empty(t, q.Cleaned)
	assert.Empty(t, q.Keywords)
	assert.Equal(t, IntentGeneral, q.Intent)
}

func TestQueryProcessor_CustomToken(t *testing.T) {
	p := NewQueryProcessor(QueryProcessorConfig{AuthorizationToken: "open-sesame"}, nil)

	q, err := p.Process("open-sesame docs", nil, 0)
	require.NoError(t, err)
	assert.True(t, q.Authorized)

	q, err = p.Process(testToken+" docs", nil, 0)
	require.NoError(t, err)
	assert.False(t, q.Authorized)
}

func TestQueryProcessor_KeywordsAndFilters(t *testing.T) {
	q, err := newTestProcessor().Process("How to use the React   react Hooks?", Filters{"category": {"react", "react"}}, 5)
	require.NoError(t, err)
	assert.Equal(t, "how to use the react react hooks?", q.Normalized)
	assert.Equal(t, []string{"react", "hooks"}, q.Keywords)
	assert.Equal(t, Filters{"category": {"react"}}, q.Filters)
	assert.Equal(t, 5, q.TopK)
}

func TestQueryProcessor_Intent(t *testing.T) {
	p := newTestProcessor()
	tests := []struct {
		raw  string
		want Intent
	}{
		{"how to implement jwt auth", IntentImplementation},
		{"documentação da api de rotas", IntentDocumentation},
		{"show me an example snippet", IntentExample},
		{"error when building the app, not working", IntentTroubleshooting},
		{"tailwind colors", IntentGeneral},
		{"implementation", IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			q, err := p.Process(tt.raw, nil, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Intent)
		})
	}
}

func TestQueryProcessor_StacksAndCategories(t *testing.T) {
	q, err := newTestProcessor().Process("Next.js app router middleware redirect with TypeScript", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"nextjs", "typescript"}, q.Stacks)
	assert.Equal(t, []string{"routing"}, q.Categories)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t,
		[]string{"next.js", "and", "c++", "or", "c#", "go"},
		Tokenize("Next.js and C++ or C#! ...go-"),
	)
	assert.Empty(t, Tokenize("  ... --- "))
}

func TestExtractKeywords(t *testing.T) {
	assert.Equal(t, []string{"react", "hooks", "useeffect"}, ExtractKeywords("the react react a hooks x useEffect"))
	assert.Equal(t, []string{"implementar", "autenticação"}, ExtractKeywords("como implementar a autenticação"))
}

func TestContainsPhrase(t *testing.T) {
	assert.True(t, containsPhrase("how to build it", "build"))
	assert.False(t, containsPhrase("rebuilding", "build"))
	assert.True(t, containsPhrase("it is not working today", "not working"))
	assert.True(t, containsPhrase("next.js docs", "next"))
	assert.False(t, containsPhrase("", "api"))
}

func TestQueryProcessor_Properties(t *testing.T) {
	p := newTestProcessor()
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("normalized text is trimmed and single-spaced", prop.ForAll(
		func(raw string) bool {
			q, err := p.Process(raw, nil, 0)
			if err != nil {
				return strings.TrimSpace(raw) == ""
			}
			return q.Normalized == strings.TrimSpace(q.Normalized) &&
				!strings.Contains(q.Normalized, "  ") &&
				q.Normalized == strings.ToLower(q.Cleaned)
		},
		gen.AnyString(),
	))

	properties.Property("token is detected and never left in cleaned text", prop.ForAll(
		func(before, after string, include bool) bool {
			raw := before + " " + after
			if include {
				raw = before + testToken + after
			}
			q, err := p.Process(raw, nil, 0)
			if err != nil {
				return strings.TrimSpace(raw) == ""
			}
			return q.Authorized == include && !strings.Contains(q.Cleaned, testToken)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.Property("keywords are unique and never stopwords", prop.ForAll(
		func(raw string) bool {
			seen := map[string]bool{}
			for _, kw := range ExtractKeywords(raw) {
				if seen[kw] {
					return false
				}
				if _, stop := stopwords[kw]; stop {
					return false
				}
				seen[kw] = true
			}
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
