package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/governance"
)

const scanCorpusFixture = `{"id":"1","text":"Use React hooks for state","category":"react","source":"react-docs"}
{"id":"2","text":"componentWillMount() runs before render","category":"react","source":"old-blog"}
{"id":"3","text":"FROM node:10\nMAINTAINER ops","category":"docker","source":"dockerfiles"}
`

func TestScanCorpus_Text(t *testing.T) {
	path := writeCorpus(t, scanCorpusFixture)

	var out bytes.Buffer
	_, err := scanCorpus(context.Background(), &out, scanOptions{CorpusPath: path, Format: "text", NoColor: true}, zap.NewNop())
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "Scanned 3 items from 3 sources")
	assert.Contains(t, s, "Affected sources")
	assert.Contains(t, s, "dockerfiles")
	assert.Contains(t, s, "old-blog")
	assert.NotContains(t, s, "\x1b[", "no-color output carries no escape codes")
}

func TestScanCorpus_Clean(t *testing.T) {
	path := writeCorpus(t, `{"id":"1","text":"Use React hooks for state","source":"react-docs"}`+"\n")

	var out bytes.Buffer
	critical, err := scanCorpus(context.Background(), &out, scanOptions{CorpusPath: path, NoColor: true}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, critical)
	assert.Contains(t, out.String(), "No obsolete content found")
}

func TestScanCorpus_ExportFormats(t *testing.T) {
	path := writeCorpus(t, scanCorpusFixture)

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		_, err := scanCorpus(context.Background(), &out, scanOptions{CorpusPath: path, Format: "json"}, zap.NewNop())
		require.NoError(t, err)

		var rep governance.Report
		require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
		require.NotNil(t, rep.Obsolescence)
		assert.Equal(t, 3, rep.Obsolescence.TotalSourcesScanned)
		assert.Positive(t, rep.Obsolescence.TotalDetections)
	})

	t.Run("markdown", func(t *testing.T) {
		var out bytes.Buffer
		_, err := scanCorpus(context.Background(), &out, scanOptions{CorpusPath: path, Format: "md"}, zap.NewNop())
		require.NoError(t, err)
		assert.Contains(t, out.String(), "# Governance Report")
	})

	t.Run("unsupported", func(t *testing.T) {
		var out bytes.Buffer
		_, err := scanCorpus(context.Background(), &out, scanOptions{CorpusPath: path, Format: "pdf"}, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestScanCorpus_MissingFile(t *testing.T) {
	_, err := scanCorpus(context.Background(), &bytes.Buffer{}, scanOptions{CorpusPath: "does/not/exist.jsonl"}, zap.NewNop())
	assert.Error(t, err)
}

func TestFetchReport(t *testing.T) {
	var gotQuery, gotKey, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-API-Key")
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/v1/governance/export" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte("# Governance Report\n"))
	}))
	defer upstream.Close()

	var out bytes.Buffer
	err := fetchReport(context.Background(), upstream.Client(), &out, upstream.URL+"/", "markdown", "k1", "tok")
	require.NoError(t, err)

	assert.Equal(t, "format=markdown", gotQuery)
	assert.Equal(t, "k1", gotKey)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "# Governance Report\n", out.String())
}

func TestFetchReport_Errors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"success":false}`, http.StatusUnauthorized)
	}))
	defer upstream.Close()

	err := fetchReport(context.Background(), upstream.Client(), &bytes.Buffer{}, upstream.URL, "json", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	err = fetchReport(context.Background(), upstream.Client(), &bytes.Buffer{}, upstream.URL, "pdf", "", "")
	assert.Error(t, err)
}
