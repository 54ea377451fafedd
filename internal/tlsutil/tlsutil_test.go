package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.ElementsMatch(t, aeadSuites, cfg.CipherSuites)

	cfg.CipherSuites[0] = 0
	assert.NotEqual(t, uint16(0), DefaultTLSConfig().CipherSuites[0], "each call returns a fresh copy")
}

func TestSharedTransport(t *testing.T) {
	tr := SharedTransport()
	require.NotNil(t, tr.TLSClientConfig)
	assert.Same(t, tr, SharedTransport())
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.NotNil(t, tr.Proxy)
	assert.Equal(t, 16, tr.MaxIdleConnsPerHost)
}

func TestHTTPClient(t *testing.T) {
	tests := []struct {
		url    string
		shared bool
	}{
		{"https://api.openai.com", true},
		{"HTTPS://api.cohere.ai/", true},
		{"http://127.0.0.1:6333", false},
		{"localhost:6333", false},
		{"", false},
	}
	for _, tt := range tests {
		c := HTTPClient(tt.url, 5*time.Second)
		assert.Equal(t, 5*time.Second, c.Timeout, tt.url)
		if tt.shared {
			assert.Same(t, SharedTransport(), c.Transport.(*http.Transport), tt.url)
		} else {
			assert.Nil(t, c.Transport, tt.url)
		}
	}
}
