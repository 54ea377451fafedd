package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/searchflow/types"
)

// postJSON sends body to url and returns the response body. Failures are
// JUDGMENT_UNAVAILABLE errors wrapping the upstream cause.
func postJSON(ctx context.Context, client *http.Client, url, apiKey, provider string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		cause := err
		if errors.Is(err, context.DeadlineExceeded) {
			cause = types.NewError(types.ErrUpstreamTimeout, "judgment request timed out").WithCause(err)
		}
		return nil, types.NewJudgmentUnavailableError(provider, cause)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewJudgmentUnavailableError(provider, err)
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewJudgmentUnavailableError(provider,
			fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	return respBody, nil
}

func observe(o RequestObserver, provider, model string, start time.Time, err error) {
	if o == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	o.RecordLLMRequest(provider, model, status, time.Since(start))
}
