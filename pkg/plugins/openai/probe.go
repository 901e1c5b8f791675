package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"letta-telephony-agent/pkg/plugins"
)

const probeTimeout = 5 * time.Second

// ProbeResult describes a Letta agent lookup.
type ProbeResult struct {
	URL        string
	StatusCode int
	Latency    time.Duration
}

// OK reports whether the agent was found.
func (r ProbeResult) OK() bool {
	return r.StatusCode == http.StatusOK
}

// ProbeLettaAgent looks the agent up at <baseURL>/v1/agents/<agentID>.
// The result is diagnostic; callers continue regardless.
func ProbeLettaAgent(ctx context.Context, client *http.Client, baseURL, agentID string) (ProbeResult, error) {
	if client == nil {
		client = plugins.SharedHTTPClient()
	}
	res := ProbeResult{URL: strings.TrimRight(baseURL, "/") + "/v1/agents/" + agentID}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return res, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("letta probe failed: %w", err)
	}
	_ = resp.Body.Close()

	res.StatusCode = resp.StatusCode
	return res, nil
}
