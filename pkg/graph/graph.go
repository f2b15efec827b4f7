// Package graph enriches signed-in sessions with Microsoft Graph data:
// ad-hoc directory queries requested per-path on the auth endpoint, and the
// application manifest used to qualify consent scopes.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/easyauth-k8s/easyauth/pkg/logger"
	"github.com/easyauth-k8s/easyauth/pkg/versions"
)

// DefaultBaseURL is the Microsoft Graph endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Service executes directory queries on behalf of the signed-in user.
type Service struct {
	client  *http.Client
	baseURL string
}

// NewService builds a graph service. baseURL defaults to the public Graph
// endpoint when empty.
func NewService(client *http.Client, baseURL string) *Service {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Service{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

type batchRequest struct {
	Requests []batchItem `json:"requests"`
}

type batchItem struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

// ExecuteQueries runs the queries as a single $batch call with the user's
// access token and returns one serialized result per query, in query order.
//
// A failed individual query does not fail the batch: its slot carries an
// error blob instead, so a misspelled query degrades one header rather than
// the whole sign-in.
func (s *Service) ExecuteQueries(ctx context.Context, accessToken string, queries []string) ([]string, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	batch := batchRequest{Requests: make([]batchItem, 0, len(queries))}
	for i, q := range queries {
		batch.Requests = append(batch.Requests, batchItem{
			ID:     strconv.Itoa(i + 1),
			Method: http.MethodGet,
			URL:    "/" + strings.TrimPrefix(q, "/"),
		})
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/$batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", versions.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph batch request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph batch response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph batch endpoint returned status %d", resp.StatusCode)
	}

	// Graph returns batch items in arbitrary order; the id restores it.
	results := make([]string, len(queries))
	for _, item := range gjson.GetBytes(raw, "responses").Array() {
		idx, err := strconv.Atoi(item.Get("id").String())
		if err != nil || idx < 1 || idx > len(queries) {
			logger.Warnf("graph batch response carries unknown id %q", item.Get("id").String())
			continue
		}
		results[idx-1] = renderBatchItem(item)
	}
	return results, nil
}

// renderBatchItem turns one batch response item into its header-ready form.
func renderBatchItem(item gjson.Result) string {
	status := item.Get("status").Int()
	body := item.Get("body")

	if status < 200 || status > 299 {
		batchFailures.Inc()
		blob, _ := json.Marshal(map[string]any{
			"error_status":  status,
			"error_message": body.Get("error.message").String(),
		})
		return string(blob)
	}

	// Binary responses (photos, $value endpoints) arrive as a base64 string
	// body; pass it through untouched.
	if body.Type == gjson.String {
		return body.String()
	}
	return stripODataKeys(body.Raw)
}

// stripODataKeys removes top-level @odata annotations, which carry paging
// and context URLs the backend application has no use for.
func stripODataKeys(raw string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return raw
	}
	for k := range m {
		if strings.HasPrefix(k, "@odata") {
			delete(m, k)
		}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return string(out)
}
