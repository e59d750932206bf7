package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"dockit/app/pkg/types"
)

const (
	defaultEndpoint = "https://api.linear.app/graphql"
	defaultPageSize = 50

	viewerQuery = `query { viewer { id } }`

	issuesQuery = `query Issues($first: Int!, $filter: IssueFilter) {
  issues(first: $first, filter: $filter, orderBy: updatedAt) {
    nodes { id identifier title description updatedAt creator { name } }
  }
}`
)

type Config struct {
	APIKey    string
	Workspace string
	Endpoint  string
	PageSize  int
}

// Integration polls assigned Linear issues through the GraphQL API.
type Integration struct {
	cfg    Config
	client *http.Client

	mu        sync.RWMutex
	connected bool
}

func New(cfg Config) *Integration {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Integration{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (l *Integration) Source() types.TaskSource {
	return types.SourceLinear
}

func (l *Integration) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

func (l *Integration) Connect(ctx context.Context) error {
	if l.IsConnected() {
		return nil
	}
	if strings.TrimSpace(l.cfg.APIKey) == "" {
		return fmt.Errorf("%w: linear api key is required", types.ErrAuthenticationFailed)
	}

	if _, err := l.query(ctx, viewerQuery, nil); err != nil {
		return err
	}

	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	return nil
}

func (l *Integration) FetchNewItems(ctx context.Context, since *time.Time) ([]types.RawInboxItem, error) {
	if !l.IsConnected() {
		return nil, fmt.Errorf("%w: linear integration is not connected", types.ErrAuthenticationFailed)
	}

	vars := map[string]interface{}{"first": l.cfg.PageSize}
	if since != nil {
		vars["filter"] = map[string]interface{}{
			"updatedAt": map[string]interface{}{"gt": since.UTC().Format(time.RFC3339)},
		}
	}

	data, err := l.query(ctx, issuesQuery, vars)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Issues struct {
			Nodes []issueNode `json:"nodes"`
		} `json:"issues"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode linear issues: %v", types.ErrParsing, err)
	}

	items := make([]types.RawInboxItem, 0, len(payload.Issues.Nodes))
	for _, node := range payload.Issues.Nodes {
		updated, err := time.Parse(time.RFC3339, node.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: linear issue %s has unparseable updatedAt %q", types.ErrParsing, node.Identifier, node.UpdatedAt)
		}
		updated = updated.UTC()
		if since != nil && !updated.After(*since) {
			continue
		}

		content := node.Title
		if strings.TrimSpace(node.Description) != "" {
			content = node.Title + "\n\n" + node.Description
		}
		items = append(items, types.RawInboxItem{
			ID:        node.Identifier,
			Content:   content,
			Sender:    node.Creator.Name,
			Timestamp: updated,
			Source:    types.SourceLinear,
			RawMetadata: map[string]interface{}{
				"issue_id":   node.ID,
				"identifier": node.Identifier,
			},
		})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].Timestamp.Before(items[b].Timestamp) })
	return items, nil
}

func (l *Integration) DeepLink(itemID string) string {
	id := strings.TrimSpace(itemID)
	if id == "" || strings.TrimSpace(l.cfg.Workspace) == "" {
		return ""
	}
	return "https://linear.app/" + l.cfg.Workspace + "/issue/" + id
}

// query posts a GraphQL request and returns the raw "data" payload.
func (l *Integration) query(ctx context.Context, q string, vars map[string]interface{}) (json.RawMessage, error) {
	reqBody, err := json.Marshal(map[string]interface{}{"query": q, "variables": vars})
	if err != nil {
		return nil, fmt.Errorf("%w: encode linear request: %v", types.ErrParsing, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", l.cfg.APIKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: linear api status 429", types.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: linear api status %d", types.ErrAuthenticationFailed, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: linear api status %d", types.ErrNetwork, resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message    string `json:"message"`
			Extensions struct {
				Code string `json:"code"`
			} `json:"extensions"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode linear response: %v", types.ErrParsing, err)
	}
	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		switch first.Extensions.Code {
		case "AUTHENTICATION_ERROR", "FORBIDDEN":
			return nil, fmt.Errorf("%w: linear api: %s", types.ErrAuthenticationFailed, first.Message)
		case "RATELIMITED":
			return nil, fmt.Errorf("%w: linear api: %s", types.ErrRateLimited, first.Message)
		default:
			return nil, fmt.Errorf("%w: linear api: %s", types.ErrNetwork, first.Message)
		}
	}
	return envelope.Data, nil
}

type issueNode struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description"`
	UpdatedAt   string `json:"updatedAt"`
	Creator     struct {
		Name string `json:"name"`
	} `json:"creator"`
}

var _ types.SourceIntegration = (*Integration)(nil)
