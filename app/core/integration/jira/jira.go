package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"dockit/app/pkg/types"
)

const (
	searchPath        = "/rest/api/2/search"
	myselfPath        = "/rest/api/2/myself"
	defaultJQL        = "assignee = currentUser() AND statusCategory != Done"
	defaultMaxResults = 50
	updatedLayout     = "2006-01-02T15:04:05.000-0700"
	jqlTimeLayout     = "2006-01-02 15:04"
)

type Config struct {
	BaseURL    string
	Email      string
	APIToken   string
	JQL        string
	MaxResults int
}

// Integration polls Jira issues through the REST search API using basic auth
// (account email + API token).
type Integration struct {
	cfg    Config
	client *http.Client

	mu        sync.RWMutex
	connected bool
}

func New(cfg Config) *Integration {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.JQL) == "" {
		cfg.JQL = defaultJQL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	return &Integration{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (j *Integration) Source() types.TaskSource {
	return types.SourceJira
}

func (j *Integration) IsConnected() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.connected
}

func (j *Integration) Connect(ctx context.Context) error {
	if j.IsConnected() {
		return nil
	}
	if j.cfg.BaseURL == "" || strings.TrimSpace(j.cfg.Email) == "" || strings.TrimSpace(j.cfg.APIToken) == "" {
		return fmt.Errorf("%w: jira base url, email and api token are required", types.ErrAuthenticationFailed)
	}

	if err := j.get(ctx, myselfPath, nil, nil); err != nil {
		return err
	}

	j.mu.Lock()
	j.connected = true
	j.mu.Unlock()
	return nil
}

func (j *Integration) FetchNewItems(ctx context.Context, since *time.Time) ([]types.RawInboxItem, error) {
	if !j.IsConnected() {
		return nil, fmt.Errorf("%w: jira integration is not connected", types.ErrAuthenticationFailed)
	}

	jql := j.cfg.JQL
	if since != nil {
		// JQL time comparison is minute-granular; the exact cut happens below
		jql = fmt.Sprintf(`(%s) AND updated > "%s"`, jql, since.UTC().Format(jqlTimeLayout))
	}
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("fields", "summary,description,reporter,updated")
	params.Set("maxResults", strconv.Itoa(j.cfg.MaxResults))

	var result searchResponse
	if err := j.get(ctx, searchPath, params, &result); err != nil {
		return nil, err
	}

	items := make([]types.RawInboxItem, 0, len(result.Issues))
	for _, issue := range result.Issues {
		updated, err := time.Parse(updatedLayout, issue.Fields.Updated)
		if err != nil {
			return nil, fmt.Errorf("%w: jira issue %s has unparseable updated time %q", types.ErrParsing, issue.Key, issue.Fields.Updated)
		}
		updated = updated.UTC()
		if since != nil && !updated.After(*since) {
			continue
		}

		content := issue.Fields.Summary
		if strings.TrimSpace(issue.Fields.Description) != "" {
			content = issue.Fields.Summary + "\n\n" + issue.Fields.Description
		}
		items = append(items, types.RawInboxItem{
			ID:        issue.Key,
			Content:   content,
			Sender:    issue.Fields.Reporter.DisplayName,
			Timestamp: updated,
			Source:    types.SourceJira,
			RawMetadata: map[string]interface{}{
				"issue_id": issue.ID,
				"key":      issue.Key,
			},
		})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].Timestamp.Before(items[b].Timestamp) })
	return items, nil
}

func (j *Integration) DeepLink(itemID string) string {
	key := strings.TrimSpace(itemID)
	if key == "" || j.cfg.BaseURL == "" {
		return ""
	}
	return j.cfg.BaseURL + "/browse/" + key
}

func (j *Integration) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := j.cfg.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}
	req.SetBasicAuth(j.cfg.Email, j.cfg.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: jira api status 429", types.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: jira api status %d", types.ErrAuthenticationFailed, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: jira api status %d", types.ErrNetwork, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode jira response: %v", types.ErrParsing, err)
		}
	}
	return nil
}

type searchResponse struct {
	Issues []issue `json:"issues"`
}

type issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Updated     string `json:"updated"`
	Reporter    struct {
		DisplayName string `json:"displayName"`
	} `json:"reporter"`
}

var _ types.SourceIntegration = (*Integration)(nil)
