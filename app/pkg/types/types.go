package types

import (
	"context"
	"strings"
	"time"
)

// TaskSource identifies the external service an item came from.
type TaskSource string

const (
	SourceGmail   TaskSource = "Gmail"
	SourceOutlook TaskSource = "Outlook"
	SourceSlack   TaskSource = "Slack"
	SourceJira    TaskSource = "Jira"
	SourceLinear  TaskSource = "Linear"
	SourceNotion  TaskSource = "Notion"
)

// Sources lists every known source in a stable order.
func Sources() []TaskSource {
	return []TaskSource{SourceGmail, SourceOutlook, SourceSlack, SourceJira, SourceLinear, SourceNotion}
}

// ParseSource resolves a case-insensitive source name.
func ParseSource(name string) (TaskSource, bool) {
	trimmed := strings.TrimSpace(name)
	for _, s := range Sources() {
		if strings.EqualFold(string(s), trimmed) {
			return s, true
		}
	}
	return "", false
}

// ExternalID builds the store-wide dedup key for a raw item. Raw ids are only
// unique within their own service, so the key is namespaced by source.
func ExternalID(source TaskSource, rawID string) string {
	return strings.ToLower(string(source)) + ":" + strings.TrimSpace(rawID)
}

// Priority ranks a task from Low (1) to Critical (4).
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// PriorityFromScore maps a model-reported 1-4 score to a Priority. Anything
// outside the scale degrades to Medium rather than failing the analysis.
func PriorityFromScore(score int) Priority {
	if score < int(PriorityLow) || score > int(PriorityCritical) {
		return PriorityMedium
	}
	return Priority(score)
}

func (p Priority) Label() string {
	switch p {
	case PriorityCritical:
		return "Critical"
	case PriorityHigh:
		return "High"
	case PriorityMedium:
		return "Medium"
	case PriorityLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// RawInboxItem is one unprocessed external event. It lives only for the
// duration of a sync cycle; the store never sees it directly.
type RawInboxItem struct {
	ID          string
	Content     string
	Sender      string
	Timestamp   time.Time
	Source      TaskSource
	RawMetadata map[string]interface{}
}

// Analysis is the structured result the language model produces for one raw
// item. EstimatedDeadline is nil when the item states no usable deadline.
type Analysis struct {
	Title             string
	Summary           string
	ActionItem        string
	Priority          Priority
	EstimatedDeadline *time.Time
}

// SourceIntegration is the contract every service connector satisfies.
// Connect performs whatever out-of-band credential exchange the service
// needs and is idempotent once connected. FetchNewItems returns only items
// strictly newer than since (all available items when since is nil) and an
// empty slice, not an error, when there is nothing new. DeepLink is pure: no
// I/O, no failure, empty string when the service has no link scheme.
type SourceIntegration interface {
	Source() TaskSource
	Connect(ctx context.Context) error
	IsConnected() bool
	FetchNewItems(ctx context.Context, since *time.Time) ([]RawInboxItem, error)
	DeepLink(itemID string) string
}

// Analyzer turns one raw item into one Analysis via the language model. One
// outbound call per invocation; retry policy belongs to the caller.
type Analyzer interface {
	Analyze(ctx context.Context, item RawInboxItem) (Analysis, error)
}
