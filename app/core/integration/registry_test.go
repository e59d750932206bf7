package integration

import (
	"context"
	"testing"
	"time"

	"dockit/app/pkg/types"
)

type fakeIntegration struct {
	source    types.TaskSource
	connected bool
}

func (f *fakeIntegration) Source() types.TaskSource      { return f.source }
func (f *fakeIntegration) Connect(context.Context) error { f.connected = true; return nil }
func (f *fakeIntegration) IsConnected() bool             { return f.connected }
func (f *fakeIntegration) DeepLink(string) string        { return "" }
func (f *fakeIntegration) FetchNewItems(context.Context, *time.Time) ([]types.RawInboxItem, error) {
	return nil, nil
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	gmail := &fakeIntegration{source: types.SourceGmail}
	if err := r.Register(gmail); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	got, exists := r.Get(types.SourceGmail)
	if !exists {
		t.Fatal("expected registered integration back")
	}
	if got.Source() != types.SourceGmail {
		t.Fatalf("unexpected source: %s", got.Source())
	}
	if _, exists := r.Get(types.SourceSlack); exists {
		t.Fatal("did not expect slack integration")
	}
}

func TestRegisterRejectsDuplicatesAndUnknownSources(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeIntegration{source: types.SourceJira}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(&fakeIntegration{source: types.SourceJira}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := r.Register(&fakeIntegration{source: "Fax"}); err == nil {
		t.Fatal("expected unknown source to fail")
	}
}

func TestConnectedFiltersByAuthState(t *testing.T) {
	r := NewRegistry()
	gmail := &fakeIntegration{source: types.SourceGmail, connected: true}
	slack := &fakeIntegration{source: types.SourceSlack}
	jira := &fakeIntegration{source: types.SourceJira, connected: true}
	for _, integ := range []*fakeIntegration{gmail, slack, jira} {
		if err := r.Register(integ); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}

	connected := r.Connected()
	if len(connected) != 2 {
		t.Fatalf("expected 2 connected integrations, got %d", len(connected))
	}
	// stable source order: Gmail before Jira
	if connected[0].Source() != types.SourceGmail || connected[1].Source() != types.SourceJira {
		t.Fatalf("unexpected order: %s, %s", connected[0].Source(), connected[1].Source())
	}
}
