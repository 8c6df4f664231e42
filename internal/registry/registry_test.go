package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/state"
)

func TestCapabilityGrant_Has(t *testing.T) {
	grant := CapabilityGrant{
		AgentID:      "agent-1",
		Capabilities: []string{CapabilityFileRead, CapabilityBashReadonly},
	}

	if !grant.Has(CapabilityFileRead) {
		t.Fatal("expected granted capability to match")
	}
	if grant.Has(CapabilityFileWrite) {
		t.Fatal("expected missing capability to not match")
	}
	if !grant.Has(CapabilityNone) {
		t.Fatal("expected empty capability to always match")
	}
}

func TestStaticRegistry_Lookups(t *testing.T) {
	reg := NewStaticRegistry(
		[]CapabilityGrant{{AgentID: "reviewer", Capabilities: []string{CapabilityFileRead}}},
		[]ToolSpec{{ToolName: "deploy", Intent: "execute", RequiredCapability: CapabilityBashExecute}},
	)
	ctx := context.Background()

	grant, err := reg.GetGrant(ctx, "reviewer")
	if err != nil {
		t.Fatalf("GetGrant failed: %v", err)
	}
	if grant == nil || grant.AgentID != "reviewer" {
		t.Fatalf("expected reviewer grant, got %+v", grant)
	}

	grant, err = reg.GetGrant(ctx, "unknown")
	if err != nil {
		t.Fatalf("GetGrant failed: %v", err)
	}
	if grant != nil {
		t.Fatalf("expected nil grant for unregistered agent, got %+v", grant)
	}

	spec, err := reg.GetTool(ctx, "deploy")
	if err != nil {
		t.Fatalf("GetTool failed: %v", err)
	}
	if spec == nil || spec.RequiredCapability != CapabilityBashExecute {
		t.Fatalf("expected deploy spec, got %+v", spec)
	}

	spec, err = reg.GetTool(ctx, "unknown")
	if err != nil {
		t.Fatalf("GetTool failed: %v", err)
	}
	if spec != nil {
		t.Fatalf("expected nil spec for unknown tool, got %+v", spec)
	}
}

type stubRegistryStore struct {
	grants      map[string]*CapabilityGrant
	tools       map[string]*ToolSpec
	grantCalls  int
	toolCalls   int
	lookupError error
}

func (s *stubRegistryStore) LookupGrant(_ context.Context, agentID string) (*CapabilityGrant, error) {
	s.grantCalls++
	if s.lookupError != nil {
		return nil, s.lookupError
	}
	grant, ok := s.grants[agentID]
	if !ok {
		return nil, ErrNotRegistered
	}
	return grant, nil
}

func (s *stubRegistryStore) LookupTool(_ context.Context, toolName string) (*ToolSpec, error) {
	s.toolCalls++
	if s.lookupError != nil {
		return nil, s.lookupError
	}
	spec, ok := s.tools[toolName]
	if !ok {
		return nil, ErrNotRegistered
	}
	return spec, nil
}

func TestPostgresRegistry_CachesHits(t *testing.T) {
	store := &stubRegistryStore{
		grants: map[string]*CapabilityGrant{
			"agent-1": {AgentID: "agent-1", Capabilities: []string{CapabilityFileEdit}},
		},
	}
	reg, err := newRegistryWithStore(store, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("newRegistryWithStore failed: %v", err)
	}
	defer reg.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		grant, err := reg.GetGrant(ctx, "agent-1")
		if err != nil {
			t.Fatalf("GetGrant failed: %v", err)
		}
		if grant == nil || !grant.Has(CapabilityFileEdit) {
			t.Fatalf("expected file_edit grant, got %+v", grant)
		}
		reg.cache.c.Wait()
	}

	if store.grantCalls != 1 {
		t.Fatalf("expected 1 store lookup, got %d", store.grantCalls)
	}
}

func TestPostgresRegistry_NegativeCaching(t *testing.T) {
	store := &stubRegistryStore{}
	reg, err := newRegistryWithStore(store, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("newRegistryWithStore failed: %v", err)
	}
	defer reg.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		spec, err := reg.GetTool(ctx, "ghost")
		if err != nil {
			t.Fatalf("GetTool failed: %v", err)
		}
		if spec != nil {
			t.Fatalf("expected nil spec, got %+v", spec)
		}
		reg.cache.c.Wait()
	}

	if store.toolCalls != 1 {
		t.Fatalf("expected 1 store lookup for unknown tool, got %d", store.toolCalls)
	}
}

func TestPostgresRegistry_StoreErrorPropagates(t *testing.T) {
	store := &stubRegistryStore{lookupError: errors.New("connection refused")}
	reg, err := newRegistryWithStore(store, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("newRegistryWithStore failed: %v", err)
	}
	defer reg.Close()

	if _, err := reg.GetGrant(context.Background(), "agent-1"); err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func TestStateRegistry_GrantRoundTrip(t *testing.T) {
	store := state.NewMemoryStore()
	reg := NewStateRegistry(store, []ToolSpec{{ToolName: "migrate", Intent: "execute"}})
	ctx := context.Background()

	grant, err := reg.GetGrant(ctx, "agent-9")
	if err != nil {
		t.Fatalf("GetGrant failed: %v", err)
	}
	if grant != nil {
		t.Fatalf("expected no grant before registration, got %+v", grant)
	}

	want := CapabilityGrant{AgentID: "agent-9", Capabilities: []string{CapabilityFileRead, CapabilityFileWrite}}
	if err := reg.PutGrant(ctx, want); err != nil {
		t.Fatalf("PutGrant failed: %v", err)
	}

	grant, err = reg.GetGrant(ctx, "agent-9")
	if err != nil {
		t.Fatalf("GetGrant failed: %v", err)
	}
	if grant == nil || len(grant.Capabilities) != 2 {
		t.Fatalf("expected stored grant back, got %+v", grant)
	}

	if err := reg.DeleteGrant(ctx, "agent-9"); err != nil {
		t.Fatalf("DeleteGrant failed: %v", err)
	}
	grant, err = reg.GetGrant(ctx, "agent-9")
	if err != nil {
		t.Fatalf("GetGrant failed: %v", err)
	}
	if grant != nil {
		t.Fatalf("expected grant removed, got %+v", grant)
	}

	spec, err := reg.GetTool(ctx, "migrate")
	if err != nil {
		t.Fatalf("GetTool failed: %v", err)
	}
	if spec == nil || spec.Intent != "execute" {
		t.Fatalf("expected catalog spec, got %+v", spec)
	}
}
