package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/internal/validator"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/google/uuid"
)

// FlowStore serves flows authored as files under Dir/{tenant}/.
// Files ending in .yaml, .yml or .json are compiled and validated on Load.
// A flow without tenant_id belongs to the directory it sits in.
type FlowStore struct {
	Dir string

	mu     sync.RWMutex
	flows  map[string][]*domain.Flow
	parser *compiler.Parser
}

// NewFlowStore creates a store rooted at dir and loads it.
func NewFlowStore(dir string) (*FlowStore, error) {
	s := &FlowStore{Dir: dir, parser: compiler.NewParser()}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load rereads every tenant directory. On error the previous set is kept.
func (s *FlowStore) Load() error {
	tenants, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.swap(map[string][]*domain.Flow{})
			return nil
		}
		return fmt.Errorf("failed to read flow directory: %w", err)
	}

	loaded := make(map[string][]*domain.Flow)
	for _, t := range tenants {
		if !t.IsDir() || strings.HasPrefix(t.Name(), ".") {
			continue
		}
		flows, err := s.loadTenant(t.Name())
		if err != nil {
			return err
		}
		loaded[t.Name()] = flows
	}
	s.swap(loaded)
	return nil
}

func (s *FlowStore) swap(flows map[string][]*domain.Flow) {
	s.mu.Lock()
	s.flows = flows
	s.mu.Unlock()
}

func (s *FlowStore) loadTenant(tenantID string) ([]*domain.Flow, error) {
	dir := filepath.Join(s.Dir, tenantID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant directory: %w", err)
	}

	var flows []*domain.Flow
	for _, entry := range entries {
		if entry.IsDir() || !isFlowFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		flow, err := s.loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if flow.TenantID == "" {
			flow.TenantID = tenantID
		}
		if flow.TenantID != tenantID {
			return nil, fmt.Errorf("%s: %w", path, &domain.FlowDefinitionError{
				FlowID: flow.ID,
				Reason: fmt.Sprintf("tenant %q does not match directory %q", flow.TenantID, tenantID),
			})
		}
		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if flow.Name == "" {
			flow.Name = base
		}
		if flow.ID == "" {
			flow.ID = tenantID + "/" + base
		}
		if flow.Version == 0 {
			flow.Version = 1
		}
		flows = append(flows, flow)
	}

	// newest last so later files win version ties
	sort.SliceStable(flows, func(i, j int) bool { return flows[i].Version < flows[j].Version })
	return flows, nil
}

func (s *FlowStore) loadFile(path string) (*domain.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	flow, err := s.parser.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateFlow(flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// GetActiveFlow returns the highest version active default flow of the tenant.
func (s *FlowStore) GetActiveFlow(ctx context.Context, tenantID string, filter domain.FlowFilter) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := domain.SelectActive(s.flows[tenantID], filter)
	if best == nil {
		return nil, domain.ErrFlowNotFound
	}
	return best, nil
}

// Publish writes the next version as Dir/{tenant}/{name}.v{version}.json and
// rewrites the files of demoted flows.
func (s *FlowStore) Publish(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	if flow == nil || flow.TenantID == "" {
		return nil, &domain.FlowDefinitionError{Reason: "flow must belong to a tenant"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.flows[flow.TenantID]
	plan := domain.PlanPublish(list, flow, uuid.NewString)

	for _, d := range plan.Demoted {
		if err := s.writeFlow(d); err != nil {
			return nil, err
		}
		for i, f := range list {
			if f.ID == d.ID {
				list[i] = d
			}
		}
	}
	if err := s.writeFlow(plan.Flow); err != nil {
		return nil, err
	}
	s.flows[flow.TenantID] = append(list, plan.Flow)
	return plan.Flow, nil
}

// List returns every loaded flow of a tenant ordered by version.
func (s *FlowStore) List(ctx context.Context, tenantID string) []*domain.Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.Flow(nil), s.flows[tenantID]...)
}

// Tenants returns the tenants with at least one flow.
func (s *FlowStore) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.flows))
	for t, flows := range s.flows {
		if len(flows) > 0 {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func (s *FlowStore) writeFlow(flow *domain.Flow) error {
	dir := filepath.Join(s.Dir, safeName(flow.TenantID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure flow directory: %w", err)
	}
	data, err := json.MarshalIndent(flow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}
	name := fmt.Sprintf("%s.v%d.json", safeName(flow.Name), flow.Version)
	return writeAtomic(dir, name, data)
}

func isFlowFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return !strings.HasPrefix(name, "tmp-")
	}
	return false
}
