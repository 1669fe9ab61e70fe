// Package registry stores agent definitions as YAML files, one per agent.
// Agents are authored elsewhere; this layer only resolves and persists them.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
)

// Registry is a file-backed core.AgentService. Reads go to disk every time:
// agent files are small and external edits should be picked up immediately.
type Registry struct {
	dir    string
	logger *logging.Logger

	// mu serializes writers; concurrent reads are safe because writes are
	// atomic renames.
	mu sync.Mutex
}

// New creates a registry rooted at dir, creating it if needed.
func New(dir string, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating agents directory: %w", err)
	}
	return &Registry{dir: dir, logger: logger}, nil
}

// GetAgent resolves an agent scoped to its owner. An agent owned by someone
// else reads as not found so the response never leaks that the id exists.
func (r *Registry) GetAgent(_ context.Context, agentID, userID string) (*core.Agent, error) {
	path, err := r.agentPath(agentID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, core.ErrNotFound(core.CodeAgentNotFound, "agent", agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading agent %s: %w", agentID, err)
	}

	var agent core.Agent
	if err := yaml.Unmarshal(data, &agent); err != nil {
		return nil, fmt.Errorf("parsing agent %s: %w", agentID, err)
	}
	if agent.UserID != userID {
		return nil, core.ErrNotFound(core.CodeAgentNotFound, "agent", agentID)
	}
	return &agent, nil
}

// SaveAgent persists the agent definition atomically.
func (r *Registry) SaveAgent(_ context.Context, agent *core.Agent) error {
	if agent.ID == "" {
		return core.ErrValidation("AGENT_ID_REQUIRED", "agent id is required")
	}
	if agent.UserID == "" {
		return core.ErrValidation("AGENT_OWNER_REQUIRED", "agent user_id is required")
	}
	path, err := r.agentPath(agent.ID)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(agent)
	if err != nil {
		return fmt.Errorf("marshaling agent %s: %w", agent.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := atomicWriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("writing agent %s: %w", agent.ID, err)
	}
	r.logger.Debug("agent saved", "agent_id", agent.ID)
	return nil
}

// DeleteAgent removes the agent definition, owner-scoped like GetAgent.
func (r *Registry) DeleteAgent(ctx context.Context, agentID, userID string) error {
	if _, err := r.GetAgent(ctx, agentID, userID); err != nil {
		return err
	}
	path, err := r.agentPath(agentID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return core.ErrNotFound(core.CodeAgentNotFound, "agent", agentID)
		}
		return fmt.Errorf("deleting agent %s: %w", agentID, err)
	}
	return nil
}

// ListAgents returns every agent owned by the user, sorted by filename.
func (r *Registry) ListAgents(_ context.Context, userID string) ([]*core.Agent, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("reading agents directory: %w", err)
	}

	var agents []*core.Agent
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			r.logger.Warn("skipping unreadable agent file", "file", entry.Name(), "error", err)
			continue
		}
		var agent core.Agent
		if err := yaml.Unmarshal(data, &agent); err != nil {
			r.logger.Warn("skipping malformed agent file", "file", entry.Name(), "error", err)
			continue
		}
		if agent.UserID == userID {
			agents = append(agents, &agent)
		}
	}
	return agents, nil
}

// agentPath maps an agent id onto its YAML file, rejecting ids that would
// escape the registry directory.
func (r *Registry) agentPath(agentID string) (string, error) {
	if agentID == "" || strings.ContainsAny(agentID, "/\\") || agentID != filepath.Base(agentID) {
		return "", core.ErrValidation("AGENT_ID_INVALID", fmt.Sprintf("invalid agent id %q", agentID))
	}
	return filepath.Join(r.dir, agentID+".yaml"), nil
}
