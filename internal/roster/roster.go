// Package roster holds the fixed team of agents for a process. A Roster is
// built once and never mutated, so it is safe to share across goroutines.
package roster

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentoven/huddle/pkg/models"
)

var (
	ErrEmptyRoster    = errors.New("roster has no agents")
	ErrDuplicateAgent = errors.New("duplicate agent")
	ErrUnknownLeader  = errors.New("leader is not on the roster")
)

// Roster is the immutable agent registry. IDs() is the canonical order:
// the leader first, then the remaining agents in declaration order.
type Roster struct {
	agents   []models.Agent
	index    map[string]int
	byFirst  map[string]int
	leaderID string
}

// New validates agents and builds a roster. IDs are normalized to lower
// case. First names must be unique because mentions resolve by first name.
func New(agents []models.Agent, leaderID string) (*Roster, error) {
	if len(agents) == 0 {
		return nil, ErrEmptyRoster
	}
	leaderID = strings.ToLower(strings.TrimSpace(leaderID))

	r := &Roster{
		index:    make(map[string]int, len(agents)),
		byFirst:  make(map[string]int, len(agents)),
		leaderID: leaderID,
	}

	ordered := make([]models.Agent, 0, len(agents))
	seen := make(map[string]bool, len(agents))
	var leader *models.Agent
	for _, a := range agents {
		a.ID = strings.ToLower(strings.TrimSpace(a.ID))
		if a.ID == "" {
			return nil, fmt.Errorf("agent %q: id is required", a.Name)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("%w: id %q", ErrDuplicateAgent, a.ID)
		}
		seen[a.ID] = true
		if a.Name == "" {
			a.Name = a.ID
		}
		a.Expertise = append([]string(nil), a.Expertise...)
		if a.ID == leaderID {
			cp := a
			leader = &cp
			continue
		}
		ordered = append(ordered, a)
	}
	if leader == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLeader, leaderID)
	}
	ordered = append([]models.Agent{*leader}, ordered...)

	for i, a := range ordered {
		first := a.FirstName()
		if j, dup := r.byFirst[first]; dup {
			return nil, fmt.Errorf("%w: first name %q shared by %q and %q", ErrDuplicateAgent, first, ordered[j].ID, a.ID)
		}
		r.index[a.ID] = i
		r.byFirst[first] = i
	}
	r.agents = ordered
	return r, nil
}

// Len returns the number of agents.
func (r *Roster) Len() int { return len(r.agents) }

// Get returns the agent with the given id.
func (r *Roster) Get(id string) (models.Agent, bool) {
	i, ok := r.index[strings.ToLower(id)]
	if !ok {
		return models.Agent{}, false
	}
	return copyAgent(r.agents[i]), true
}

// Has reports whether id names an agent on the roster.
func (r *Roster) Has(id string) bool {
	_, ok := r.index[strings.ToLower(id)]
	return ok
}

// Leader returns the designated leader.
func (r *Roster) Leader() models.Agent { return copyAgent(r.agents[0]) }

// LeaderID returns the leader's id.
func (r *Roster) LeaderID() string { return r.leaderID }

// IDs returns all agent ids in canonical order.
func (r *Roster) IDs() []string {
	out := make([]string, len(r.agents))
	for i, a := range r.agents {
		out[i] = a.ID
	}
	return out
}

// Agents returns a copy of every agent in canonical order.
func (r *Roster) Agents() []models.Agent {
	out := make([]models.Agent, len(r.agents))
	for i, a := range r.agents {
		out[i] = copyAgent(a)
	}
	return out
}

// Resolve maps a token (an id or a first name, any case, optional leading
// '@') to an agent id.
func (r *Roster) Resolve(token string) (string, bool) {
	t := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(token), "@"))
	if i, ok := r.index[t]; ok {
		return r.agents[i].ID, true
	}
	if i, ok := r.byFirst[t]; ok {
		return r.agents[i].ID, true
	}
	return "", false
}

// Canonical filters ids to known agents, removes duplicates and sorts them
// into roster order.
func (r *Roster) Canonical(ids []string) []string {
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if i, ok := r.index[strings.ToLower(id)]; ok {
			seen[i] = true
		}
	}
	out := make([]string, 0, len(seen))
	for i, a := range r.agents {
		if seen[i] {
			out = append(out, a.ID)
		}
	}
	return out
}

func copyAgent(a models.Agent) models.Agent {
	a.Expertise = append([]string(nil), a.Expertise...)
	return a
}
