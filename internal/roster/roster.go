// Package roster loads and serves the fixed agent roster (§3, §4.1): the
// five named agents the controller addresses, one of which is the
// privileged "president". Grounded in the teacher's internal/agents
// config loader, generalized from a variable team list to the spec's
// fixed five-entry roster with pane targets instead of process specs.
package roster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entry is one roster member (SPEC_FULL.md §3 AgentRosterEntry).
type Entry struct {
	Name        string `yaml:"name" json:"name"`
	PaneTarget  string `yaml:"pane_target" json:"pane_target"`
	President   bool   `yaml:"president" json:"president"`
	Interpreter string `yaml:"interpreter" json:"interpreter"`
}

// Roster is the loaded, validated set of agents.
type Roster struct {
	entries   []Entry
	byName    map[string]Entry
	president Entry
}

// file is the on-disk shape of roster.yaml.
type file struct {
	Agents []Entry `yaml:"agents"`
}

const defaultInterpreter = "claude"

// Load reads and validates roster.yaml at path.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster file: %w", err)
	}

	return build(f.Agents)
}

func build(entries []Entry) (*Roster, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("roster is empty")
	}

	r := &Roster{
		byName: make(map[string]Entry, len(entries)),
	}

	var presidents int
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("roster entry missing name")
		}
		if e.PaneTarget == "" {
			return nil, fmt.Errorf("roster entry %q missing pane_target", e.Name)
		}
		if e.Interpreter == "" {
			e.Interpreter = defaultInterpreter
		}
		if e.President {
			presidents++
			r.president = e
		}
		r.byName[e.Name] = e
		r.entries = append(r.entries, e)
	}

	if presidents != 1 {
		return nil, fmt.Errorf("roster must have exactly one president, found %d", presidents)
	}

	return r, nil
}

// All returns every roster entry.
func (r *Roster) All() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// President returns the privileged president entry.
func (r *Roster) President() Entry {
	return r.president
}

// ByName looks up a roster entry by agent name.
func (r *Roster) ByName(name string) (Entry, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// NonPresident returns every non-president agent, in roster order.
func (r *Roster) NonPresident() []Entry {
	var out []Entry
	for _, e := range r.entries {
		if !e.President {
			out = append(out, e)
		}
	}
	return out
}
