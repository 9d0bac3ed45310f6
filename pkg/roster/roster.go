// Package roster holds the capability registry of role-specialized workers.
//
// A Roster is immutable once built and safe to share across concurrent
// plan runs. Lookups accept any spelling that normalizes to a role key
// ("Frontend Developer", "frontend_developer") as well as registered aliases.
package roster

import (
	"fmt"
	"strings"

	"github.com/jllopis/orchestra/pkg/core"
)

// Roster maps worker roles to their capabilities.
type Roster struct {
	caps    map[core.WorkerRole]core.AgentCapability
	order   []core.WorkerRole
	aliases map[core.WorkerRole]core.WorkerRole
}

// New builds a roster from capabilities. Later entries for the same role
// replace earlier ones but keep the original position.
func New(caps ...core.AgentCapability) (*Roster, error) {
	r := &Roster{
		caps:    make(map[core.WorkerRole]core.AgentCapability, len(caps)),
		aliases: make(map[core.WorkerRole]core.WorkerRole),
	}
	for _, c := range caps {
		if err := r.put(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Roster) put(c core.AgentCapability) error {
	role := core.NormalizeRole(string(c.Role))
	if role == "" {
		return fmt.Errorf("capability %q has no role", c.Name)
	}
	c = c.Clone()
	c.Role = role
	if c.Name == "" {
		c.Name = titleize(string(role))
	}
	c.Priority = clampPriority(c.Priority)
	c.Specializations = specializations(c.Skills)
	if _, exists := r.caps[role]; !exists {
		r.order = append(r.order, role)
	}
	r.caps[role] = c
	return nil
}

// alias registers an alternative key for a role. The target must exist.
func (r *Roster) alias(alias string, target core.WorkerRole) error {
	key := core.NormalizeRole(alias)
	if _, ok := r.caps[target]; !ok {
		return fmt.Errorf("alias %q targets unknown role %q", alias, target)
	}
	r.aliases[key] = target
	return nil
}

// Resolve maps a raw key to a registered role.
func (r *Roster) Resolve(key string) (core.WorkerRole, bool) {
	role := core.NormalizeRole(key)
	if _, ok := r.caps[role]; ok {
		return role, true
	}
	if target, ok := r.aliases[role]; ok {
		return target, true
	}
	return "", false
}

// Lookup returns a copy of the capability registered under key.
func (r *Roster) Lookup(key string) (core.AgentCapability, bool) {
	role, ok := r.Resolve(key)
	if !ok {
		return core.AgentCapability{}, false
	}
	return r.caps[role].Clone(), true
}

// Has reports whether role is registered.
func (r *Roster) Has(role core.WorkerRole) bool {
	_, ok := r.caps[role]
	return ok
}

// Roles returns the registered roles in registration order.
func (r *Roster) Roles() []core.WorkerRole {
	return append([]core.WorkerRole(nil), r.order...)
}

// All returns copies of every capability in registration order.
func (r *Roster) All() []core.AgentCapability {
	out := make([]core.AgentCapability, 0, len(r.order))
	for _, role := range r.order {
		out = append(out, r.caps[role].Clone())
	}
	return out
}

// Len returns the number of registered roles.
func (r *Roster) Len() int { return len(r.order) }

// Subset returns a roster restricted to the given keys. Unknown keys are
// reported as an error.
func (r *Roster) Subset(keys ...string) (*Roster, error) {
	caps := make([]core.AgentCapability, 0, len(keys))
	for _, key := range keys {
		c, ok := r.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("unknown worker %q", key)
		}
		caps = append(caps, c)
	}
	sub, err := New(caps...)
	if err != nil {
		return nil, err
	}
	for a, target := range r.aliases {
		if sub.Has(target) {
			sub.aliases[a] = target
		}
	}
	return sub, nil
}

// Merge returns a new roster with other's capabilities and aliases laid over r.
func (r *Roster) Merge(other *Roster) *Roster {
	merged := &Roster{
		caps:    make(map[core.WorkerRole]core.AgentCapability, len(r.caps)+len(other.caps)),
		aliases: make(map[core.WorkerRole]core.WorkerRole, len(r.aliases)+len(other.aliases)),
	}
	for _, src := range []*Roster{r, other} {
		for _, role := range src.order {
			if _, exists := merged.caps[role]; !exists {
				merged.order = append(merged.order, role)
			}
			merged.caps[role] = src.caps[role].Clone()
		}
		for a, target := range src.aliases {
			merged.aliases[a] = target
		}
	}
	return merged
}

func clampPriority(p int) int {
	switch {
	case p < 1:
		return 1
	case p > 10:
		return 10
	}
	return p
}

func specializations(skills []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, skill := range skills {
		for _, word := range strings.FieldsFunc(strings.ToLower(skill), func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '#')
		}) {
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			out = append(out, word)
		}
	}
	return out
}

func titleize(key string) string {
	parts := strings.Split(key, "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}
