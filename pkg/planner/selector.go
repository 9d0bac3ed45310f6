package planner

import "github.com/jllopis/orchestra/pkg/core"

// Selector picks the ordered set of worker roles needed for a request.
type Selector interface {
	Select(request, intent string, complexity core.Complexity) []core.WorkerRole
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(request, intent string, complexity core.Complexity) []core.WorkerRole

// Select implements Selector.
func (f SelectorFunc) Select(request, intent string, complexity core.Complexity) []core.WorkerRole {
	return f(request, intent, complexity)
}

// selectionRule appends roles when any trigger term is present. Extra roles
// are appended as well when any of the extra terms is present.
type selectionRule struct {
	name     string
	triggers []string
	roles    []core.WorkerRole
	extra    []string
	extras   []core.WorkerRole
}

var selectionRules = []selectionRule{
	{
		name:     "frontend",
		triggers: []string{"frontend", "front end", "ui", "ux", "website", "web", "page", "landing", "component", "css", "html", "react", "vue", "form", "dashboard"},
		roles:    []core.WorkerRole{core.RoleFrontendDeveloper},
		extra:    []string{"design", "ui", "ux", "style", "theme", "branding"},
		extras:   []core.WorkerRole{core.RoleUIDesigner},
	},
	{
		name:     "backend",
		triggers: []string{"backend", "back end", "api", "server", "endpoint", "database", "auth", "rest", "graphql", "microservice"},
		roles:    []core.WorkerRole{core.RoleBackendDeveloper},
		extra:    []string{"database", "sql", "postgres", "mysql", "schema", "migration"},
		extras:   []core.WorkerRole{core.RoleDatabaseEngineer},
	},
	{
		name:     "fullstack",
		triggers: []string{"full stack", "fullstack", "full-stack"},
		roles:    []core.WorkerRole{core.RoleFullstackDeveloper, core.RoleFrontendDeveloper, core.RoleBackendDeveloper},
	},
	{
		name:     "devops",
		triggers: []string{"deploy", "docker", "kubernetes", "ci", "cd", "infrastructure", "hosting", "cloud", "devops"},
		roles:    []core.WorkerRole{core.RoleDevOpsEngineer},
	},
	{
		name:     "qa",
		triggers: []string{"test", "qa", "quality", "coverage", "e2e"},
		roles:    []core.WorkerRole{core.RoleQAEngineer},
	},
	{
		name:     "security",
		triggers: []string{"security", "secure", "auth", "vulnerability", "encryption", "compliance", "permission"},
		roles:    []core.WorkerRole{core.RoleSecuritySpecialist},
	},
	{
		name:     "docs",
		triggers: []string{"document", "docs", "readme", "guide", "tutorial"},
		roles:    []core.WorkerRole{core.RoleTechnicalWriter},
	},
	{
		name:     "data",
		triggers: []string{"data pipeline", "etl", "analytics", "warehouse", "data engineering"},
		roles:    []core.WorkerRole{core.RoleDataEngineer},
	},
	{
		name:     "ml",
		triggers: []string{"machine learning", "ml", "ai", "model", "prediction", "recommendation"},
		roles:    []core.WorkerRole{core.RoleMLEngineer},
	},
	{
		name:     "mobile",
		triggers: []string{"mobile", "ios", "android", "react native", "flutter"},
		roles:    []core.WorkerRole{core.RoleMobileDeveloper},
	},
}

// RuleSelector selects roles with ordered keyword rules.
type RuleSelector struct{}

// Select implements Selector. The result is deduplicated and keeps the
// order of first insertion. When no rule fires the generalist is the only
// role returned, whatever the complexity.
func (RuleSelector) Select(request, _ string, complexity core.Complexity) []core.WorkerRole {
	t := newText(request)
	var matched roleSet
	for _, rule := range selectionRules {
		if !t.any(rule.triggers...) {
			continue
		}
		matched.add(rule.roles...)
		if len(rule.extras) > 0 && t.any(rule.extra...) {
			matched.add(rule.extras...)
		}
	}
	if len(matched.roles) == 0 {
		return []core.WorkerRole{core.RoleGeneralAssistant}
	}

	var set roleSet
	if complexity.AtLeast(core.ComplexityComplex) {
		set.add(core.RoleCoordinator, core.RoleArchitect)
	}
	set.add(matched.roles...)
	if complexity == core.ComplexityVeryComplex {
		set.add(core.RoleCodeReviewer, core.RoleErrorHandler)
	}
	return set.roles
}

type roleSet struct {
	roles []core.WorkerRole
	seen  map[core.WorkerRole]struct{}
}

func (s *roleSet) add(roles ...core.WorkerRole) {
	if s.seen == nil {
		s.seen = make(map[core.WorkerRole]struct{})
	}
	for _, r := range roles {
		if _, ok := s.seen[r]; ok {
			continue
		}
		s.seen[r] = struct{}{}
		s.roles = append(s.roles, r)
	}
}
