package roster

import "github.com/jllopis/orchestra/pkg/core"

var builtin = []core.AgentCapability{
	{
		Role: core.RoleCoordinator, Name: "Coordinator", Provider: "anthropic",
		Skills:      []string{"task decomposition", "delegation", "progress tracking"},
		Tools:       []string{"planner", "status-board"},
		CanDelegate: true, Priority: 10,
	},
	{
		Role: core.RoleArchitect, Name: "Software Architect", Provider: "anthropic",
		Skills:      []string{"system design", "api design", "data modeling", "scalability"},
		Tools:       []string{"diagramming", "adr-writer"},
		CanDelegate: true, Priority: 9,
	},
	{
		Role: core.RoleFrontendDeveloper, Name: "Frontend Developer", Provider: "anthropic",
		Skills: []string{"react", "typescript", "css layout", "accessibility"},
		Tools:  []string{"code-editor", "browser-preview"}, Priority: 8,
	},
	{
		Role: core.RoleUIDesigner, Name: "UI Designer", Provider: "anthropic",
		Skills: []string{"visual design", "design systems", "responsive layout"},
		Tools:  []string{"design-tokens", "browser-preview"}, Priority: 6,
	},
	{
		Role: core.RoleBackendDeveloper, Name: "Backend Developer", Provider: "anthropic",
		Skills: []string{"go", "rest api", "authentication", "service design"},
		Tools:  []string{"code-editor", "http-client"}, Priority: 8,
	},
	{
		Role: core.RoleDatabaseEngineer, Name: "Database Engineer", Provider: "anthropic",
		Skills: []string{"sql", "schema design", "query tuning", "migrations"},
		Tools:  []string{"sql-console"}, Priority: 7,
	},
	{
		Role: core.RoleFullstackDeveloper, Name: "Fullstack Developer", Provider: "anthropic",
		Skills: []string{"frontend integration", "backend integration", "api contracts"},
		Tools:  []string{"code-editor", "http-client", "browser-preview"}, Priority: 8,
	},
	{
		Role: core.RoleDevOpsEngineer, Name: "DevOps Engineer", Provider: "anthropic",
		Skills: []string{"ci cd", "containers", "kubernetes", "infrastructure as code"},
		Tools:  []string{"shell", "container-runtime"}, Priority: 7,
	},
	{
		Role: core.RoleQAEngineer, Name: "QA Engineer", Provider: "anthropic",
		Skills: []string{"test planning", "unit testing", "end to end testing"},
		Tools:  []string{"test-runner", "browser-preview"}, Priority: 7,
	},
	{
		Role: core.RoleSecuritySpecialist, Name: "Security Specialist", Provider: "anthropic",
		Skills: []string{"threat modeling", "authentication", "dependency audit"},
		Tools:  []string{"scanner"}, Priority: 7,
	},
	{
		Role: core.RoleTechnicalWriter, Name: "Technical Writer", Provider: "ollama",
		Skills: []string{"documentation", "api reference", "tutorials"},
		Tools:  []string{"markdown"}, Priority: 5,
	},
	{
		Role: core.RoleDataEngineer, Name: "Data Engineer", Provider: "anthropic",
		Skills: []string{"etl pipelines", "data modeling", "streaming"},
		Tools:  []string{"sql-console", "notebook"}, Priority: 6,
	},
	{
		Role: core.RoleMLEngineer, Name: "ML Engineer", Provider: "anthropic",
		Skills: []string{"model training", "feature engineering", "evaluation"},
		Tools:  []string{"notebook"}, Priority: 6,
	},
	{
		Role: core.RoleMobileDeveloper, Name: "Mobile Developer", Provider: "anthropic",
		Skills: []string{"ios", "android", "react native"},
		Tools:  []string{"code-editor", "device-simulator"}, Priority: 6,
	},
	{
		Role: core.RoleCodeReviewer, Name: "Code Reviewer", Provider: "anthropic",
		Skills: []string{"code review", "refactoring", "best practices"},
		Tools:  []string{"diff-viewer"}, Priority: 6,
	},
	{
		Role: core.RoleErrorHandler, Name: "Error Handler", Provider: "anthropic",
		Skills: []string{"debugging", "failure analysis", "recovery"},
		Tools:  []string{"log-viewer"}, Priority: 5,
	},
	{
		Role: core.RoleGeneralAssistant, Name: "General Assistant", Provider: "ollama",
		Skills: []string{"general programming", "explanations"},
		Tools:  []string{"code-editor"}, Priority: 4,
	},
}

var builtinAliases = map[string]core.WorkerRole{
	"frontend":   core.RoleFrontendDeveloper,
	"designer":   core.RoleUIDesigner,
	"backend":    core.RoleBackendDeveloper,
	"database":   core.RoleDatabaseEngineer,
	"dba":        core.RoleDatabaseEngineer,
	"fullstack":  core.RoleFullstackDeveloper,
	"devops":     core.RoleDevOpsEngineer,
	"qa":         core.RoleQAEngineer,
	"tester":     core.RoleQAEngineer,
	"security":   core.RoleSecuritySpecialist,
	"writer":     core.RoleTechnicalWriter,
	"docs":       core.RoleTechnicalWriter,
	"data":       core.RoleDataEngineer,
	"ml":         core.RoleMLEngineer,
	"mobile":     core.RoleMobileDeveloper,
	"reviewer":   core.RoleCodeReviewer,
	"generalist": core.RoleGeneralAssistant,
	"general":    core.RoleGeneralAssistant,
}

// Default returns the built-in roster of every known worker role.
func Default() *Roster {
	r, err := New(builtin...)
	if err != nil {
		panic(err)
	}
	for a, target := range builtinAliases {
		if err := r.alias(a, target); err != nil {
			panic(err)
		}
	}
	return r
}
