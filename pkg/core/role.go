package core

import "strings"

// WorkerRole identifies a role-specialized worker.
type WorkerRole string

const (
	RoleCoordinator        WorkerRole = "coordinator"
	RoleArchitect          WorkerRole = "architect"
	RoleFrontendDeveloper  WorkerRole = "frontend-developer"
	RoleUIDesigner         WorkerRole = "ui-designer"
	RoleBackendDeveloper   WorkerRole = "backend-developer"
	RoleDatabaseEngineer   WorkerRole = "database-engineer"
	RoleFullstackDeveloper WorkerRole = "fullstack-developer"
	RoleDevOpsEngineer     WorkerRole = "devops-engineer"
	RoleQAEngineer         WorkerRole = "qa-engineer"
	RoleSecuritySpecialist WorkerRole = "security-specialist"
	RoleTechnicalWriter    WorkerRole = "technical-writer"
	RoleDataEngineer       WorkerRole = "data-engineer"
	RoleMLEngineer         WorkerRole = "ml-engineer"
	RoleMobileDeveloper    WorkerRole = "mobile-developer"
	RoleCodeReviewer       WorkerRole = "code-reviewer"
	RoleErrorHandler       WorkerRole = "error-handler"
	RoleGeneralAssistant   WorkerRole = "general-assistant"
)

// BuiltinRoles lists every built-in role in roster order.
func BuiltinRoles() []WorkerRole {
	return []WorkerRole{
		RoleCoordinator,
		RoleArchitect,
		RoleFrontendDeveloper,
		RoleUIDesigner,
		RoleBackendDeveloper,
		RoleDatabaseEngineer,
		RoleFullstackDeveloper,
		RoleDevOpsEngineer,
		RoleQAEngineer,
		RoleSecuritySpecialist,
		RoleTechnicalWriter,
		RoleDataEngineer,
		RoleMLEngineer,
		RoleMobileDeveloper,
		RoleCodeReviewer,
		RoleErrorHandler,
		RoleGeneralAssistant,
	}
}

// NormalizeRole lowercases a role key and folds spaces and underscores into dashes.
func NormalizeRole(raw string) WorkerRole {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "-", "_", "-").Replace(key)
	return WorkerRole(key)
}

// String implements fmt.Stringer.
func (r WorkerRole) String() string { return string(r) }

// Builtin reports whether r is one of the built-in roles.
func (r WorkerRole) Builtin() bool {
	_, ok := r.phase()
	return ok
}

// Phase returns the functional phase a role contributes a task to.
// Roles without a task-graph phase, including unknown roles, map to PhaseSupport.
func (r WorkerRole) Phase() Phase {
	p, ok := r.phase()
	if !ok {
		return PhaseSupport
	}
	return p
}

func (r WorkerRole) phase() (Phase, bool) {
	switch r {
	case RoleCoordinator, RoleArchitect:
		return PhasePlan, true
	case RoleFrontendDeveloper, RoleUIDesigner, RoleMobileDeveloper:
		return PhaseFrontend, true
	case RoleBackendDeveloper, RoleDatabaseEngineer, RoleDataEngineer, RoleMLEngineer:
		return PhaseBackend, true
	case RoleFullstackDeveloper:
		return PhaseIntegrate, true
	case RoleQAEngineer:
		return PhaseTest, true
	case RoleDevOpsEngineer:
		return PhaseDeploy, true
	case RoleTechnicalWriter:
		return PhaseDocument, true
	case RoleGeneralAssistant:
		return PhaseGeneral, true
	case RoleSecuritySpecialist, RoleCodeReviewer, RoleErrorHandler:
		return PhaseSupport, true
	}
	return "", false
}

// Phase is a functional stage of the task graph.
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhaseFrontend  Phase = "frontend"
	PhaseBackend   Phase = "backend"
	PhaseIntegrate Phase = "integrate"
	PhaseTest      Phase = "test"
	PhaseDeploy    Phase = "deploy"
	PhaseDocument  Phase = "document"
	PhaseGeneral   Phase = "general"
	PhaseSupport   Phase = "support"
)

// GraphPhases returns the phases that produce tasks, in emission order.
func GraphPhases() []Phase {
	return []Phase{
		PhasePlan,
		PhaseFrontend,
		PhaseBackend,
		PhaseIntegrate,
		PhaseTest,
		PhaseDeploy,
		PhaseDocument,
	}
}

// Implementation reports whether tasks in the phase build product code.
func (p Phase) Implementation() bool {
	return p == PhaseFrontend || p == PhaseBackend || p == PhaseIntegrate
}
