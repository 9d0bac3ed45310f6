package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/orchestra/pkg/core"
)

func TestDefaultCoversBuiltinRoles(t *testing.T) {
	r := Default()
	assert.Equal(t, core.BuiltinRoles(), r.Roles())
	for _, role := range core.BuiltinRoles() {
		c, ok := r.Lookup(string(role))
		require.True(t, ok, role)
		assert.GreaterOrEqual(t, c.Priority, 1)
		assert.LessOrEqual(t, c.Priority, 10)
		assert.NotEmpty(t, c.Specializations)
	}
}

func TestLookupNormalizesAndResolvesAliases(t *testing.T) {
	r := Default()

	tests := []struct {
		key  string
		want core.WorkerRole
	}{
		{"frontend-developer", core.RoleFrontendDeveloper},
		{"Frontend Developer", core.RoleFrontendDeveloper},
		{"BACKEND_DEVELOPER", core.RoleBackendDeveloper},
		{"frontend", core.RoleFrontendDeveloper},
		{"qa", core.RoleQAEngineer},
		{"generalist", core.RoleGeneralAssistant},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c, ok := r.Lookup(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.want, c.Role)
		})
	}

	_, ok := r.Lookup("astronaut")
	assert.False(t, ok)
}

func TestLookupReturnsCopies(t *testing.T) {
	r := Default()
	c, _ := r.Lookup("architect")
	c.Skills[0] = "mutated"

	again, _ := r.Lookup("architect")
	assert.NotEqual(t, "mutated", again.Skills[0])
}

func TestNewClampsAndDerives(t *testing.T) {
	r, err := New(core.AgentCapability{
		Role:     "Custom Worker",
		Skills:   []string{"Go services", "go testing"},
		Priority: 42,
	})
	require.NoError(t, err)

	c, ok := r.Lookup("custom-worker")
	require.True(t, ok)
	assert.Equal(t, "Custom Worker", c.Name)
	assert.Equal(t, 10, c.Priority)
	assert.Equal(t, []string{"go", "services", "testing"}, c.Specializations)

	_, err = New(core.AgentCapability{Name: "nameless"})
	assert.Error(t, err)
}

func TestSubset(t *testing.T) {
	sub, err := Default().Subset("frontend", "qa-engineer")
	require.NoError(t, err)
	assert.Equal(t, []core.WorkerRole{core.RoleFrontendDeveloper, core.RoleQAEngineer}, sub.Roles())

	_, ok := sub.Lookup("frontend")
	assert.True(t, ok, "aliases for kept roles survive")
	_, ok = sub.Lookup("backend")
	assert.False(t, ok)

	_, err = Default().Subset("nobody")
	assert.Error(t, err)
}

func TestParseOverlay(t *testing.T) {
	doc := []byte(`
workers:
  - role: frontend-developer
    name: Svelte Specialist
    provider: ollama
    skills: [svelte, css]
    priority: 9
  - role: rust-developer
    skills: [rust]
aliases:
  rust: rust-developer
`)
	r, err := Parse(doc, Default())
	require.NoError(t, err)

	fe, ok := r.Lookup("frontend")
	require.True(t, ok)
	assert.Equal(t, "Svelte Specialist", fe.Name)
	assert.Equal(t, "ollama", fe.Provider)

	rust, ok := r.Lookup("rust")
	require.True(t, ok)
	assert.Equal(t, core.PhaseSupport, rust.Role.Phase())
	assert.Equal(t, len(core.BuiltinRoles())+1, r.Len())
}

func TestParseReplace(t *testing.T) {
	r, err := Parse([]byte("replace: true\nworkers:\n  - role: general-assistant\n"), Default())
	require.NoError(t, err)
	assert.Equal(t, []core.WorkerRole{core.RoleGeneralAssistant}, r.Roles())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("workers: ["), nil)
	assert.Error(t, err)

	_, err = Parse([]byte("workers: []\n"), nil)
	assert.Error(t, err)

	_, err = Parse([]byte("aliases:\n  x: nobody\n"), Default())
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers:\n  - role: qa-engineer\n    priority: 3\n"), 0o644))

	r, err := LoadFile(path, nil)
	require.NoError(t, err)
	c, ok := r.Lookup("qa-engineer")
	require.True(t, ok)
	assert.Equal(t, 3, c.Priority)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}
