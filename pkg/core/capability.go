package core

// AgentCapability is the static descriptor of one worker.
type AgentCapability struct {
	Role            WorkerRole `yaml:"role" json:"role"`
	Name            string     `yaml:"name" json:"name"`
	Provider        string     `yaml:"provider" json:"provider"`
	Skills          []string   `yaml:"skills" json:"skills"`
	Tools           []string   `yaml:"tools" json:"tools"`
	Specializations []string   `yaml:"-" json:"specializations"`
	CanDelegate     bool       `yaml:"can_delegate" json:"can_delegate"`
	Priority        int        `yaml:"priority" json:"priority"`
}

// Clone returns a copy that shares no slices with c.
func (c AgentCapability) Clone() AgentCapability {
	c.Skills = append([]string(nil), c.Skills...)
	c.Tools = append([]string(nil), c.Tools...)
	c.Specializations = append([]string(nil), c.Specializations...)
	return c
}
