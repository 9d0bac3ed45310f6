package worker

import (
	"fmt"
	"strings"

	"github.com/jllopis/orchestra/pkg/engine"
	"github.com/jllopis/orchestra/pkg/llm"
)

// Messages renders the chat transcript sent upstream for one task.
func Messages(req engine.ExecutionRequest) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(req)},
		{Role: llm.RoleUser, Content: userPrompt(req)},
	}
}

func systemPrompt(req engine.ExecutionRequest) string {
	var b strings.Builder
	name := string(req.Role)
	if req.Capability != nil && req.Capability.Name != "" {
		name = req.Capability.Name
	}
	fmt.Fprintf(&b, "You are %s, the %s on a team of specialised agents.\n", name, req.Role)
	if phase := req.Task.Phase; phase != "" {
		fmt.Fprintf(&b, "You own the %s phase of the plan.\n", phase)
	}
	if c := req.Capability; c != nil {
		if len(c.Skills) > 0 {
			fmt.Fprintf(&b, "Skills: %s.\n", strings.Join(c.Skills, ", "))
		}
		if len(c.Tools) > 0 {
			fmt.Fprintf(&b, "Tools you may assume: %s.\n", strings.Join(c.Tools, ", "))
		}
	}
	b.WriteString("Answer with the deliverable for your task only. Be concrete and concise.")
	return b.String()
}

func userPrompt(req engine.ExecutionRequest) string {
	var b strings.Builder
	if req.Request != "" {
		fmt.Fprintf(&b, "Overall request: %s\n\n", req.Request)
	}
	fmt.Fprintf(&b, "Your task (%s): %s", req.Task.ID, req.Task.Description)
	if len(req.Task.Dependencies) > 0 {
		fmt.Fprintf(&b, "\nIt builds on: %s.", strings.Join(req.Task.Dependencies, ", "))
	}
	if req.Task.RetryCount > 0 {
		fmt.Fprintf(&b, "\nThis is retry %d; the previous attempt failed.", req.Task.RetryCount)
	}
	return b.String()
}
