package runner

import (
	"fmt"
	"sort"
	"strings"
)

// Section is one block of the assembled system prompt. Lower Priority
// renders earlier; instructions in later sections are understood to be
// overridden by earlier ones when they conflict.
type Section struct {
	Name     string
	Priority int
	Content  string
}

// Section priorities for the standard prompt layout.
const (
	PriorityIdentity     = 0
	PriorityCoordination = 10
	PrioritySkills       = 20
	PriorityMemory       = 30
	PriorityWorkspace    = 40
	PriorityTask         = 50
)

const coordinationInstructions = `You are one of several agents working the same task in parallel.
You can see the other agents' shared work under your context directories.

To participate you must end your work with exactly one coordination action:
- Call new_answer with your complete candidate answer when you believe you have the best solution.
- Call vote with the agent_id of another agent whose existing answer you consider best, and a short reason.

Calling new_answer after vote (or vice versa) replaces your earlier choice; the last action counts.`

// AssemblePrompt renders sections sorted by priority, then name, so
// identical inputs always produce identical prompts. Empty sections
// are skipped.
func AssemblePrompt(sections []Section) string {
	ordered := make([]Section, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.Content) != "" {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})

	parts := make([]string, 0, len(ordered))
	for _, s := range ordered {
		parts = append(parts, strings.TrimSpace(s.Content))
	}
	return strings.Join(parts, "\n\n")
}

// promptSections builds the standard section list for one attempt.
func (r *Runner) promptSections() []Section {
	sections := []Section{
		{Name: "identity", Priority: PriorityIdentity, Content: r.cfg.SystemPrompt},
		{Name: "coordination", Priority: PriorityCoordination, Content: coordinationInstructions},
	}
	if len(r.cfg.Skills) > 0 {
		sections = append(sections, Section{
			Name:     "skills",
			Priority: PrioritySkills,
			Content:  "Skills available to you:\n- " + strings.Join(r.cfg.Skills, "\n- "),
		})
	}
	if len(r.cfg.MemoryNotes) > 0 {
		sections = append(sections, Section{
			Name:     "memory",
			Priority: PriorityMemory,
			Content:  "Relevant notes from memory:\n- " + strings.Join(r.cfg.MemoryNotes, "\n- "),
		})
	}
	sections = append(sections, Section{
		Name:     "workspace",
		Priority: PriorityWorkspace,
		Content:  r.workspaceDescription(),
	})
	return sections
}

func (r *Runner) workspaceDescription() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your workspace directory is %s. You may read and write anywhere under it; use workspace-relative paths with the file tools.", r.cfg.WorkspaceDir)
	if len(r.cfg.ContextDirs) > 0 {
		b.WriteString("\nRead-only context directories with other agents' work:\n")
		for _, dir := range r.cfg.ContextDirs {
			fmt.Fprintf(&b, "- %s\n", dir)
		}
	}
	return b.String()
}
