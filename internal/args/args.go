// Package args maps structured spawn requests onto obsidianki's command line.
package args

import "strconv"

// SpawnSpec describes one obsidianki invocation. Zero-valued fields
// contribute nothing to the argument vector.
type SpawnSpec struct {
	Query        string   `json:"query,omitempty"`
	Cards        int      `json:"cards,omitempty"`
	Notes        []string `json:"notes,omitempty"`
	Deck         string   `json:"deck,omitempty"`
	SkipApproval bool     `json:"skip_approval,omitempty"`
	DryRun       bool     `json:"dry_run,omitempty"`
	ExtraArgs    []string `json:"additional_args,omitempty"`
}

// Build renders the argument vector for a spawn spec. Values are passed
// through as-is; obsidianki itself rejects anything it doesn't like.
func Build(spec SpawnSpec) []string {
	var argv []string
	if spec.Query != "" {
		argv = append(argv, "-q", spec.Query)
	}
	if spec.Cards > 0 {
		argv = append(argv, "--cards", strconv.Itoa(spec.Cards))
	}
	for _, note := range spec.Notes {
		argv = append(argv, "--note", note)
	}
	if spec.Deck != "" {
		argv = append(argv, "--deck", spec.Deck)
	}
	if spec.SkipApproval {
		argv = append(argv, "--mcp")
	}
	if spec.DryRun {
		argv = append(argv, "--dry-run")
	}
	argv = append(argv, spec.ExtraArgs...)
	return argv
}
