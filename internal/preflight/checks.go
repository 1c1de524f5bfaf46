package preflight

import (
	"log"
	"os/exec"

	"github.com/peterje/obsidianki-mcp/internal/models"
)

// Check looks up the wrapped tool on PATH. A missing binary is a warning,
// not a fatal condition: spawn failures still surface per request.
func Check(name string) models.CLIStatus {
	path, err := exec.LookPath(name)
	if err != nil {
		log.Printf("warning: %s not found on PATH; start requests will fail until it is installed", name)
		return models.CLIStatus{Name: name, Installed: false}
	}
	log.Printf("%s found (%s)", name, path)
	return models.CLIStatus{Name: name, Installed: true, Path: path}
}
