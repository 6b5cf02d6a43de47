package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// GitBranch reads the checked-out branch from .git/HEAD without shelling
// out. Returns "" for detached heads and non-git directories.
func GitBranch(projectDir string) string {
	data, err := os.ReadFile(filepath.Join(projectDir, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	head := strings.TrimSpace(string(data))
	const prefix = "ref: refs/heads/"
	if strings.HasPrefix(head, prefix) {
		return strings.TrimPrefix(head, prefix)
	}
	return ""
}
