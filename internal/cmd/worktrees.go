package cmd

import (
	"path/filepath"
	"strings"

	"github.com/squadron-dev/squadron/internal/worktree"
)

// agentWorktreeInfo is one agent worktree discovered from git state.
// The on-disk layout (<root>/<teamID>-<ts>/<role>) and branch naming
// (squadron/<teamID>/<role>) let any process reconstruct team
// membership without in-memory records.
type agentWorktreeInfo struct {
	TeamID string
	Role   string
	Path   string
	Branch string
}

// teamWorktrees groups the repository's squadron agent worktrees by
// team ID.
func teamWorktrees(git *worktree.Git, projectRoot string) map[string][]agentWorktreeInfo {
	paths, err := git.ListWorktrees()
	if err != nil {
		return nil
	}
	root := filepath.Join(projectRoot, worktree.RootDirName) + string(filepath.Separator)

	teams := make(map[string][]agentWorktreeInfo)
	for _, p := range paths {
		if !strings.HasPrefix(p, root) {
			continue
		}
		rel := strings.TrimPrefix(p, root)
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 2 {
			continue
		}
		teamDir, role := parts[0], parts[1]
		teamID := teamDir
		if idx := strings.LastIndex(teamDir, "-"); idx > 0 {
			teamID = teamDir[:idx]
		}
		teams[teamID] = append(teams[teamID], agentWorktreeInfo{
			TeamID: teamID,
			Role:   role,
			Path:   p,
			Branch: worktree.BranchName(teamID, role),
		})
	}
	return teams
}
