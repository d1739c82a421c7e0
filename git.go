package main

import (
	"fmt"
	"os/exec"
	"strings"
)

// GitOps wraps the git operations the pipeline needs
type GitOps struct {
	projectRoot string
}

// NewGitOps creates a new GitOps instance
func NewGitOps(projectRoot string) *GitOps {
	return &GitOps{projectRoot: projectRoot}
}

// IsRepo reports whether the project root is inside a git work tree
func (g *GitOps) IsRepo() bool {
	out, err := g.run("rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// CurrentBranch returns the current branch name
func (g *GitOps) CurrentBranch() (string, error) {
	out, err := g.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// LastCommit returns the last commit hash (short)
func (g *GitOps) LastCommit() string {
	out, err := g.run("rev-parse", "--short", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// CommitFiles stages the given paths and commits them when something
// actually changed. Returns true when a commit was created.
func (g *GitOps) CommitFiles(paths []string, message string) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}

	addArgs := append([]string{"add", "--"}, paths...)
	if _, err := g.run(addArgs...); err != nil {
		return false, fmt.Errorf("failed to stage files: %w", err)
	}

	statusArgs := append([]string{"status", "--porcelain", "--"}, paths...)
	status, _ := g.run(statusArgs...)
	if strings.TrimSpace(status) == "" {
		return false, nil
	}

	// --only keeps unrelated staged files out of the commit
	commitArgs := append([]string{"commit", "-m", message, "--only", "--"}, paths...)
	if _, err := g.run(commitArgs...); err != nil {
		return false, err
	}
	return true, nil
}

// run executes a git command and returns the output
func (g *GitOps) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.projectRoot
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s failed: %s", args[0], string(exitErr.Stderr))
		}
		return "", err
	}
	return string(out), nil
}

// AutoCommit commits a journey's generated artifacts after a passing
// verify when commits are enabled. Failures degrade to warnings; a
// commit problem never fails the pipeline.
func AutoCommit(cfg *ResolvedConfig, logger *RunLogger, journeyID string, artifacts []Artifact) {
	commits := cfg.Config.Commits
	if commits == nil || !commits.Enabled {
		return
	}

	git := NewGitOps(cfg.ProjectRoot)
	if !git.IsRepo() {
		logger.Warning("commits enabled but project is not a git repository")
		return
	}

	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		paths = append(paths, a.Path)
	}

	prefix := commits.Prefix
	if prefix == "" {
		prefix = "test:"
	}
	message := fmt.Sprintf("%s %s verified", prefix, journeyID)

	committed, err := git.CommitFiles(paths, message)
	if err != nil {
		logger.Warning(fmt.Sprintf("auto-commit failed: %v", err))
		return
	}
	if committed {
		logger.LogPrintln(fmt.Sprintf("Committed %s (%s)", journeyID, git.LastCommit()))
	}
}
