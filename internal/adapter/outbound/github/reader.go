package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Scheme prefixes paths served from a GitHub repository.
const Scheme = "github://"

// Location addresses one file in a repository.
// Format: github://owner/repo/path/to/file[@ref]
type Location struct {
	Owner string
	Repo  string
	Path  string
	Ref   string
}

// IsGitHubPath reports whether path uses the github:// scheme.
func IsGitHubPath(path string) bool {
	return strings.HasPrefix(path, Scheme)
}

// ParseLocation parses a github:// path into its components.
func ParseLocation(path string) (Location, error) {
	if !IsGitHubPath(path) {
		return Location{}, fmt.Errorf("invalid GitHub path: %s", path)
	}
	rest := strings.TrimPrefix(path, Scheme)

	var loc Location
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest, loc.Ref = rest[:at], rest[at+1:]
		if loc.Ref == "" {
			return Location{}, fmt.Errorf("invalid GitHub path %s: empty ref", path)
		}
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Location{}, fmt.Errorf("invalid GitHub path %s: expected github://owner/repo/path/to/file", path)
	}
	loc.Owner, loc.Repo, loc.Path = parts[0], parts[1], parts[2]
	return loc, nil
}

// APIPath is the contents endpoint of the location.
func (l Location) APIPath() string {
	apiPath := fmt.Sprintf("repos/%s/%s/contents/%s", l.Owner, l.Repo, l.Path)
	if l.Ref != "" {
		apiPath += "?ref=" + l.Ref
	}
	return apiPath
}

// CommandRunner runs the gh CLI with args and returns its stdout.
type CommandRunner func(ctx context.Context, args ...string) ([]byte, error)

// Reader reads schema and configuration files either from the local
// filesystem or, for github:// paths, through the authenticated gh CLI.
type Reader struct {
	run    CommandRunner
	logger *slog.Logger
}

// NewReader creates a Reader. A nil run executes the gh binary found on PATH.
func NewReader(run CommandRunner, logger *slog.Logger) *Reader {
	if run == nil {
		run = runGH
	}
	return &Reader{
		run:    run,
		logger: logger.With("component", "github_reader"),
	}
}

// ReadFile returns the content of path.
func (r *Reader) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if !IsGitHubPath(path) {
		return os.ReadFile(path)
	}
	loc, err := ParseLocation(path)
	if err != nil {
		return nil, err
	}

	log := r.logger.With(slog.String("path", path))
	log.Debug("Fetching file from GitHub")

	out, err := r.run(ctx, "api", loc.APIPath(), "--jq", ".content")
	if err != nil {
		log.Warn("gh api call failed", slog.Any("error", err))
		return nil, fmt.Errorf("failed to fetch %s: %w", path, err)
	}

	// The contents API wraps the base64 payload every 60 characters.
	encoded := strings.Join(strings.Fields(string(out)), "")
	if encoded == "" {
		return nil, fmt.Errorf("failed to fetch %s: empty response from GitHub", path)
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", path, err)
	}
	return content, nil
}

func runGH(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("gh CLI is not installed, see https://cli.github.com/")
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			if strings.Contains(msg, "not logged in") {
				return nil, fmt.Errorf("gh CLI is not authenticated, run 'gh auth login' first")
			}
			return nil, fmt.Errorf("gh command failed: %s", msg)
		}
		return nil, fmt.Errorf("gh command failed: %w", err)
	}
	return stdout.Bytes(), nil
}
