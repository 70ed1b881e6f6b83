// Package prompts assembles agent system prompts from template files.
//
// Templates live in a prompts directory and can be edited while the
// server runs; a file watcher reloads them on change. When the
// directory or a file is missing the embedded defaults are used.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

//go:embed defaults/*.txt
var defaultFS embed.FS

const (
	fileLeaderStart = "leader_start.txt"
	fileAgentsStart = "agents_start.txt"
	fileAll         = "all.txt"
)

var templateFiles = []string{fileLeaderStart, fileAgentsStart, fileAll}

// Loader resolves prompt templates with live overrides from a directory.
type Loader struct {
	dir string

	mu    sync.RWMutex
	files map[string]string
}

// NewLoader reads templates from dir over the embedded defaults. A
// missing or empty dir is fine; defaults cover every template.
func NewLoader(dir string) (*Loader, error) {
	l := &Loader{dir: dir}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads all templates. Override files that fail to read fall
// back to the embedded default for that template.
func (l *Loader) Reload() error {
	files := make(map[string]string, len(templateFiles))
	for _, name := range templateFiles {
		data, err := defaultFS.ReadFile("defaults/" + name)
		if err != nil {
			return fmt.Errorf("embedded prompt %s: %w", name, err)
		}
		files[name] = string(data)

		if l.dir == "" {
			continue
		}
		if override, err := os.ReadFile(filepath.Join(l.dir, name)); err == nil {
			files[name] = string(override)
		}
	}

	l.mu.Lock()
	l.files = files
	l.mu.Unlock()
	return nil
}

func (l *Loader) template(name string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.files[name]
}

// Dir returns the overrides directory, empty when running on embedded
// defaults only.
func (l *Loader) Dir() string { return l.dir }

// SystemPrompt assembles the full system prompt for one team member.
// roster is the complete team including the leader; toolCatalog is the
// rendered tool list for the member's role.
func (l *Loader) SystemPrompt(name, leader string, roster []string, toolCatalog string) string {
	var header string
	if name == leader {
		peers := exclude(roster, name)
		header = l.template(fileLeaderStart)
		header = strings.ReplaceAll(header, "{{NAME}}", name)
		header = strings.ReplaceAll(header, "{{COLLABORATORS}}", joinNames(peers))
	} else {
		peers := exclude(exclude(roster, name), leader)
		header = l.template(fileAgentsStart)
		header = strings.ReplaceAll(header, "{{NAME}}", name)
		header = strings.ReplaceAll(header, "{{LEADER}}", leader)
		header = strings.ReplaceAll(header, "{{COLLABORATORS}}", joinNames(peers))
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimRight(header, "\n"))
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimRight(l.template(fileAll), "\n"))
	if toolCatalog != "" {
		sb.WriteString("\n\n## Available Tools:\n")
		sb.WriteString(strings.TrimRight(toolCatalog, "\n"))
	}
	sb.WriteString("\n")
	return sb.String()
}

func exclude(names []string, drop string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}

// joinNames renders a roster fragment: "Harper", "Harper and Benjamin",
// "Harper, Benjamin, and Lucas", or "no one".
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return "no one"
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
}
