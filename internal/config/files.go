package config

import (
	"os"
	"path/filepath"
	"strings"
)

// LoadIdentity reads the agent's identity file. A missing file is not an
// error — the agent simply runs without an identity section.
func LoadIdentity(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// LoadPrompts reads every .md file in a prompts directory into a name →
// body map, keyed by filename without extension.
func LoadPrompts(dir string) map[string]string {
	out := map[string]string{}
	if dir == "" {
		return out
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		out[name] = string(data)
	}
	return out
}

// LoadSkills scans a skills directory. Each .md file is one skill; the
// first non-empty line is its description.
func LoadSkills(dir string) []SkillEntry {
	var out []SkillEntry
	if dir == "" {
		return out
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		desc := ""
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(strings.TrimLeft(line, "# "))
			if line != "" {
				desc = line
				break
			}
		}
		out = append(out, SkillEntry{
			Name:        strings.TrimSuffix(e.Name(), ".md"),
			Description: desc,
			Path:        path,
		})
	}
	return out
}
