package agent

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Agent is a subagent definition: a Markdown file whose YAML frontmatter
// names the agent.
type Agent struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	FilePath    string `yaml:"-" json:"-"`
}

// Registry holds the subagents discovered in a directory.
type Registry struct {
	AgentsDir string
	agents    map[string]*Agent
	warnings  []string
}

// NewRegistry creates a registry for agentsDir.
// If agentsDir is empty, uses ~/.claude/agents as default
func NewRegistry(agentsDir string) *Registry {
	if agentsDir == "" {
		home, _ := os.UserHomeDir()
		agentsDir = filepath.Join(home, ".claude", "agents")
	}

	return &Registry{
		AgentsDir: agentsDir,
		agents:    make(map[string]*Agent),
	}
}

// Discover scans the agents directory and one level of subdirectories for
// agent files. A missing directory yields an empty registry, not an error.
// Files that fail to parse are skipped and reported by Warnings.
func (r *Registry) Discover() (map[string]*Agent, error) {
	if _, err := os.Stat(r.AgentsDir); os.IsNotExist(err) {
		return r.agents, nil
	}

	err := filepath.WalkDir(r.AgentsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == r.AgentsDir {
				return nil
			}
			rel, _ := filepath.Rel(r.AgentsDir, path)
			if strings.Contains(rel, string(filepath.Separator)) || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".md") || d.Name() == "README.md" {
			return nil
		}

		agent, err := parseAgentFile(path)
		if err != nil {
			r.warnings = append(r.warnings, fmt.Sprintf("failed to parse %s: %v", path, err))
			return nil
		}
		r.agents[agent.Name] = agent
		return nil
	})

	return r.agents, err
}

// Register adds an agent definition directly.
func (r *Registry) Register(agent *Agent) {
	r.agents[agent.Name] = agent
}

// Exists checks if an agent with the given name exists in the registry
func (r *Registry) Exists(agentName string) bool {
	_, exists := r.agents[agentName]
	return exists
}

// Get retrieves an agent by name
func (r *Registry) Get(agentName string) (*Agent, bool) {
	agent, exists := r.agents[agentName]
	return agent, exists
}

// Names returns the registered agent names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Warnings returns the parse problems met during Discover.
func (r *Registry) Warnings() []string {
	return r.warnings
}

func parseAgentFile(path string) (*Agent, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	frontmatter := extractFrontmatter(content)
	if frontmatter == nil {
		return nil, fmt.Errorf("no frontmatter found")
	}

	var agent Agent
	if err := yaml.Unmarshal(frontmatter, &agent); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	if agent.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}

	agent.FilePath = path
	return &agent, nil
}

// extractFrontmatter returns the YAML between the leading --- markers.
func extractFrontmatter(content []byte) []byte {
	lines := strings.Split(string(content), "\n")
	if len(lines) < 3 || strings.TrimSpace(lines[0]) != "---" {
		return nil
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return []byte(strings.Join(lines[1:i], "\n"))
		}
	}

	return nil
}
