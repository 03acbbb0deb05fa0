package config

import (
	"fmt"
	"os"
	"regexp"

	"expertpanel-backend/models"

	"gopkg.in/yaml.v3"
)

// SeedFile lists expert plugins to register, each with an optional decision tree
type SeedFile struct {
	Plugins []SeedPlugin `yaml:"plugins"`
}

type SeedPlugin struct {
	Slug         string               `yaml:"slug"`
	Name         string               `yaml:"name"`
	Domain       string               `yaml:"domain"`
	Description  string               `yaml:"description"`
	Version      string               `yaml:"version"`
	WebSearch    bool                 `yaml:"web_search"`
	SystemPrompt string               `yaml:"system_prompt"`
	DecisionTree *models.DecisionTree `yaml:"decision_tree"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// LoadSeed reads and validates a seed file
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a seed document. Every plugin needs a unique slug and a
// name, and every tree must pass DecisionTree.Validate.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("error parsing seed file: %w", err)
	}

	seen := map[string]bool{}
	for i, p := range seed.Plugins {
		if !slugPattern.MatchString(p.Slug) {
			return nil, fmt.Errorf("plugin %d: invalid slug %q", i, p.Slug)
		}
		if seen[p.Slug] {
			return nil, fmt.Errorf("plugin %q: duplicate slug", p.Slug)
		}
		seen[p.Slug] = true

		if p.Name == "" {
			return nil, fmt.Errorf("plugin %q: name is required", p.Slug)
		}
		if p.Version == "" {
			seed.Plugins[i].Version = "1.0.0"
		}

		if tree := p.DecisionTree; tree != nil {
			// node ids are map keys in the file
			for id, node := range tree.Nodes {
				if node.ID == "" {
					node.ID = id
					tree.Nodes[id] = node
				}
			}
			if err := tree.Validate(); err != nil {
				return nil, fmt.Errorf("plugin %q: decision tree: %w", p.Slug, err)
			}
			if tree.Name == "" {
				tree.Name = p.Name + " decision tree"
			}
		}
	}

	return &seed, nil
}

// Plugin converts the seed entry to a model ready for upsert
func (p SeedPlugin) Plugin() *models.Plugin {
	return &models.Plugin{
		Slug:         p.Slug,
		Name:         p.Name,
		Domain:       p.Domain,
		Description:  p.Description,
		Version:      p.Version,
		WebSearch:    p.WebSearch,
		SystemPrompt: p.SystemPrompt,
	}
}
