// Package seed loads the achievement catalog from a YAML file and upserts it
// by name, so the worker can start against an empty database.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/classvest/achievement-engine/internal/application/command"
	"github.com/classvest/achievement-engine/internal/domain/achievement"
)

// Catalog is the file layout:
//
//	achievements:
//	  - name: First Step
//	    rarity: common
//	    trigger_type: automatic
//	    trigger_config: {metric: investment_count, operator: ">=", value: 1}
//	    points: 10
type Catalog struct {
	Achievements []Definition `yaml:"achievements"`
}

// Definition is one achievement entry.
type Definition struct {
	Name          string                     `yaml:"name"`
	Description   string                     `yaml:"description"`
	Category      string                     `yaml:"category"`
	Rarity        string                     `yaml:"rarity"`
	TriggerType   string                     `yaml:"trigger_type"`
	TriggerConfig *achievement.TriggerConfig `yaml:"trigger_config"`
	Points        int                        `yaml:"points"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

// ErrEmptyCatalog is returned for a file without achievements.
var ErrEmptyCatalog = errors.New("seed: catalog has no achievements")

// LoadCatalog reads and parses path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses YAML and rejects duplicate names.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("seed: parse catalog: %w", err)
	}
	if len(c.Achievements) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[string]struct{}, len(c.Achievements))
	for i, d := range c.Achievements {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("seed: achievement #%d has no name", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("seed: duplicate achievement %q", name)
		}
		seen[name] = struct{}{}
	}
	return &c, nil
}

// Command converts a definition into an upsert-by-name command.
func (d Definition) Command() command.DefineAchievementCommand {
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	return command.DefineAchievementCommand{
		UpsertByName:  true,
		Name:          strings.TrimSpace(d.Name),
		Description:   d.Description,
		Category:      d.Category,
		Rarity:        achievement.Rarity(d.Rarity),
		TriggerType:   achievement.TriggerType(d.TriggerType),
		TriggerConfig: d.TriggerConfig,
		Points:        d.Points,
		IsActive:      active,
		AdminID:       "seed",
	}
}

// Definer is satisfied by command.DefineAchievementHandler.
type Definer interface {
	Handle(ctx context.Context, cmd command.DefineAchievementCommand) (*command.DefineAchievementResult, error)
}

// Result summarizes an Apply call.
type Result struct {
	Created int
	Updated int
}

// Apply upserts every definition. It stops at the first invalid entry.
func (c *Catalog) Apply(ctx context.Context, definer Definer) (Result, error) {
	var res Result
	for _, d := range c.Achievements {
		out, err := definer.Handle(ctx, d.Command())
		if err != nil {
			return res, fmt.Errorf("seed: %q: %w", d.Name, err)
		}
		if out.Created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}
