// Package catalog holds the wellness task templates used by the recommender.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/chairwatch/internal/domain"
)

//go:embed tasks.yaml
var defaultYAML []byte

// Well-known template ids.
const (
	StandUp   = "stand-up"
	Hydration = "hydration"
)

// ErrInvalidCatalog is returned when a catalog fails validation.
var ErrInvalidCatalog = errors.New("invalid task catalog")

// Template is a task definition.
type Template struct {
	ID              string          `yaml:"id"`
	Title           string          `yaml:"title"`
	Description     string          `yaml:"description"`
	DurationSeconds int             `yaml:"durationSeconds"`
	Priority        domain.Priority `yaml:"priority"`
	Category        domain.Category `yaml:"category"`
	Adaptive        bool            `yaml:"adaptive"`
	Reason          string          `yaml:"reason"`
}

// Task instantiates the template.
func (t Template) Task() domain.Task {
	return domain.Task{
		ID:              t.ID,
		Title:           t.Title,
		Description:     t.Description,
		DurationSeconds: t.DurationSeconds,
		Priority:        t.Priority,
		Category:        t.Category,
	}
}

type file struct {
	Tasks []Template `yaml:"tasks"`
}

// Catalog is an immutable set of templates.
type Catalog struct {
	templates []Template
	byID      map[string]Template
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	c := &Catalog{templates: f.Tasks, byID: make(map[string]Template, len(f.Tasks))}
	for _, t := range f.Tasks {
		if t.ID == "" || t.Title == "" {
			return nil, fmt.Errorf("%w: task without id or title", ErrInvalidCatalog)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, t.ID)
		}
		if t.DurationSeconds <= 0 {
			return nil, fmt.Errorf("%w: %q has no duration", ErrInvalidCatalog, t.ID)
		}
		switch t.Priority {
		case domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
		default:
			return nil, fmt.Errorf("%w: %q has priority %q", ErrInvalidCatalog, t.ID, t.Priority)
		}
		c.byID[t.ID] = t
	}

	for _, id := range []string{StandUp, Hydration} {
		if _, ok := c.byID[id]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidCatalog, id)
		}
	}
	for _, cat := range domain.PredictedCategories {
		if _, ok := c.Adaptive(cat); !ok {
			return nil, fmt.Errorf("%w: no adaptive task for category %q", ErrInvalidCatalog, cat)
		}
	}
	return c, nil
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task catalog: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded task catalog: %v", err))
	}
	return c
}

// Get returns the template with id.
func (c *Catalog) Get(id string) (Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Task returns a fresh task for id.
func (c *Catalog) Task(id string) (domain.Task, bool) {
	t, ok := c.byID[id]
	if !ok {
		return domain.Task{}, false
	}
	return t.Task(), true
}

// Adaptive returns the template used when the predictor picks cat.
func (c *Catalog) Adaptive(cat domain.Category) (Template, bool) {
	for _, t := range c.templates {
		if t.Adaptive && t.Category == cat {
			return t, true
		}
	}
	return Template{}, false
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	return len(c.templates)
}
