// Package funnels defines ordered path-pattern funnels and evaluates how many
// sessions reach each step on a given day.
package funnels

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

var (
	ErrTooFewSteps          = errors.New("a funnel needs at least 2 steps")
	ErrInvalidStep          = errors.New("invalid funnel step")
	ErrEvaluationInProgress = errors.New("funnel evaluation already in progress")
)

// Step is one funnel stage.
type Step struct {
	Name        string `json:"name" yaml:"name"`
	PathPattern string `json:"path_pattern" yaml:"path_pattern"`
}

// stepInput also accepts page_pattern, the field name used by older clients.
type stepInput struct {
	Name        string `json:"name" yaml:"name"`
	PathPattern string `json:"path_pattern" yaml:"path_pattern"`
	PagePattern string `json:"page_pattern" yaml:"page_pattern"`
}

func (in stepInput) step() Step {
	pattern := in.PathPattern
	if pattern == "" {
		pattern = in.PagePattern
	}
	return Step{Name: in.Name, PathPattern: pattern}
}

// UnmarshalJSON decodes a step, falling back to page_pattern.
func (s *Step) UnmarshalJSON(data []byte) error {
	var in stepInput
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = in.step()
	return nil
}

// UnmarshalYAML decodes a step, falling back to page_pattern.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var in stepInput
	if err := node.Decode(&in); err != nil {
		return err
	}
	*s = in.step()
	return nil
}

// Funnel is an ordered list of steps.
type Funnel struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"not null" json:"name" yaml:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty" yaml:"description"`
	Steps       []Step    `gorm:"serializer:json;type:text;not null" json:"steps" yaml:"steps"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the funnel definition.
func (f *Funnel) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("funnel name is required")
	}
	if len(f.Steps) < 2 {
		return ErrTooFewSteps
	}
	for i, s := range f.Steps {
		if strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.PathPattern) == "" {
			return fmt.Errorf("%w: step %d needs a name and a path pattern", ErrInvalidStep, i+1)
		}
	}
	return nil
}

// Create validates and stores a new active funnel.
func Create(db *gorm.DB, f *Funnel) error {
	if err := f.Validate(); err != nil {
		return err
	}
	f.IsActive = true
	if err := db.Create(f).Error; err != nil {
		return fmt.Errorf("create funnel: %w", err)
	}
	return nil
}

// Get loads a funnel by id.
func Get(db *gorm.DB, id uint) (*Funnel, error) {
	var f Funnel
	if err := db.First(&f, id).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// List returns funnels ordered by name; activeOnly filters inactive ones.
func List(db *gorm.DB, activeOnly bool) ([]Funnel, error) {
	var out []Funnel
	q := db.Order("name ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list funnels: %w", err)
	}
	return out, nil
}

// MatchPath reports whether path satisfies pattern. A pattern ending in "*"
// matches by prefix; any other pattern must match exactly. Matching is
// case-sensitive.
func MatchPath(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return pattern == path
}
