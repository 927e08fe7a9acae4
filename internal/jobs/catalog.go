// Package jobs holds the catalog of open roles shown on the site and handed
// to the assistant as reference data.
package jobs

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
)

// Type is the contract type of a job.
type Type string

const (
	Contract  Type = "Contract"
	Permanent Type = "Permanent"
)

// All is the filter value that matches every category or type.
const All = "All"

// Job is one open role.
type Job struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Category         string   `json:"category"`
	Location         string   `json:"location"`
	Pay              string   `json:"pay"`
	Type             Type     `json:"type"`
	Description      string   `json:"description,omitempty"`
	Responsibilities []string `json:"responsibilities,omitempty"`
	Qualifications   []string `json:"qualifications,omitempty"`
}

//go:embed catalog.json
var defaultCatalog []byte

// Catalog is an immutable, ordered list of jobs.
type Catalog struct {
	jobs []Job
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("jobs: embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog from a JSON file holding an array of jobs.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a JSON array of jobs. Ids must be present and unique.
func Parse(b []byte) (*Catalog, error) {
	var list []Job
	if err := sonic.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	seen := make(map[string]bool, len(list))
	for i, j := range list {
		if j.ID == "" {
			return nil, fmt.Errorf("job %d has no id", i)
		}
		if seen[j.ID] {
			return nil, fmt.Errorf("duplicate job id %q", j.ID)
		}
		seen[j.ID] = true
	}
	return &Catalog{jobs: list}, nil
}

// All returns a copy of every job in catalog order.
func (c *Catalog) All() []Job { return slices.Clone(c.jobs) }

// Get looks a job up by id.
func (c *Catalog) Get(id string) (Job, bool) {
	i := slices.IndexFunc(c.jobs, func(j Job) bool { return j.ID == id })
	if i < 0 {
		return Job{}, false
	}
	return c.jobs[i], true
}

// Categories lists distinct categories in catalog order.
func (c *Catalog) Categories() []string {
	var out []string
	for _, j := range c.jobs {
		if !slices.Contains(out, j.Category) {
			out = append(out, j.Category)
		}
	}
	return out
}

// Types lists distinct job types in catalog order.
func (c *Catalog) Types() []Type {
	var out []Type
	for _, j := range c.jobs {
		if !slices.Contains(out, j.Type) {
			out = append(out, j.Type)
		}
	}
	return out
}

// Filter narrows the listing. Empty or All category/type match everything.
type Filter struct {
	Query     string
	Category  string
	Type      string
	SavedOnly bool
	Saved     []string
}

// Filter returns the jobs matching f, in catalog order. Query matches the
// title or the location, case-insensitively.
func (c *Catalog) Filter(f Filter) []Job {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]Job, 0, len(c.jobs))
	for _, j := range c.jobs {
		if q != "" && !strings.Contains(strings.ToLower(j.Title), q) && !strings.Contains(strings.ToLower(j.Location), q) {
			continue
		}
		if f.Category != "" && f.Category != All && j.Category != f.Category {
			continue
		}
		if f.Type != "" && f.Type != All && string(j.Type) != f.Type {
			continue
		}
		if f.SavedOnly && !slices.Contains(f.Saved, j.ID) {
			continue
		}
		out = append(out, j)
	}
	return out
}

// InstructionJSON renders the catalog as indented JSON for a system instruction.
func (c *Catalog) InstructionJSON() (string, error) {
	b, err := sonic.ConfigStd.MarshalIndent(c.jobs, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
