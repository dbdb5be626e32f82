package gateway

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tools.yaml
var defaultToolsYAML []byte

// SlotKind is the type of value a workflow slot accepts.
type SlotKind string

const (
	SlotImage  SlotKind = "image"
	SlotText   SlotKind = "text"
	SlotNumber SlotKind = "number"
	SlotSelect SlotKind = "select"
)

// Slot binds one request parameter to one workflow node field.
type Slot struct {
	NodeID    string   `yaml:"node_id" json:"node_id"`
	FieldName string   `yaml:"field_name" json:"field_name"`
	Kind      SlotKind `yaml:"kind" json:"kind"`
	Required  bool     `yaml:"required" json:"required"`
	Default   any      `yaml:"default" json:"default,omitempty"`
	Min       *float64 `yaml:"min" json:"min,omitempty"`
	Max       *float64 `yaml:"max" json:"max,omitempty"`
	Options   []string `yaml:"options" json:"options,omitempty"`
}

// Limits are per-user budgets per minute. Zero disables the limit.
type Limits struct {
	UploadsPerMinute int `yaml:"uploads_per_minute" json:"uploads_per_minute"`
	RunsPerMinute    int `yaml:"runs_per_minute" json:"runs_per_minute"`
}

// ToolConfig describes one tool. Tools of the same family share the
// one-active-job rule.
type ToolConfig struct {
	Name       string          `yaml:"name" json:"name"`
	Family     string          `yaml:"family" json:"family"`
	WorkflowID string          `yaml:"workflow_id" json:"-"`
	Cost       int             `yaml:"cost" json:"cost"`
	Limits     Limits          `yaml:"limits" json:"limits"`
	Slots      map[string]Slot `yaml:"slots" json:"slots"`
}

type toolsFile struct {
	Tools []ToolConfig `yaml:"tools"`
}

// LoadTools reads tool definitions from path, or the built-in set when path
// is empty.
func LoadTools(path string) ([]ToolConfig, error) {
	data := defaultToolsYAML
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read tools config: %w", err)
		}
		data = raw
	}
	return ParseTools(data)
}

// ParseTools decodes and validates a tools document.
func ParseTools(data []byte) ([]ToolConfig, error) {
	var file toolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tools config: %w", err)
	}
	if len(file.Tools) == 0 {
		return nil, errors.New("tools config: no tools defined")
	}
	seen := make(map[string]bool, len(file.Tools))
	for i := range file.Tools {
		tool := &file.Tools[i]
		tool.Name = strings.TrimSpace(tool.Name)
		if err := tool.validate(); err != nil {
			return nil, err
		}
		if seen[tool.Name] {
			return nil, fmt.Errorf("tools config: duplicate tool %q", tool.Name)
		}
		seen[tool.Name] = true
	}
	sort.Slice(file.Tools, func(i, j int) bool { return file.Tools[i].Name < file.Tools[j].Name })
	return file.Tools, nil
}

func (t ToolConfig) validate() error {
	switch {
	case t.Name == "":
		return errors.New("tools config: tool name is required")
	case strings.TrimSpace(t.Family) == "":
		return fmt.Errorf("tools config: %s: family is required", t.Name)
	case strings.TrimSpace(t.WorkflowID) == "":
		return fmt.Errorf("tools config: %s: workflow_id is required", t.Name)
	case t.Cost <= 0:
		return fmt.Errorf("tools config: %s: cost must be positive", t.Name)
	case len(t.Slots) == 0:
		return fmt.Errorf("tools config: %s: at least one slot is required", t.Name)
	}
	for param, slot := range t.Slots {
		if slot.NodeID == "" || slot.FieldName == "" {
			return fmt.Errorf("tools config: %s.%s: node_id and field_name are required", t.Name, param)
		}
		switch slot.Kind {
		case SlotImage, SlotText, SlotNumber:
		case SlotSelect:
			if len(slot.Options) == 0 {
				return fmt.Errorf("tools config: %s.%s: select needs options", t.Name, param)
			}
		default:
			return fmt.Errorf("tools config: %s.%s: unknown kind %q", t.Name, param, slot.Kind)
		}
		if slot.Min != nil && slot.Max != nil && *slot.Min > *slot.Max {
			return fmt.Errorf("tools config: %s.%s: min exceeds max", t.Name, param)
		}
	}
	return nil
}

// ImageSlots returns the image parameters of the tool, sorted.
func (t ToolConfig) ImageSlots() []string {
	var out []string
	for param, slot := range t.Slots {
		if slot.Kind == SlotImage {
			out = append(out, param)
		}
	}
	sort.Strings(out)
	return out
}
