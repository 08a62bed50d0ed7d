package services

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"fivelines/models"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

var ErrUnknownPromptType = errors.New("unknown prompt type")

// PromptSpec is the fixed configuration for one prompt type.
type PromptSpec struct {
	System          string         `yaml:"system"`
	MaxTokens       int            `yaml:"max_tokens"`
	ToolName        string         `yaml:"tool"`
	ToolDescription string         `yaml:"tool_description"`
	Schema          map[string]any `yaml:"schema"`
}

// Tool returns the structured-output tool for this prompt, or nil when the
// prompt declares none.
func (p PromptSpec) Tool() *ToolSpec {
	if p.ToolName == "" || len(p.Schema) == 0 {
		return nil
	}
	return &ToolSpec{Name: p.ToolName, Description: p.ToolDescription, Schema: p.Schema}
}

// PromptRegistry is a read-only lookup of system prompts by prompt type.
type PromptRegistry struct {
	prompts map[models.PromptType]PromptSpec
}

// NewPromptRegistry loads the embedded prompts, or the YAML file at path
// when path is non-empty.
func NewPromptRegistry(path string) (*PromptRegistry, error) {
	data := defaultPrompts
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompts file: %w", err)
		}
		data = b
	}
	return ParsePrompts(data)
}

func ParsePrompts(data []byte) (*PromptRegistry, error) {
	var raw map[string]PromptSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}

	reg := &PromptRegistry{prompts: make(map[models.PromptType]PromptSpec, len(raw))}
	for key, spec := range raw {
		kind := models.PromptType(key)
		if !kind.Valid() {
			return nil, fmt.Errorf("parse prompts: %w: %q", ErrUnknownPromptType, key)
		}
		spec.System = strings.TrimSpace(spec.System)
		reg.prompts[kind] = spec
	}
	for _, kind := range models.PromptTypes {
		spec, ok := reg.prompts[kind]
		if !ok {
			return nil, fmt.Errorf("parse prompts: missing prompt %q", kind)
		}
		if spec.System == "" {
			return nil, fmt.Errorf("parse prompts: prompt %q has an empty system prompt", kind)
		}
	}
	return reg, nil
}

func (r *PromptRegistry) Prompt(kind models.PromptType) (PromptSpec, error) {
	spec, ok := r.prompts[kind]
	if !ok {
		return PromptSpec{}, fmt.Errorf("%w: %q", ErrUnknownPromptType, kind)
	}
	return spec, nil
}
