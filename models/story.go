package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Story is the fixed five-line narrative template.
type Story struct {
	Line1 string `json:"line1" binding:"required"`
	Line2 string `json:"line2" binding:"required"`
	Line3 string `json:"line3" binding:"required"`
	Line4 string `json:"line4" binding:"required"`
	Line5 string `json:"line5" binding:"required"`
}

// Lines returns the story lines in order.
func (s Story) Lines() [5]string {
	return [5]string{s.Line1, s.Line2, s.Line3, s.Line4, s.Line5}
}

func (s Story) Validate() error {
	for i, line := range s.Lines() {
		if strings.TrimSpace(line) == "" {
			return fmt.Errorf("line%d is empty", i+1)
		}
	}
	return nil
}

type StoryMetadata struct {
	Language string   `json:"language"`
	Tone     string   `json:"tone"`
	Themes   []string `json:"themes"`
}

// PathID accepts either a JSON number or a JSON string; models are not
// consistent about which one they emit. The decoded kind is kept so the id
// is written back the way it arrived.
type PathID struct {
	value  string
	number bool
}

func NumberPathID(n string) PathID { return PathID{value: n, number: true} }

func StringPathID(s string) PathID { return PathID{value: s} }

func (id PathID) String() string { return id.value }

func (id PathID) IsNumber() bool { return id.number }

func (id *PathID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("path id: %w", err)
		}
		*id = StringPathID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("path id must be a number or string: %w", err)
	}
	*id = NumberPathID(n.String())
	return nil
}

func (id PathID) MarshalJSON() ([]byte, error) {
	if id.number {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

type StoryPath struct {
	ID          PathID `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Focus       string `json:"focus"`
}

// PathSuggestions is the suggest_paths payload.
type PathSuggestions struct {
	Paths []StoryPath `json:"paths"`
}

func (p *PathSuggestions) Validate() error {
	if len(p.Paths) == 0 {
		return errors.New("paths is empty")
	}
	for i, path := range p.Paths {
		if strings.TrimSpace(path.Title) == "" {
			return fmt.Errorf("paths[%d].title is empty", i)
		}
	}
	return nil
}

// GeneratedStory is the generate_story payload.
type GeneratedStory struct {
	Story
	Metadata StoryMetadata `json:"metadata"`
}

func (g *GeneratedStory) Validate() error {
	return g.Story.Validate()
}

// RefinedLine is the refine_line payload.
type RefinedLine struct {
	Story       Story  `json:"story"`
	ChangedLine int    `json:"changed_line"`
	Explanation string `json:"explanation"`
}

func (r *RefinedLine) Validate() error {
	if err := r.Story.Validate(); err != nil {
		return fmt.Errorf("story: %w", err)
	}
	if r.ChangedLine < 1 || r.ChangedLine > 5 {
		return fmt.Errorf("changed_line %d out of range 1-5", r.ChangedLine)
	}
	return nil
}
