package fragments

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tsparklabs/tspark/pkg/models"
)

// delimiter marks the beginning and end of the YAML front-matter block.
const delimiter = "---"

// frontMatter is the serialized metadata of a fragment file. Enabled and
// PriorityLevel are pointers so a file that omits a key gets the default
// while stored `enabled: false` and `priorityLevel: 0` survive round trips.
type frontMatter struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description,omitempty"`
	PriorityLevel *int   `yaml:"priorityLevel"`
	Enabled       *bool  `yaml:"enabled"`
	Include       string `yaml:"include"`
}

// parseFragment decodes one .mdt file: a front-matter block between ---
// delimiters followed by the body text.
func parseFragment(data []byte) (*models.Fragment, error) {
	meta, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}

	var fm frontMatter
	if err := yaml.Unmarshal(meta, &fm); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}
	if fm.Name == "" {
		return nil, fmt.Errorf("front matter missing name")
	}

	f := &models.Fragment{
		Name:        fm.Name,
		Description: fm.Description,
		Include:     models.IncludeMode(fm.Include),
		Text:        strings.TrimSpace(string(body)),
	}
	if fm.PriorityLevel != nil {
		f.PriorityLevel = *fm.PriorityLevel
	}
	if fm.Enabled != nil {
		f.Enabled = *fm.Enabled
	}
	f.ApplyDefaults(fm.Enabled != nil, fm.PriorityLevel != nil)
	return f, nil
}

// formatFragment encodes a fragment back into the .mdt file shape.
func formatFragment(f *models.Fragment) ([]byte, error) {
	enabled := f.Enabled
	priority := f.PriorityLevel
	meta, err := yaml.Marshal(frontMatter{
		Name:          f.Name,
		Description:   f.Description,
		PriorityLevel: &priority,
		Enabled:       &enabled,
		Include:       string(f.Include),
	})
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	buf.Write(meta)
	buf.WriteString(delimiter + "\n")
	if f.Text != "" {
		buf.WriteString(f.Text)
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// splitFrontMatter separates the YAML block from the body.
func splitFrontMatter(data []byte) (meta, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != delimiter {
		return nil, nil, fmt.Errorf("missing opening front-matter delimiter")
	}

	var metaLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == delimiter {
			closed = true
			break
		}
		metaLines = append(metaLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing front-matter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	return []byte(strings.Join(metaLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}
