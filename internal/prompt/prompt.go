// Package prompt renders the generation prompts for chat, flashcards and
// quizzes from a YAML catalog.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalog []byte

const (
	Chat       = "chat"
	Flashcards = "flashcards"
	Quiz       = "quiz"
)

// Data is the input of every template. Unused fields are ignored.
type Data struct {
	Context  string
	Question string
	Count    int
}

type catalogFile struct {
	System  string            `yaml:"system"`
	Prompts map[string]string `yaml:"prompts"`
}

type Catalog struct {
	system    string
	templates map[string]*template.Template
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path, falling back to the embedded one when path
// is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}

	c := &Catalog{system: strings.TrimSpace(f.System), templates: make(map[string]*template.Template)}
	for _, name := range []string{Chat, Flashcards, Quiz} {
		body, ok := f.Prompts[name]
		if !ok {
			return nil, fmt.Errorf("prompt catalog: missing %q", name)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("prompt %q: %w", name, err)
		}
		c.templates[name] = tmpl
	}
	return c, nil
}

func (c *Catalog) System() string {
	return c.system
}

func (c *Catalog) Render(name string, data Data) (string, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}
