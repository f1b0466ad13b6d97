package gemini

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"

	"github.com/phrazzld/melody-api/internal/domain"
)

//go:embed prompt.tmpl
var defaultPromptTemplate string

// loadTemplate parses the template at path, or the built-in one when path is empty.
func loadTemplate(path string) (*template.Template, error) {
	content := defaultPromptTemplate
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read prompt template from %s: %v",
				ErrInvalidConfig, path, err)
		}
		content = string(data)
	}

	tmpl, err := template.New("composition").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", ErrInvalidConfig, err)
	}
	return tmpl, nil
}

// renderPrompt executes the template for the request.
func renderPrompt(tmpl *template.Template, req domain.GenerationRequest) (string, error) {
	data := promptData{
		Genre:       req.Genre,
		Key:         req.Key,
		Mode:        req.Mode,
		Tempo:       req.Tempo,
		Length:      req.Length,
		Temperature: req.Temperature,
		Prompt:      req.Prompt,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
