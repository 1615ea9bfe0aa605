package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/dyluth/depi/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the file Initialize creates.
const ConfigFile = config.DefaultPath

// Options fill in the generated depi.yml.
type Options struct {
	ServerURL string
	User      string
}

// Initialize writes depi.yml into dir and returns its path.
// If force is true, an existing depi.yml is replaced.
func Initialize(dir string, opts Options, force bool) (string, error) {
	path := filepath.Join(dir, ConfigFile)
	if !force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	if opts.ServerURL == "" {
		opts.ServerURL = config.Default().Client.ServerURL
	}
	content, err := render(opts)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := validateCreatedFile(path); err != nil {
		return "", err
	}
	return path, nil
}

func render(opts Options) ([]byte, error) {
	raw, err := templatesFS.ReadFile("templates/depi.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read depi.yml template: %w", err)
	}
	tmpl, err := template.New("depi.yml").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse depi.yml template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("failed to render depi.yml: %w", err)
	}
	return buf.Bytes(), nil
}

// validateCreatedFile loads the generated file the way every command does.
func validateCreatedFile(path string) error {
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("created %s is not valid: %w", ConfigFile, err)
	}
	return nil
}
