package codegen

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	mkdirPerm = 0755
	filePerm  = 0644
)

// Generator generates an indexer package from event signatures.
type Generator struct {
	Name       string   // Indexer name (e.g., "ERC20Token")
	Package    string   // Go package name (default: lowercased Name)
	Events     []string // Event signatures
	OutputDir  string   // Output directory (default: ./indexers/<package>)
	ImportPath string   // Go import path (default: derived from go.mod)
	Force      bool     // Overwrite existing files
	DryRun     bool     // Report the files without writing them

	// Out receives progress messages. Defaults to os.Stdout.
	Out io.Writer
}

// GeneratedFiles lists the paths written by Generate.
type GeneratedFiles struct {
	EntitiesFile string
	IndexerFile  string
	ReadmeFile   string
}

// Generate renders and writes all files of the package.
func (g *Generator) Generate() (*GeneratedFiles, error) {
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	events, err := g.parseEvents()
	if err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}

	abiJSON, err := ABIJSON(events)
	if err != nil {
		return nil, fmt.Errorf("failed to render ABI: %w", err)
	}

	g.applyDefaults()

	data := &TemplateData{
		Name:        g.Name,
		Package:     g.Package,
		IndexerType: strings.ToLower(g.Name),
		ImportPath:  g.ImportPath,
		Framework:   frameworkModule,
		ABI:         abiJSON,
		Events:      events,
	}

	if !g.Force {
		if _, err := os.Stat(g.OutputDir); err == nil {
			return nil, fmt.Errorf("output directory already exists: %s (use --force to overwrite)", g.OutputDir)
		}
	}

	files := &GeneratedFiles{}
	renders := []struct {
		path     *string
		render   func(*TemplateData) (string, error)
		filename string
	}{
		{&files.EntitiesFile, RenderEntities, "entities.go"},
		{&files.IndexerFile, RenderIndexer, "indexer.go"},
		{&files.ReadmeFile, RenderReadme, "README.md"},
	}

	// render everything before touching the disk
	contents := make([]string, len(renders))
	for i, r := range renders {
		if contents[i], err = r.render(data); err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", r.filename, err)
		}
		*r.path = filepath.Join(g.OutputDir, r.filename)
	}

	for i, r := range renders {
		if err := g.writeFile(*r.path, contents[i]); err != nil {
			return nil, err
		}
	}

	return files, nil
}

func (g *Generator) applyDefaults() {
	if g.Package == "" {
		g.Package = strings.ToLower(g.Name)
	}
	if g.OutputDir == "" {
		g.OutputDir = filepath.Join(".", "indexers", g.Package)
	}
	if g.ImportPath == "" {
		modulePath, err := getModulePath()
		if err != nil {
			g.ImportPath = "yourproject/indexers/" + g.Package
		} else {
			g.ImportPath = modulePath + "/" + filepath.ToSlash(filepath.Clean(g.OutputDir))
		}
	}
	if g.Out == nil {
		g.Out = os.Stdout
	}
}

func (g *Generator) validate() error {
	if g.Name == "" {
		return errors.New("indexer name is required")
	}
	if len(g.Events) == 0 {
		return errors.New("at least one event signature is required")
	}
	if !eventNamePattern.MatchString(g.Name) {
		return fmt.Errorf("indexer name should be a PascalCase identifier: %s", g.Name)
	}

	return nil
}

// parseEvents parses the signatures and rejects names the generated package
// cannot hold twice.
func (g *Generator) parseEvents() ([]*EventSignature, error) {
	events := make([]*EventSignature, 0, len(g.Events))
	seen := make(map[string]bool)

	for i, sig := range g.Events {
		event, err := ParseEventSignature(sig)
		if err != nil {
			return nil, fmt.Errorf("event signature #%d '%s': %w", i+1, sig, err)
		}

		if seen[event.Name] {
			return nil, fmt.Errorf("duplicate event name: %s", event.Name)
		}
		seen[event.Name] = true

		fields := make(map[string]bool, len(event.Params))
		for _, p := range event.Params {
			if reservedFields[p.FieldName()] {
				return nil, fmt.Errorf("event %s: parameter %s clashes with the %s field of every record",
					event.Name, p.Name, p.FieldName())
			}
			if fields[p.FieldName()] {
				return nil, fmt.Errorf("event %s: parameters map to the same field %s", event.Name, p.FieldName())
			}
			fields[p.FieldName()] = true
		}

		events = append(events, event)
	}

	return events, nil
}

func (g *Generator) writeFile(path, content string) error {
	if g.DryRun {
		fmt.Fprintf(g.Out, "Would create: %s\n", path)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), mkdirPerm); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	if !g.Force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(content), filePerm); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	fmt.Fprintf(g.Out, "Generated: %s\n", path)
	return nil
}

// getModulePath reads the module path from go.mod in the working directory.
func getModulePath() (string, error) {
	data, err := os.ReadFile("go.mod")
	if err != nil {
		return "", err
	}

	for line := range strings.SplitSeq(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "module")), nil
		}
	}

	return "", errors.New("module directive not found in go.mod")
}

// PrintSummary prints what was generated and how to enable it.
func (g *Generator) PrintSummary(files *GeneratedFiles) {
	out := g.Out
	fmt.Fprintf(out, "\nGenerated indexer %s (package %s) in %s\n", g.Name, g.Package, g.OutputDir)
	for _, f := range []string{files.EntitiesFile, files.IndexerFile, files.ReadmeFile} {
		fmt.Fprintf(out, "  • %s\n", f)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Add to your config.yaml:")
	fmt.Fprintf(out, "     indexers:\n")
	fmt.Fprintf(out, "       - name: \"%s\"\n", g.Package)
	fmt.Fprintf(out, "         type: \"%s\"\n", strings.ToLower(g.Name))
	fmt.Fprintf(out, "         address: \"0xYourContractAddress\"\n")
	fmt.Fprintf(out, "         start_block: 0\n")
	fmt.Fprintln(out, "  2. Import the package for its registration side effect:")
	fmt.Fprintf(out, "     import _ \"%s\"\n", g.ImportPath)
}
