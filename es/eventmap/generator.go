package eventmap

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// EventInfo represents a discovered domain event struct.
type EventInfo struct {
	Name        string
	PackageName string
	ImportPath  string
	Fields      []FieldInfo
	Version     int
}

// RegisteredType is the string an EventInfo registers under in a
// serializer.Registry: the bare name for version 1, "Name.vN" otherwise.
func (e EventInfo) RegisteredType() string {
	if e.Version <= 1 {
		return e.Name
	}
	return fmt.Sprintf("%s.v%d", e.Name, e.Version)
}

// FieldInfo represents a struct field.
type FieldInfo struct {
	Name     string
	Type     string
	JSONTag  string
	Optional bool
}

// Config configures the code generation.
type Config struct {
	InputDir    string // Directory containing domain events
	OutputDir   string // Directory where generated code will be written
	OutputFile  string // Name of the generated file (default: event_mapping.gen.go)
	PackageName string // Package name for generated code
	ModulePath  string // Go module path for generating import paths
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		OutputFile:  "event_mapping.gen.go",
		PackageName: "generated",
	}
}

// Generator generates event registration code.
type Generator struct {
	config Config
	events []EventInfo
}

// NewGenerator creates a new generator with the given configuration.
func NewGenerator(config *Config) *Generator {
	return &Generator{
		config: *config,
		events: make([]EventInfo, 0),
	}
}

// Discover walks the input directory and discovers all domain event structs.
func (g *Generator) Discover() error {
	return filepath.WalkDir(g.config.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		version := g.extractVersion(path)

		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		packageName := file.Name.Name
		importPath := g.buildImportPath(path)

		for _, decl := range file.Decls {
			genDecl, ok := decl.(*ast.GenDecl)
			if !ok || genDecl.Tok != token.TYPE {
				continue
			}

			for _, spec := range genDecl.Specs {
				typeSpec, ok := spec.(*ast.TypeSpec)
				if !ok || !typeSpec.Name.IsExported() {
					continue
				}

				structType, ok := typeSpec.Type.(*ast.StructType)
				if !ok {
					continue
				}

				event := EventInfo{
					Name:        typeSpec.Name.Name,
					PackageName: packageName,
					ImportPath:  importPath,
					Version:     version,
					Fields:      g.extractFields(structType),
				}

				g.events = append(g.events, event)
			}
		}

		return nil
	})
}

// extractVersion extracts the version number from the directory path.
// Returns 1 if no version directory is found or if parsing fails.
func (g *Generator) extractVersion(path string) int {
	versionRegex := regexp.MustCompile(`/v(\d+)/`)
	matches := versionRegex.FindStringSubmatch(path)
	if len(matches) > 1 {
		var version int
		_, err := fmt.Sscanf(matches[1], "%d", &version)
		if err != nil || version < 1 {
			return 1
		}
		return version
	}
	return 1
}

// buildImportPath builds the import path for a given file path.
func (g *Generator) buildImportPath(filePath string) string {
	relPath, err := filepath.Rel(g.config.InputDir, filepath.Dir(filePath))
	if err != nil {
		relPath = filepath.Dir(filePath)
	}

	if g.config.ModulePath != "" {
		return filepath.Join(g.config.ModulePath, relPath)
	}

	absInput, err := filepath.Abs(g.config.InputDir)
	if err != nil {
		return filepath.ToSlash(relPath)
	}
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return filepath.ToSlash(relPath)
	}
	relPath, err = filepath.Rel(absInput, filepath.Dir(absFile))
	if err != nil {
		return filepath.ToSlash(relPath)
	}

	return filepath.ToSlash(relPath)
}

// extractFields extracts field information from a struct type.
func (g *Generator) extractFields(structType *ast.StructType) []FieldInfo {
	fields := make([]FieldInfo, 0)

	for _, field := range structType.Fields.List {
		if len(field.Names) == 0 {
			continue // Skip embedded fields
		}

		for _, name := range field.Names {
			if !name.IsExported() {
				continue
			}

			fieldInfo := FieldInfo{
				Name: name.Name,
				Type: g.typeToString(field.Type),
			}

			if field.Tag != nil {
				tag := strings.Trim(field.Tag.Value, "`")
				if strings.Contains(tag, "json:") {
					jsonTagRegex := regexp.MustCompile(`json:"([^"]+)"`)
					matches := jsonTagRegex.FindStringSubmatch(tag)
					if len(matches) > 1 {
						fieldInfo.JSONTag = strings.Split(matches[1], ",")[0]
						fieldInfo.Optional = strings.Contains(matches[1], "omitempty")
					}
				}
			}

			fields = append(fields, fieldInfo)
		}
	}

	return fields
}

// typeToString converts an AST type to a string representation.
func (g *Generator) typeToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + g.typeToString(t.X)
	case *ast.ArrayType:
		return "[]" + g.typeToString(t.Elt)
	case *ast.MapType:
		return "map[" + g.typeToString(t.Key) + "]" + g.typeToString(t.Value)
	case *ast.SelectorExpr:
		return g.typeToString(t.X) + "." + t.Sel.Name
	default:
		return "interface{}"
	}
}

// Generate generates the registration code and writes it to the output file.
func (g *Generator) Generate() error {
	if len(g.events) == 0 {
		return fmt.Errorf("no events discovered in %s", g.config.InputDir)
	}

	sort.Slice(g.events, func(i, j int) bool {
		if g.events[i].Name != g.events[j].Name {
			return g.events[i].Name < g.events[j].Name
		}
		return g.events[i].Version < g.events[j].Version
	})

	if err := os.MkdirAll(g.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	code := g.generateCode()

	outputPath := filepath.Join(g.config.OutputDir, g.config.OutputFile)
	if err := os.WriteFile(outputPath, []byte(code), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	testCode := g.generateTestCode()
	testOutputPath := filepath.Join(g.config.OutputDir, g.getTestFileName())
	if err := os.WriteFile(testOutputPath, []byte(testCode), 0o600); err != nil {
		return fmt.Errorf("failed to write test file: %w", err)
	}

	return nil
}

// generateCode generates the complete registration code.
func (g *Generator) generateCode() string {
	var sb strings.Builder

	sb.WriteString(g.generateHeader())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateImports())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateEventTypeOf())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateRegister())

	return sb.String()
}

// generateHeader generates the file header.
func (g *Generator) generateHeader() string {
	return fmt.Sprintf(`// Code generated by eventmap-gen. DO NOT EDIT.

package %s`, g.config.PackageName)
}

// generateImports generates the import statements.
func (g *Generator) generateImports() string {
	var sb strings.Builder

	sb.WriteString("import (\n")
	sb.WriteString("\t\"fmt\"\n")
	sb.WriteString("\n")
	sb.WriteString("\t\"github.com/riftlog/riftlog/es/serializer\"\n")

	importPaths := make(map[string]string)
	for _, event := range g.events {
		if event.ImportPath != "" {
			importPaths[event.ImportPath] = event.PackageName
		}
	}

	if len(importPaths) > 0 {
		sb.WriteString("\n")
		paths := make([]string, 0, len(importPaths))
		for path := range importPaths {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		for _, path := range paths {
			alias := importPaths[path]
			sb.WriteString(fmt.Sprintf("\t%s %q\n", alias, path))
		}
	}

	sb.WriteString(")")

	return sb.String()
}

// generateEventTypeOf generates the EventTypeOf function.
func (g *Generator) generateEventTypeOf() string {
	var sb strings.Builder

	sb.WriteString(`// EventTypeOf returns the registry type string for a given domain event
// value, so callers never need to hardcode the string passed to Append.
func EventTypeOf(e interface{}) (string, error) {
	switch e.(type) {
`)

	for _, event := range g.events {
		sb.WriteString(fmt.Sprintf("\tcase %s.%s, *%s.%s:\n",
			event.PackageName, event.Name, event.PackageName, event.Name))
		sb.WriteString(fmt.Sprintf("\t\treturn %q, nil\n", event.RegisteredType()))
	}

	sb.WriteString(`	default:
		return "", fmt.Errorf("eventmap: unknown event type %T", e)
	}
}`)

	return sb.String()
}

// generateRegister generates the Register function, which wires a factory
// for every discovered event type into a serializer.Registry.
func (g *Generator) generateRegister() string {
	var sb strings.Builder

	sb.WriteString(`// Register adds a decoding factory for every discovered event type to
// registry. Call it once at startup before subscribing or reading streams
// whose payloads need decoding.
func Register(registry *serializer.Registry) {
`)

	for _, event := range g.events {
		sb.WriteString(fmt.Sprintf("\tregistry.Register(%q, func() interface{} { return &%s.%s{} })\n",
			event.RegisteredType(), event.PackageName, event.Name))
	}

	sb.WriteString("}")

	return sb.String()
}

// getTestFileName returns the test file name based on the output file name.
func (g *Generator) getTestFileName() string {
	if strings.HasSuffix(g.config.OutputFile, ".gen.go") {
		return strings.TrimSuffix(g.config.OutputFile, ".gen.go") + ".gen_test.go"
	}
	if strings.HasSuffix(g.config.OutputFile, ".go") {
		return strings.TrimSuffix(g.config.OutputFile, ".go") + "_test.go"
	}
	return g.config.OutputFile + "_test.go"
}

// generateTestCode generates unit tests for the generated code.
func (g *Generator) generateTestCode() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`// Code generated by eventmap-gen. DO NOT EDIT.

package %s

import (
	"testing"

	"github.com/riftlog/riftlog/es/serializer"
`, g.config.PackageName))

	importPaths := make(map[string]string)
	for _, event := range g.events {
		if event.ImportPath != "" {
			importPaths[event.ImportPath] = event.PackageName
		}
	}

	if len(importPaths) > 0 {
		sb.WriteString("\n")
		paths := make([]string, 0, len(importPaths))
		for path := range importPaths {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		for _, path := range paths {
			alias := importPaths[path]
			sb.WriteString(fmt.Sprintf("\t%s %q\n", alias, path))
		}
	}

	sb.WriteString(")\n\n")

	sb.WriteString(g.generateTestEventTypeOf())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateTestRegister())

	return sb.String()
}

// generateTestEventTypeOf generates tests for the EventTypeOf function.
func (g *Generator) generateTestEventTypeOf() string {
	var sb strings.Builder

	sb.WriteString(`// TestEventTypeOf tests the EventTypeOf function.
func TestEventTypeOf(t *testing.T) {
	tests := []struct {
		name      string
		event     any
		wantType  string
		wantError bool
	}{
`)

	for _, event := range g.events {
		sb.WriteString("\t\t{\n")
		sb.WriteString(fmt.Sprintf("\t\t\tname:     %q,\n", event.Name+"V"+fmt.Sprint(event.Version)))
		sb.WriteString(fmt.Sprintf("\t\t\tevent:    %s.%s{},\n", event.PackageName, event.Name))
		sb.WriteString(fmt.Sprintf("\t\t\twantType: %q,\n", event.RegisteredType()))
		sb.WriteString("\t\t},\n")

		sb.WriteString("\t\t{\n")
		sb.WriteString(fmt.Sprintf("\t\t\tname:     %q,\n", event.Name+"V"+fmt.Sprint(event.Version)+"Pointer"))
		sb.WriteString(fmt.Sprintf("\t\t\tevent:    &%s.%s{},\n", event.PackageName, event.Name))
		sb.WriteString(fmt.Sprintf("\t\t\twantType: %q,\n", event.RegisteredType()))
		sb.WriteString("\t\t},\n")
	}

	sb.WriteString(`		{
			name:      "UnknownType",
			event:     struct{}{},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EventTypeOf(tt.event)
			if (err != nil) != tt.wantError {
				t.Fatalf("EventTypeOf() error = %v, wantError %v", err, tt.wantError)
			}
			if got != tt.wantType {
				t.Errorf("EventTypeOf() = %v, want %v", got, tt.wantType)
			}
		})
	}
}`)

	return sb.String()
}

// generateTestRegister generates a round-trip test through a real registry.
func (g *Generator) generateTestRegister() string {
	if len(g.events) == 0 {
		return ""
	}
	event := g.events[0]

	return fmt.Sprintf(`// TestRegister verifies every discovered event type decodes back to its
// original Go type once registered.
func TestRegister(t *testing.T) {
	registry := serializer.NewRegistry(nil)
	Register(registry)

	original := %s.%s{}
	payload, err := registry.Encode(original)
	if err != nil {
		t.Fatalf("Encode() failed: %%v", err)
	}

	decoded, err := registry.Decode(payload, %q)
	if err != nil {
		t.Fatalf("Decode() failed: %%v", err)
	}

	if _, ok := decoded.(*%s.%s); !ok {
		t.Errorf("Decode() = %%T, want *%s.%s", decoded)
	}
}`, event.PackageName, event.Name, event.RegisteredType(), event.PackageName, event.Name, event.PackageName, event.Name)
}
