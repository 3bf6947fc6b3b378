package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed templates/*.txt
var embedded embed.FS

// Template names.
const (
	TemplateTurnSystem      = "turn_system"
	TemplateTurnUser        = "turn_user"
	TemplateSkipSystem      = "skip_system"
	TemplateSkipUser        = "skip_user"
	TemplateDiscoverySystem = "discovery_system"
	TemplateDiscoveryUser   = "discovery_user"
	TemplateSearchQueries   = "search_queries"
	TemplateValidateAction  = "validate_action"
)

var ErrTemplateNotFound = errors.New("template not found")

// Resolver loads named templates from a filesystem. Template "x" is the
// file "x.txt" at the root of the filesystem.
type Resolver struct {
	fsys fs.FS
}

func NewResolver(fsys fs.FS) *Resolver {
	return &Resolver{fsys: fsys}
}

// DefaultResolver serves the templates compiled into the binary.
func DefaultResolver() *Resolver {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded templates missing: %v", err))
	}
	return NewResolver(sub)
}

// Resolve returns the raw text of the named template.
func (r *Resolver) Resolve(name string) (string, error) {
	data, err := fs.ReadFile(r.fsys, name+".txt")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return "", fmt.Errorf("failed to read template %s: %w", name, err)
	}
	return string(data), nil
}

// Render resolves a template and substitutes fields into it.
func (r *Resolver) Render(name string, fields map[string]string) (string, error) {
	tmpl, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	return Substitute(tmpl, fields), nil
}

// Substitute replaces each literal {{KEY}} with its value in a single pass,
// so values are never themselves substituted. Placeholders without a field
// are left as they are.
func Substitute(template string, fields map[string]string) string {
	if len(fields) == 0 {
		return template
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", fields[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
