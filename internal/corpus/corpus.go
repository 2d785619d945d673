package corpus

import (
	"errors"
	"fmt"
	"strings"
)

// Category tags the expected resource profile of a program.
type Category string

const (
	CategoryQuick        Category = "quick"
	CategoryCPUIntensive Category = "cpu_intensive"
	CategoryMemory       Category = "memory"
	CategoryUnknown      Category = "unknown"
)

// SourceFile is one file of a submission. The JSON names match the run event
// accepted by the execution service.
type SourceFile struct {
	Name       string `json:"name" yaml:"name"`
	Path       string `json:"path" yaml:"path"`
	Content    string `json:"content" yaml:"content"`
	Executable bool   `json:"toBeExec" yaml:"executable"`
}

// Program is a named, categorised set of source files.
type Program struct {
	Name           string       `json:"name" yaml:"name"`
	Category       Category     `json:"category" yaml:"category"`
	Files          []SourceFile `json:"files" yaml:"files"`
	ExpectedOutput string       `json:"expected_output,omitempty" yaml:"expected_output"`
}

// Language groups the programs available for one language tag.
type Language struct {
	Name     string    `yaml:"name"`
	Programs []Program `yaml:"programs"`
}

// Assignment pairs a session index with the program it will run.
type Assignment struct {
	Index    int
	Language string
	Program  Program
}

// Registry is an immutable, ordered language -> programs mapping.
type Registry struct {
	order    []string
	programs map[string][]Program
}

var ErrEmptyRegistry = errors.New("corpus: no languages defined")

// NewRegistry validates langs and builds a Registry that owns deep copies of
// them. Language order is preserved.
func NewRegistry(langs []Language) (*Registry, error) {
	if len(langs) == 0 {
		return nil, ErrEmptyRegistry
	}

	reg := &Registry{
		order:    make([]string, 0, len(langs)),
		programs: make(map[string][]Program, len(langs)),
	}

	var issues []string
	for idx, lang := range langs {
		name := strings.TrimSpace(lang.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("languages[%d]: name is required", idx))
			continue
		}
		if _, dup := reg.programs[name]; dup {
			issues = append(issues, fmt.Sprintf("languages[%d]: duplicate language %q", idx, name))
			continue
		}
		if len(lang.Programs) == 0 {
			issues = append(issues, fmt.Sprintf("languages[%d] (%s): at least one program is required", idx, name))
			continue
		}
		progs := make([]Program, 0, len(lang.Programs))
		for pIdx, p := range lang.Programs {
			if strings.TrimSpace(p.Name) == "" {
				issues = append(issues, fmt.Sprintf("%s.programs[%d]: name is required", name, pIdx))
				continue
			}
			if len(p.Files) == 0 {
				issues = append(issues, fmt.Sprintf("%s.programs[%d] (%s): at least one file is required", name, pIdx, p.Name))
				continue
			}
			progs = append(progs, p.clone())
		}
		reg.order = append(reg.order, name)
		reg.programs[name] = progs
	}

	if len(issues) > 0 {
		return nil, fmt.Errorf("corpus: invalid definition: %s", strings.Join(issues, "; "))
	}
	return reg, nil
}

// Languages returns the language tags in registry order.
func (r *Registry) Languages() []string {
	return append([]string(nil), r.order...)
}

// Programs returns the programs registered for lang, or nil.
func (r *Registry) Programs(lang string) []Program {
	progs, ok := r.programs[lang]
	if !ok {
		return nil
	}
	out := make([]Program, len(progs))
	for i, p := range progs {
		out[i] = p.clone()
	}
	return out
}

// Len reports the total number of programs across all languages.
func (r *Registry) Len() int {
	n := 0
	for _, progs := range r.programs {
		n += len(progs)
	}
	return n
}

// Filter returns a registry restricted to the given languages, in the order
// they appear in r. An empty list returns r unchanged.
func (r *Registry) Filter(languages []string) (*Registry, error) {
	if len(languages) == 0 {
		return r, nil
	}
	want := make(map[string]bool, len(languages))
	for _, l := range languages {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := r.programs[l]; !ok {
			return nil, fmt.Errorf("corpus: unknown language %q (available: %s)", l, strings.Join(r.order, ", "))
		}
		want[l] = true
	}
	langs := make([]Language, 0, len(want))
	for _, name := range r.order {
		if want[name] {
			langs = append(langs, Language{Name: name, Programs: r.programs[name]})
		}
	}
	return NewRegistry(langs)
}

// Assign returns n round-robin assignments.
func (r *Registry) Assign(n int) []Assignment {
	if n <= 0 || len(r.order) == 0 {
		return nil
	}
	out := make([]Assignment, n)
	for i := 0; i < n; i++ {
		lang := r.order[i%len(r.order)]
		progs := r.programs[lang]
		out[i] = Assignment{
			Index:    i,
			Language: lang,
			Program:  progs[i%len(progs)].clone(),
		}
	}
	return out
}

// CategoryOrUnknown returns the program category, defaulting to "unknown".
func (p Program) CategoryOrUnknown() Category {
	if strings.TrimSpace(string(p.Category)) == "" {
		return CategoryUnknown
	}
	return p.Category
}

func (p Program) clone() Program {
	cp := p
	cp.Files = append([]SourceFile(nil), p.Files...)
	return cp
}
