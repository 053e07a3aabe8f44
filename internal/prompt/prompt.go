// Package prompt is the registry of instruction templates used to phrase
// tasks for the model.
//
// The registry is parsed once from an embedded YAML document and is
// read-only afterwards, so it is safe for concurrent use. Templates contain
// "{}" (or "{box}") placeholders filled by the caller.
package prompt

import (
	"bytes"
	_ "embed"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrNoPrompts is returned when a task/dataset pair has no candidate templates.
var ErrNoPrompts = errors.New("no prompts")

//go:embed prompts.yaml
var defaultYAML []byte

// Entry holds the template lists of one task or dataset.
type Entry struct {
	Original []string `yaml:"original"`
	Manual   []string `yaml:"manual"`
	GPT3     []string `yaml:"gpt3"`
	Template []string `yaml:"template"`
}

// Len returns the total number of templates.
func (e Entry) Len() int {
	return len(e.Original) + len(e.Manual) + len(e.GPT3) + len(e.Template)
}

// Registry maps task and dataset names to their templates.
type Registry struct {
	entries map[string]Entry
}

// Parse decodes a registry from YAML: a mapping from task name to Entry.
// Unknown entry fields are rejected.
func Parse(data []byte) (*Registry, error) {
	var entries map[string]Entry
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&entries); err != nil {
		return nil, errors.Wrap(err, "parsing prompt registry")
	}
	return &Registry{entries: entries}, nil
}

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	return Parse(defaultYAML)
})

// Default returns the built-in registry.
func Default() *Registry {
	r, err := defaultRegistry()
	if err != nil {
		// The embedded document is covered by tests.
		panic(err)
	}
	return r
}

// Lookup returns the entry for name, or ErrNoPrompts if there is none.
func (r *Registry) Lookup(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, errors.Wrapf(ErrNoPrompts, "task %q", name)
	}
	return e, nil
}

// Tasks returns the registered names in sorted order.
func (r *Registry) Tasks() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Prompter draws templates from a registry. The flags select which lists
// contribute candidates.
type Prompter struct {
	Registry *Registry // nil means Default()
	Original bool
	Manual   bool
	GPT3     bool
	Single   bool // always return the first candidate
}

// NewPrompter returns a Prompter over the default registry using every list.
func NewPrompter() *Prompter {
	return &Prompter{Original: true, Manual: true, GPT3: true}
}

func (p *Prompter) registry() *Registry {
	if p.Registry != nil {
		return p.Registry
	}
	return Default()
}

// Candidates returns the templates eligible for task and dataset, in order:
// the task's original list, the task's manual list, the dataset's manual
// list, the task's gpt3 list and the dataset's gpt3 list. Unknown names
// contribute nothing; dataset may be empty.
func (p *Prompter) Candidates(task, dataset string) []string {
	r := p.registry()
	t := r.entries[task]
	d := r.entries[dataset]
	var out []string
	if p.Original {
		out = append(out, t.Original...)
	}
	if p.Manual {
		out = append(out, t.Manual...)
		out = append(out, d.Manual...)
	}
	if p.GPT3 {
		out = append(out, t.GPT3...)
		out = append(out, d.GPT3...)
	}
	return out
}

// Random picks one candidate uniformly with rng, or the first when Single is
// set. It returns ErrNoPrompts if there are no candidates.
func (p *Prompter) Random(task, dataset string, rng *rand.Rand) (string, error) {
	candidates := p.Candidates(task, dataset)
	if len(candidates) == 0 {
		return "", errors.Wrapf(ErrNoPrompts, "for %s/%s", task, dataset)
	}
	if p.Single {
		return candidates[0], nil
	}
	return candidates[rng.IntN(len(candidates))], nil
}
