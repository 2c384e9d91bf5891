package variant

import (
	"errors"
	"fmt"
	"sort"

	"github.com/parleylabs/parley/internal/session"
)

// ErrUnknownVariant rejects a payload whose declared agentType is not
// registered. A declared-but-unrecognized type never falls back.
var ErrUnknownVariant = errors.New("unknown variant")

// BuilderFunc produces the opaque instruction text for a session from
// its validated context. Pure; content is opaque to the lifecycle core.
type BuilderFunc func(Context) string

// Registration binds a variant name to everything the factory needs:
// field schema, prompt builder, checkpoint schedule, and the closing
// instruction used for the goodbye utterance.
type Registration struct {
	Schema  []Field
	Prompt  BuilderFunc
	Timing  session.Schedule
	Goodbye string
	Default bool
}

// Registry is the process-wide variant table. It is built once at
// startup, validated, and read-only afterward, so concurrent reads
// across sessions need no synchronization.
type Registry struct {
	entries     map[string]Registration
	defaultName string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds a variant. Duplicate names, missing builders, and
// malformed schedules are startup-configuration bugs and fail the
// build here rather than surfacing per-session.
func (r *Registry) Register(name string, reg Registration) error {
	if name == "" {
		return errors.New("variant name cannot be empty")
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("variant %q already registered", name)
	}
	if reg.Prompt == nil {
		return fmt.Errorf("variant %q: prompt builder is required", name)
	}
	if err := reg.Timing.Validate(); err != nil {
		return fmt.Errorf("variant %q: %w", name, err)
	}
	if reg.Default && r.defaultName != "" {
		return fmt.Errorf("variant %q: default already set to %q", name, r.defaultName)
	}

	r.entries[name] = reg
	if reg.Default {
		r.defaultName = name
	}
	return nil
}

// Get looks up a registration by name.
func (r *Registry) Get(name string) (Registration, bool) {
	reg, ok := r.entries[name]
	return reg, ok
}

// Names returns the registered variant names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the fallback variant used when the inbound payload
// declares no agentType at all.
func (r *Registry) Default() string { return r.defaultName }

// Resolve validates an inbound session-start payload and produces an
// immutable Context.
//
// Payload shapes, in precedence order:
//   - {"agentType": "...", ...fields}: the declared variant must be
//     registered; an unrecognized value is rejected, no fallback.
//   - {"tutor_context": {camelCase fields...}}: legacy shape, mapped to
//     the default variant with keys rewritten to snake_case.
//   - anything else without agentType: default variant, top-level keys
//     rewritten to snake_case.
func (r *Registry) Resolve(payload map[string]any) (Context, error) {
	name, fields, err := r.classify(payload)
	if err != nil {
		return Context{}, err
	}

	reg, ok := r.entries[name]
	if !ok {
		return Context{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return buildContext(name, reg.Schema, fields)
}

func (r *Registry) classify(payload map[string]any) (string, map[string]any, error) {
	if tag, present := payload["agentType"]; present {
		name, ok := tag.(string)
		if !ok || name == "" {
			return "", nil, fmt.Errorf("%w: agentType must be a non-empty string", ErrUnknownVariant)
		}
		fields := make(map[string]any, len(payload))
		for k, v := range payload {
			if k == "agentType" {
				continue
			}
			fields[camelToSnake(k)] = v
		}
		return name, fields, nil
	}

	if r.defaultName == "" {
		return "", nil, fmt.Errorf("%w: no agentType and no default variant", ErrUnknownVariant)
	}

	// Legacy shape: tutor fields nested under tutor_context, camelCase.
	if nested, ok := payload["tutor_context"].(map[string]any); ok {
		fields := make(map[string]any, len(nested))
		for k, v := range nested {
			fields[camelToSnake(k)] = v
		}
		return r.defaultName, fields, nil
	}

	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		fields[camelToSnake(k)] = v
	}
	return r.defaultName, fields, nil
}

// Builtin builds the registry of shipped variants. Called once from
// main; a failure here is fatal at process start.
func Builtin() (*Registry, error) {
	r := NewRegistry()
	if err := r.Register(TutorName, tutorRegistration()); err != nil {
		return nil, err
	}
	if err := r.Register(InterviewName, interviewRegistration()); err != nil {
		return nil, err
	}
	return r, nil
}
