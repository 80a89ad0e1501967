// Package predictions implements the predictions category as a provider
// registry. A provider is registered under a name with an explicit set of
// capabilities; dispatch picks a provider by name, or unambiguously by
// capability when no name is given. Capability checks happen at registration
// time, so a dispatch never discovers mid-call that a provider cannot serve
// it.
package predictions

import (
	"context"
	"fmt"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to registry errors.
const (
	// CodeEmptyProviderName is returned when a provider registers without
	// a name.
	CodeEmptyProviderName = "EMPTY_PROVIDER_NAME"
	// CodeNoCapabilities is returned when a provider registers with no
	// capability implementations at all.
	CodeNoCapabilities = "NO_CAPABILITIES"
	// CodeProviderExists is returned when a name is registered twice.
	CodeProviderExists = "PROVIDER_EXISTS"
	// CodeProviderUnknown is returned when a named provider is not
	// registered.
	CodeProviderUnknown = "PROVIDER_UNKNOWN"
	// CodeNoProvider is returned when capability dispatch finds no provider
	// implementing the capability.
	CodeNoProvider = "NO_PROVIDER_FOR_CAPABILITY"
	// CodeAmbiguousProvider is returned when capability dispatch without a
	// name finds more than one candidate.
	CodeAmbiguousProvider = "AMBIGUOUS_PROVIDER"
	// CodeMissingCapability is returned when a named provider does not
	// implement the requested capability.
	CodeMissingCapability = "MISSING_CAPABILITY"
)

// ConvertInput asks for a text conversion: translation when the languages
// differ, speech synthesis when a voice is set.
type ConvertInput struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
	VoiceID        string
}

// ConvertResult is the outcome of a conversion. Text carries translations;
// AudioStream carries synthesized speech.
type ConvertResult struct {
	Text        string
	AudioStream []byte
}

// Converter translates text or synthesizes speech.
type Converter interface {
	Convert(ctx context.Context, in ConvertInput) (*ConvertResult, error)
}

// IdentifyInput asks for image analysis.
type IdentifyInput struct {
	Image []byte
}

// Label is one thing identified in an image.
type Label struct {
	Name       string
	Confidence float64
}

// IdentifyResult is the outcome of an image analysis.
type IdentifyResult struct {
	Labels []Label
	Text   []string
}

// Identifier detects labels and text in images.
type Identifier interface {
	Identify(ctx context.Context, in IdentifyInput) (*IdentifyResult, error)
}

// InterpretInput asks for text analysis.
type InterpretInput struct {
	Text     string
	Language string
}

// Entity is one entity found in interpreted text.
type Entity struct {
	Text string
	Type string
}

// InterpretResult is the outcome of a text analysis.
type InterpretResult struct {
	Sentiment string
	Entities  []Entity
}

// Interpreter extracts sentiment and entities from text.
type Interpreter interface {
	Interpret(ctx context.Context, in InterpretInput) (*InterpretResult, error)
}

// Provider bundles a name with the capabilities an implementation offers. A
// nil capability slot means the provider does not offer it.
type Provider struct {
	Name      string
	Convert   Converter
	Identify  Identifier
	Interpret Interpreter
}

// capabilities lists which slots are filled, for error messages.
func (p Provider) capabilities() []string {
	var caps []string
	if p.Convert != nil {
		caps = append(caps, "convert")
	}
	if p.Identify != nil {
		caps = append(caps, "identify")
	}
	if p.Interpret != nil {
		caps = append(caps, "interpret")
	}
	return caps
}

// Registry holds registered providers keyed by name.
//
// Example:
//
//	reg := predictions.NewRegistry()
//	if err := reg.Add(predictions.Provider{Name: "translate", Convert: conv}); err != nil {
//	    return err
//	}
//	res, err := reg.ConvertWith(ctx, "", predictions.ConvertInput{Text: "hej", TargetLanguage: "en"})
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Add registers a provider. The name must be unique and at least one
// capability slot must be filled.
func (r *Registry) Add(p Provider) error {
	if p.Name == "" {
		return goerrors.New("provider name must not be empty", goerrors.CategoryValidation).
			WithTextCode(CodeEmptyProviderName).
			WithCode(goerrors.CodeBadRequest)
	}
	if len(p.capabilities()) == 0 {
		return goerrors.New(fmt.Sprintf("provider %q implements no capabilities", p.Name), goerrors.CategoryValidation).
			WithTextCode(CodeNoCapabilities).
			WithCode(goerrors.CodeBadRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name]; exists {
		return goerrors.New(fmt.Sprintf("provider %q is already registered", p.Name), goerrors.CategoryConflict).
			WithTextCode(CodeProviderExists).
			WithCode(goerrors.CodeConflict)
	}
	r.providers[p.Name] = p
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return Provider{}, unknownProvider(name)
	}
	return p, nil
}

// Remove unregisters a provider. Removing an unknown name fails so callers
// notice configuration drift.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return unknownProvider(name)
	}
	delete(r.providers, name)
	return nil
}

// Names returns the registered provider names. Order is unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// ConvertWith dispatches a conversion to the named provider, or to the sole
// registered converter when name is empty.
func (r *Registry) ConvertWith(ctx context.Context, name string, in ConvertInput) (*ConvertResult, error) {
	p, err := r.resolve(name, "convert", func(p Provider) bool { return p.Convert != nil })
	if err != nil {
		return nil, err
	}
	return p.Convert.Convert(ctx, in)
}

// IdentifyWith dispatches an image analysis to the named provider, or to the
// sole registered identifier when name is empty.
func (r *Registry) IdentifyWith(ctx context.Context, name string, in IdentifyInput) (*IdentifyResult, error) {
	p, err := r.resolve(name, "identify", func(p Provider) bool { return p.Identify != nil })
	if err != nil {
		return nil, err
	}
	return p.Identify.Identify(ctx, in)
}

// InterpretWith dispatches a text analysis to the named provider, or to the
// sole registered interpreter when name is empty.
func (r *Registry) InterpretWith(ctx context.Context, name string, in InterpretInput) (*InterpretResult, error) {
	p, err := r.resolve(name, "interpret", func(p Provider) bool { return p.Interpret != nil })
	if err != nil {
		return nil, err
	}
	return p.Interpret.Interpret(ctx, in)
}

// resolve picks the provider a capability dispatch should use. A named lookup
// additionally checks the capability so the caller gets a clear error rather
// than a nil dereference.
func (r *Registry) resolve(name, capability string, has func(Provider) bool) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		p, ok := r.providers[name]
		if !ok {
			return Provider{}, unknownProvider(name)
		}
		if !has(p) {
			return Provider{}, goerrors.New(
				fmt.Sprintf("provider %q does not implement %s (has: %v)", name, capability, p.capabilities()),
				goerrors.CategoryValidation).
				WithTextCode(CodeMissingCapability).
				WithCode(goerrors.CodeBadRequest)
		}
		return p, nil
	}

	var candidates []Provider
	for _, p := range r.providers {
		if has(p) {
			candidates = append(candidates, p)
		}
	}
	switch len(candidates) {
	case 0:
		return Provider{}, goerrors.New(fmt.Sprintf("no registered provider implements %s", capability), goerrors.CategoryNotFound).
			WithTextCode(CodeNoProvider).
			WithCode(goerrors.CodeNotFound)
	case 1:
		return candidates[0], nil
	}
	return Provider{}, goerrors.New(
		fmt.Sprintf("%d providers implement %s; name one explicitly", len(candidates), capability),
		goerrors.CategoryValidation).
		WithTextCode(CodeAmbiguousProvider).
		WithCode(goerrors.CodeBadRequest)
}

func unknownProvider(name string) error {
	return goerrors.New(fmt.Sprintf("no provider registered under %q", name), goerrors.CategoryNotFound).
		WithTextCode(CodeProviderUnknown).
		WithCode(goerrors.CodeNotFound)
}

// ErrorTextCode extracts the local text code from err, or "" when err did
// not originate from this package.
func ErrorTextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}
