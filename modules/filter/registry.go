package filter

import (
	"fmt"
	"image"
	"sync"
)

// Registry resolves transform names to transforms.
type Registry struct {
	mu         sync.RWMutex
	transforms map[string]Transform
}

// NewRegistry returns a registry holding the three built-in transforms.
func NewRegistry() *Registry {
	r := &Registry{transforms: make(map[string]Transform)}
	r.Register(SepiaTransform, sepia)
	r.Register(ComicTransform, comic)
	r.Register(NoirTransform, noir)
	return r
}

// Register adds or replaces a named transform.
func (r *Registry) Register(name string, t Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = t
}

// Lookup returns the transform registered under name.
func (r *Registry) Lookup(name string) (Transform, error) {
	r.mu.RLock()
	t, ok := r.transforms[name]
	r.mu.RUnlock()
	if !ok || t == nil {
		return nil, fmt.Errorf("filter: no transform named %q: %w", name, ErrFilterUnavailable)
	}
	return t, nil
}

// Apply runs the transform for kind on src.
//
// Every failure mode comes back as an error wrapping ErrFilterUnavailable:
// unknown transform, empty input, a transform that returns nil or an image of
// a different extent, and a transform that panics.
func (r *Registry) Apply(kind Kind, src image.Image) (out *image.RGBA, err error) {
	t, err := r.Lookup(kind.TransformName())
	if err != nil {
		return nil, err
	}
	if src == nil || src.Bounds().Empty() {
		return nil, fmt.Errorf("filter: %s: empty input image: %w", kind, ErrFilterUnavailable)
	}

	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("filter: %s: transform panicked: %v: %w", kind, p, ErrFilterUnavailable)
		}
	}()

	out = t(src)
	if out == nil {
		return nil, fmt.Errorf("filter: %s: transform produced no image: %w", kind, ErrFilterUnavailable)
	}
	if out.Bounds().Dx() != src.Bounds().Dx() || out.Bounds().Dy() != src.Bounds().Dy() {
		return nil, fmt.Errorf(
			"filter: %s: output extent %dx%d does not match input %dx%d: %w",
			kind,
			out.Bounds().Dx(), out.Bounds().Dy(),
			src.Bounds().Dx(), src.Bounds().Dy(),
			ErrFilterUnavailable,
		)
	}
	return out, nil
}
