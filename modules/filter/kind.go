package filter

import (
	"fmt"
	"strings"
)

// Kind identifies one of the built-in filters.
type Kind int32

const (
	// Sepia applies a fixed-intensity sepia tone (default)
	Sepia Kind = iota
	// ComicEffect applies a stylised comic/halftone look
	ComicEffect
	// Noir applies a high-contrast monochrome photo effect
	Noir
)

// Transform names, kept identical to the names the camera app used so that
// existing control clients keep working.
const (
	SepiaTransform = "CISepiaTone"
	ComicTransform = "CIComicEffect"
	NoirTransform  = "CIPhotoEffectNoir"
)

// Kinds lists every filter in button order.
func Kinds() []Kind {
	return []Kind{Sepia, ComicEffect, Noir}
}

// Valid reports whether k is one of the built-in kinds.
func (k Kind) Valid() bool {
	return k >= Sepia && k <= Noir
}

// String returns the short name used on the wire and in config files.
func (k Kind) String() string {
	switch k {
	case Sepia:
		return "sepia"
	case ComicEffect:
		return "comic"
	case Noir:
		return "noir"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// TransformName returns the name of the transform this kind applies.
func (k Kind) TransformName() string {
	switch k {
	case Sepia:
		return SepiaTransform
	case ComicEffect:
		return ComicTransform
	case Noir:
		return NoirTransform
	default:
		return ""
	}
}

// ParseKind accepts the short name ("noir") or the transform name
// ("CIPhotoEffectNoir"), case-insensitively.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if name == k.String() || name == strings.ToLower(k.TransformName()) {
			return k, nil
		}
	}
	if name == "comiceffect" {
		return ComicEffect, nil
	}
	return 0, fmt.Errorf("filter: unknown filter %q (must be sepia, comic or noir)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("filter: invalid kind %d", int32(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
