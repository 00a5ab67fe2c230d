// Package filter holds the three built-in camera filters and the selector that
// tells the frame pipeline which one is active.
//
// # Filter kinds
//
//   - Sepia (default): fixed-intensity sepia tone
//   - ComicEffect: posterised colours with ink outlines
//   - Noir: high-contrast monochrome
//
// Each kind maps to one named, parameterless transform. The transforms are
// delegated to github.com/anthonynsimon/bild; this package only wires them
// to names and turns every failure into ErrFilterUnavailable so that callers
// can drop a frame instead of crashing.
//
// # Selector
//
// Selector is a single atomic cell. Control surfaces (web buttons, HTTP API,
// MQTT, config watch) call Set from their own goroutines while the pipeline
// goroutine calls Get once per frame:
//
//	sel := filter.NewSelector(filter.Sepia)
//	go func() { sel.Set(filter.Noir) }() // button tap
//	kind := sel.Get()                    // per frame, always Sepia or Noir
//
// The zero Selector is ready to use and starts at Sepia.
package filter
