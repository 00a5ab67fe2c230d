// Package framepipeline turns raw capture frames into filtered display
// frames.
//
// For every frame the pipeline reads the active filter fresh from the
// selector, rotates the image upright (portrait), applies the named
// transform and tags the result with the filter that produced it. A frame
// that cannot be filtered is dropped and counted; the stream keeps going.
//
//	sel := filter.NewSelector(filter.Sepia)
//	p := framepipeline.New(sel, filter.NewRegistry())
//
//	frames, _ := stream.Start(ctx)
//	go p.Run(ctx, frames, supplier)
//
//	sel.Set(filter.Noir) // next frame Process picks up is noir
//
// Run is strictly sequential: one frame in flight at a time, no queue, no
// retries. A filter change never affects the frame currently being
// processed.
package framepipeline
