// Package pkg holds the quotecard libraries.
//
// # Overview
//
// Quotecard renders a quote onto a fixed 1080×1080 canvas and scales the
// result for the device that asked for it. The packages are layered:
//
//  1. [render] draws the canvas (fonts, layout, background or gradient)
//  2. [scale] resizes and re-encodes it for a device breakpoint
//  3. [cache] keeps canvases, variants and backgrounds in memory and in a
//     shared second tier (file or Redis)
//  4. [processor] ties them together with retries, bounded batches and
//     memory back-pressure
//  5. [server] exposes the processor over HTTP, reading quotes from [quotes]
//
// Supporting packages: [config] (TOML configuration), [errors] (coded
// errors), [fonts], [hosting] (format and quality limits), [httputil],
// [observability] (hooks and processor events) and [buildinfo].
//
// # Data Flow
//
//	ImageOptions
//	     ↓
//	[processor] cache lookup (memory, then second tier)
//	     ↓ miss
//	[render] 1080×1080 PNG canvas
//	     ↓
//	[scale] width×height×pixel ratio, png/jpeg/webp
//	     ↓
//	cached bytes + metadata
//
// # Quick Start
//
//	renderer := render.NewRenderer()
//	scaler := scale.NewScaler(hosting.Default())
//	p := processor.New(renderer, scaler, nil)
//	defer p.Dispose()
//
//	blob, err := p.ProcessImage(ctx, processor.ImageOptions{
//	    Content: "Less is more.",
//	    Author:  "Mies van der Rohe",
//	    Width:   390,
//	    Height:  844,
//	})
package pkg
