// Package render rasterizes quote cards.
//
// # Overview
//
// A [Renderer] turns a [Request] (quote content, author, site name and an
// optional background URL) into a 1080×1080 PNG:
//
//	r := render.NewRenderer(render.WithLogger(logger))
//	png, err := r.Generate(ctx, render.Request{
//	    Content:  "Be yourself; everyone else is already taken.",
//	    Author:   "Oscar Wilde",
//	    SiteName: "quotes.example",
//	})
//
// # Layout
//
// The quote font size is picked from the content length by [FontSizeFor]
// (shorter quotes render larger). [WrapText] breaks the content greedily so
// every line fits in [MaxTextWidth]; a single word that is wider than the
// line overflows on its own line. [Place] centers the block vertically and
// positions the author and site name relative to it.
//
// # Backgrounds
//
// Backgrounds are loaded through a [BackgroundLoader], cover-fitted to the
// canvas and dimmed with a 50% black overlay. When loading fails the
// renderer logs a warning and draws the default two-stop gradient instead;
// background errors never reach the caller.
//
// The renderer does not cache anything. Callers that want cached
// backgrounds wrap the loader.
package render
