package typewriterchat

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the browser interface. The
// templates are split into a layout, the page itself, and the partials pushed over SSE.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets: the small script that applies pushed updates and
// the stylesheet carrying the fade-in and cursor animations.
//
//go:embed static/*
var StaticFS embed.FS
