package clinicchat

import "embed"

// TemplateFS contains the HTML templates of the web interface, split between layouts, pages, and
// partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the script and stylesheet of the web interface.
//
//go:embed static/*
var StaticFS embed.FS
