package web

import "embed"

// Templates holds the server-rendered HTML templates (layouts, partials,
// pages, and the invoice print/email documents).
//
//go:embed templates/**/*.html
var Templates embed.FS

// Static holds the stylesheet and script assets served under /static/.
//
//go:embed static/**/*
var Static embed.FS
