// Package web embeds the browser front-end.
package web

import "embed"

//go:embed index.html app.js style.css
var Assets embed.FS
