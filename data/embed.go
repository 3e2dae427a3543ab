// Package data embeds the sample French curriculum served when no catalog
// directory is configured.
package data

import "embed"

// Catalog holds lessons_index.json and the lessons directory.
//
//go:embed lessons_index.json lessons/*.json
var Catalog embed.FS
