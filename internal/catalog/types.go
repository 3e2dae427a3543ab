package catalog

import "github.com/p-n-ai/fr-k12/internal/activity"

// Index lists the grades and the lessons offered in each grade.
type Index struct {
	Grades  []Grade                 `json:"grades"`
	Lessons map[string][]LessonMeta `json:"lessons"`
}

// Grade is a curriculum level (e.g. "6e").
type Grade struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Subtitle string `json:"subtitle,omitempty"`
}

// LessonMeta is the display metadata of a lesson as listed in the index.
type LessonMeta struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Desc  string `json:"desc,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Lesson is an ordered sequence of activities plus display metadata.
type Lesson struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	Type       string              `json:"type,omitempty"`
	Activities []activity.Activity `json:"activities"`
}
