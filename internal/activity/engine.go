package activity

import (
	"log/slog"
	"math/rand/v2"

	"golang.org/x/text/unicode/norm"
)

// UnknownMessage is shown in place of an activity whose type is not supported.
const UnknownMessage = "Type inconnu."

const (
	fillPlaceholder = "Ta réponse"
	fillHint        = "Astuce: utilise l'article correct."
	buildDropLabel  = "Glisse les lettres ici"
)

// Options configures an Engine.
type Options struct {
	// Rand drives the shuffling of match choices and build letters.
	// A randomly seeded source is used when nil.
	Rand    *rand.Rand
	Speaker Speaker
	Logger  *slog.Logger
}

// Engine renders activities into sessions. It is not safe for concurrent use
// because it owns a single random source.
type Engine struct {
	rand    *rand.Rand
	speaker Speaker
	logger  *slog.Logger
}

// NewEngine creates an activity engine.
func NewEngine(opts Options) *Engine {
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	speaker := opts.Speaker
	if speaker == nil {
		speaker = NopSpeaker{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rand: r, speaker: speaker, logger: logger}
}

// Widget is the rendered, answer-free form of an activity.
type Widget struct {
	Kind        Kind     `json:"kind"`
	Prompt      string   `json:"prompt,omitempty"`
	Cards       []Card   `json:"cards,omitempty"`
	Options     []string `json:"options,omitempty"`
	Left        []string `json:"left,omitempty"`
	Choices     []string `json:"choices,omitempty"`
	Phrase      string   `json:"phrase,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Hint        string   `json:"hint,omitempty"`
	DropLabel   string   `json:"drop_label,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Render mounts an activity into a fresh session with nothing checked.
func (e *Engine) Render(a Activity) *Session {
	s := &Session{
		activity: a,
		speaker:  e.speaker,
		logger:   e.logger,
		widget:   Widget{Kind: a.Type},
		selected: -1,
	}

	switch a.Type {
	case KindFlashcards:
		s.widget.Cards = append([]Card(nil), a.Cards...)
	case KindMCQ:
		s.widget.Prompt = a.Prompt
		s.widget.Options = append([]string(nil), a.Options...)
	case KindMatch:
		left := make([]string, len(a.Pairs))
		right := make([]string, len(a.Pairs))
		for i, p := range a.Pairs {
			left[i] = p.Left
			right[i] = p.Right
		}
		e.shuffle(right)
		s.widget.Left = left
		s.widget.Choices = right
		s.pairs = make([]string, len(left))
	case KindFill:
		s.widget.Prompt = a.Prompt
		s.widget.Placeholder = fillPlaceholder
		s.widget.Hint = fillHint
	case KindBuild:
		letters := splitLetters(a.Target)
		e.shuffle(letters)
		s.widget.DropLabel = buildDropLabel
		s.bank = letters
		s.built = []string{}
	case KindSpeak:
		s.widget.Phrase = a.Phrase
	default:
		s.widget.Message = UnknownMessage
	}

	return s
}

func (e *Engine) shuffle(items []string) {
	e.rand.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// splitLetters splits a word into its characters, keeping accented letters whole.
func splitLetters(word string) []string {
	letters := make([]string, 0, len(word))
	for _, r := range norm.NFC.String(word) {
		letters = append(letters, string(r))
	}
	return letters
}
