package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrWrongKind is returned when an input does not apply to the session's activity.
	ErrWrongKind = errors.New("input does not apply to this activity")
	// ErrOutOfRange is returned for an index outside the rendered widget.
	ErrOutOfRange = errors.New("index out of range")
)

// Result is the outcome of checking a session.
type Result struct {
	Correct bool `json:"correct"`
	Score   int  `json:"score"`
}

var passive = Result{Correct: true, Score: 100}

// Input is the learner's current answer state.
type Input struct {
	Selected *int     `json:"selected,omitempty"`
	Pairs    []string `json:"pairs,omitempty"`
	Text     string   `json:"text,omitempty"`
	Bank     []string `json:"bank,omitempty"`
	Built    []string `json:"built,omitempty"`
}

// Feedback marks the checked elements of a widget as correct or incorrect.
type Feedback struct {
	// Correct marks the single checked element: the selected option, the
	// text input or the drop zone.
	Correct *bool `json:"correct,omitempty"`
	// Rows marks each match row, in widget order.
	Rows []bool `json:"rows,omitempty"`
}

// View is everything a client needs to draw the session.
type View struct {
	Widget   Widget    `json:"widget"`
	Input    Input     `json:"input"`
	Checked  bool      `json:"checked"`
	Feedback *Feedback `json:"feedback,omitempty"`
}

// Session is one rendered activity together with the learner's input.
// Sessions are created by Engine.Render and are not safe for concurrent use.
type Session struct {
	activity Activity
	widget   Widget
	speaker  Speaker
	logger   *slog.Logger

	selected int
	pairs    []string
	text     string
	bank     []string
	built    []string

	checked  bool
	feedback *Feedback
}

// Activity returns the activity the session was rendered from.
func (s *Session) Activity() Activity { return s.activity }

// Checked reports whether the current input has been checked.
func (s *Session) Checked() bool { return s.checked }

// View returns a snapshot of the widget, input and feedback.
func (s *Session) View() View {
	v := View{
		Widget:  s.widget,
		Checked: s.checked,
	}
	switch s.activity.Type {
	case KindMCQ:
		if s.selected >= 0 {
			sel := s.selected
			v.Input.Selected = &sel
		}
	case KindMatch:
		v.Input.Pairs = slices.Clone(s.pairs)
	case KindFill:
		v.Input.Text = s.text
	case KindBuild:
		v.Input.Bank = slices.Clone(s.bank)
		v.Input.Built = slices.Clone(s.built)
	}
	if s.feedback != nil {
		fb := *s.feedback
		fb.Rows = slices.Clone(fb.Rows)
		v.Feedback = &fb
	}
	return v
}

// Select picks an mcq option.
func (s *Session) Select(index int) error {
	if s.activity.Type != KindMCQ {
		return ErrWrongKind
	}
	if index < 0 || index >= len(s.widget.Options) {
		return fmt.Errorf("option %d: %w", index, ErrOutOfRange)
	}
	s.selected = index
	s.touch()
	return nil
}

// Pair chooses the right-hand value for the match row at index.
// An empty value clears the row.
func (s *Session) Pair(index int, right string) error {
	if s.activity.Type != KindMatch {
		return ErrWrongKind
	}
	if index < 0 || index >= len(s.pairs) {
		return fmt.Errorf("row %d: %w", index, ErrOutOfRange)
	}
	if right != "" && !slices.Contains(s.widget.Choices, right) {
		return fmt.Errorf("choice %q: %w", right, ErrOutOfRange)
	}
	s.pairs[index] = right
	s.touch()
	return nil
}

// Type sets the text of a fill activity.
func (s *Session) Type(text string) error {
	if s.activity.Type != KindFill {
		return ErrWrongKind
	}
	s.text = text
	s.touch()
	return nil
}

// Place moves a letter from the bank to the end of the target zone.
func (s *Session) Place(bankIndex int) error {
	if s.activity.Type != KindBuild {
		return ErrWrongKind
	}
	if bankIndex < 0 || bankIndex >= len(s.bank) {
		return fmt.Errorf("letter %d: %w", bankIndex, ErrOutOfRange)
	}
	s.built = append(s.built, s.bank[bankIndex])
	s.bank = slices.Delete(s.bank, bankIndex, bankIndex+1)
	s.touch()
	return nil
}

// Remove moves a letter from the target zone back to the end of the bank.
func (s *Session) Remove(builtIndex int) error {
	if s.activity.Type != KindBuild {
		return ErrWrongKind
	}
	if builtIndex < 0 || builtIndex >= len(s.built) {
		return fmt.Errorf("letter %d: %w", builtIndex, ErrOutOfRange)
	}
	s.bank = append(s.bank, s.built[builtIndex])
	s.built = slices.Delete(s.built, builtIndex, builtIndex+1)
	s.touch()
	return nil
}

// touch invalidates a previous check after the input changed.
func (s *Session) touch() {
	s.checked = false
	s.feedback = nil
}

// Check grades the current input. It never fails: missing input is graded
// as a wrong answer, and passive or unknown activities always pass.
func (s *Session) Check() Result {
	var res Result
	switch s.activity.Type {
	case KindMCQ:
		res = s.checkMCQ()
	case KindMatch:
		res = s.checkMatch()
	case KindFill:
		ok := foldEqual(s.text, s.activity.AnswerText)
		s.feedback = &Feedback{Correct: &ok}
		res = binary(ok)
	case KindBuild:
		ok := foldEqual(strings.Join(s.built, ""), s.activity.Target)
		s.feedback = &Feedback{Correct: &ok}
		res = binary(ok)
	default:
		res = passive
	}
	s.checked = true
	return res
}

func (s *Session) checkMCQ() Result {
	if s.selected < 0 {
		s.feedback = &Feedback{}
		return binary(false)
	}
	ok := s.selected == s.activity.AnswerIndex
	s.feedback = &Feedback{Correct: &ok}
	return binary(ok)
}

func (s *Session) checkMatch() Result {
	total := len(s.activity.Pairs)
	if total == 0 {
		s.feedback = &Feedback{Rows: []bool{}}
		return passive
	}

	rows := make([]bool, len(s.pairs))
	matched := 0
	for i, right := range s.pairs {
		left := s.widget.Left[i]
		rows[i] = right != "" && slices.Contains(s.activity.Pairs, Pair{Left: left, Right: right})
		if rows[i] {
			matched++
		}
	}
	s.feedback = &Feedback{Rows: rows}

	score := int(math.Round(100 * float64(matched) / float64(total)))
	return Result{Correct: score == 100, Score: score}
}

// Speak plays flashcard i, or the phrase of a speak activity. Speech
// failures are logged and otherwise ignored.
func (s *Session) Speak(ctx context.Context, i int) {
	var text string
	switch s.activity.Type {
	case KindFlashcards:
		if i < 0 || i >= len(s.activity.Cards) {
			s.logger.Warn("speak: no such card", "index", i)
			return
		}
		text = s.activity.Cards[i].FR
	case KindSpeak:
		text = s.activity.Phrase
	default:
		s.logger.Warn("speak: activity has nothing to play", "type", s.activity.Type)
		return
	}

	if err := s.speaker.Speak(ctx, text, s.activity.SpeechLang()); err != nil {
		s.logger.Warn("text-to-speech not available", "error", err)
	}
}

func binary(ok bool) Result {
	if ok {
		return Result{Correct: true, Score: 100}
	}
	return Result{Correct: false, Score: 0}
}

// foldEqual compares learner input with the expected answer ignoring letter
// case and Unicode composition. Only the input is trimmed.
func foldEqual(got, want string) bool {
	return fold(strings.TrimSpace(got)) == fold(want)
}

func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
