// Package activity renders interactive lesson exercises and grades learner input.
package activity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind identifies the variant of an Activity.
type Kind string

const (
	KindFlashcards Kind = "flashcards"
	KindMCQ        Kind = "mcq"
	KindMatch      Kind = "match"
	KindFill       Kind = "fill"
	KindBuild      Kind = "build"
	KindSpeak      Kind = "speak"
)

// DefaultLang is the speech language used when an activity sets none.
const DefaultLang = "fr-FR"

// Known reports whether k is one of the supported activity kinds.
func (k Kind) Known() bool {
	switch k {
	case KindFlashcards, KindMCQ, KindMatch, KindFill, KindBuild, KindSpeak:
		return true
	}
	return false
}

// Card is one flashcard: a French term and its English gloss.
type Card struct {
	FR string `json:"fr"`
	EN string `json:"en"`
}

// Pair is one left/right association of a match activity.
type Pair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// Activity is one exercise within a lesson. Only the fields of its Kind are set.
type Activity struct {
	Type    Kind     `json:"type"`
	Lang    string   `json:"lang,omitempty"`
	Cards   []Card   `json:"cards,omitempty"`
	Prompt  string   `json:"prompt,omitempty"`
	Options []string `json:"options,omitempty"`
	Pairs   []Pair   `json:"pairs,omitempty"`
	Target  string   `json:"target,omitempty"`
	Phrase  string   `json:"phrase,omitempty"`

	// AnswerIndex is the correct option of an mcq activity.
	AnswerIndex int `json:"-"`
	// AnswerText is the expected answer of a fill activity.
	AnswerText string `json:"-"`
}

// SpeechLang returns the language used for speech playback.
func (a Activity) SpeechLang() string {
	if a.Lang == "" {
		return DefaultLang
	}
	return a.Lang
}

type activityAlias Activity

type activityWire struct {
	activityAlias
	Answer json.RawMessage `json:"answer,omitempty"`
}

// UnmarshalJSON decodes the wire form, where "answer" is an index for mcq
// and a string for fill.
func (a *Activity) UnmarshalJSON(data []byte) error {
	var w activityWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Activity(w.activityAlias)

	raw := bytes.TrimSpace(w.Answer)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if a.Type == KindMCQ {
			a.AnswerIndex = -1
		}
		return nil
	}

	switch a.Type {
	case KindMCQ:
		if err := json.Unmarshal(raw, &a.AnswerIndex); err != nil {
			return fmt.Errorf("mcq answer must be an option index: %w", err)
		}
	case KindFill:
		text, err := answerText(raw)
		if err != nil {
			return err
		}
		a.AnswerText = text
	}
	return nil
}

// MarshalJSON encodes the activity back to its wire form.
func (a Activity) MarshalJSON() ([]byte, error) {
	w := activityWire{activityAlias: activityAlias(a)}
	switch a.Type {
	case KindMCQ:
		w.Answer = json.RawMessage(strconv.Itoa(a.AnswerIndex))
	case KindFill:
		b, err := json.Marshal(a.AnswerText)
		if err != nil {
			return nil, err
		}
		w.Answer = b
	}
	return json.Marshal(w)
}

func answerText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		f, err := n.Float64()
		if err != nil {
			return "", fmt.Errorf("fill answer %s: %w", n, err)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return "", errors.New("fill answer must be a string or a number")
}
