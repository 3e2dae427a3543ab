package activity

import (
	"context"
	"errors"
)

// ErrSpeechUnavailable is returned by a Speaker that cannot play audio.
var ErrSpeechUnavailable = errors.New("speech synthesis unavailable")

// Speaker plays text through a text-to-speech facility.
type Speaker interface {
	Speak(ctx context.Context, text, lang string) error
}

// NopSpeaker is a Speaker for environments without speech synthesis.
type NopSpeaker struct{}

func (NopSpeaker) Speak(context.Context, string, string) error {
	return ErrSpeechUnavailable
}

// SpeakerFunc adapts a function to the Speaker interface.
type SpeakerFunc func(ctx context.Context, text, lang string) error

func (f SpeakerFunc) Speak(ctx context.Context, text, lang string) error {
	return f(ctx, text, lang)
}
