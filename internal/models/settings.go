package models

import "time"

// Settings are the persisted presentation settings of the typewriter effect. All values are in
// milliseconds. Range checks live at the configuration surface; the reveal core accepts any
// non-negative value.
type Settings struct {
	TypingSpeed    int `json:"typingSpeed" yaml:"typingSpeed" validate:"min=10,max=200"`
	FadeInDuration int `json:"fadeInDuration" yaml:"fadeInDuration" validate:"min=100,max=1000"`
	FadeInDelay    int `json:"fadeInDelay" yaml:"fadeInDelay" validate:"min=0,max=200"`
}

// DefaultSettings returns the settings used until the user saves their own.
func DefaultSettings() Settings {
	return Settings{
		TypingSpeed:    50,
		FadeInDuration: 300,
		FadeInDelay:    50,
	}
}

// Speed returns the reveal cadence.
func (s Settings) Speed() time.Duration {
	return time.Duration(s.TypingSpeed) * time.Millisecond
}

// FadeDuration returns the per-character fade animation length.
func (s Settings) FadeDuration() time.Duration {
	return time.Duration(s.FadeInDuration) * time.Millisecond
}

// FadeDelay returns the per-character fade stagger.
func (s Settings) FadeDelay() time.Duration {
	return time.Duration(s.FadeInDelay) * time.Millisecond
}
