package generate

import (
	"errors"
	"fmt"
)

// Special tokens of the speech language model.
const (
	TextPromptStart       = "<|TEXT_PROMPT_START|>"
	TextPromptEnd         = "<|TEXT_PROMPT_END|>"
	SpeechGenerationStart = "<|SPEECH_GENERATION_START|>"
	SpeechGenerationEnd   = "<|SPEECH_GENERATION_END|>"
)

// ErrInvalidPrompt is returned for a clone request with an empty field.
var ErrInvalidPrompt = errors.New("invalid prompt")

// CloneRequest asks for speech in the voice of a reference utterance.
type CloneRequest struct {
	// Prompt is the phonemized text to speak.
	Prompt string
	// Transcript is the phonemized reference transcript.
	Transcript string
	// AudioText is the reference audio as speech-code marker text.
	AudioText string
}

// Validate rejects requests with any empty field.
func (r CloneRequest) Validate() error {
	switch {
	case r.Prompt == "":
		return fmt.Errorf("%w: empty prompt", ErrInvalidPrompt)
	case r.Transcript == "":
		return fmt.Errorf("%w: empty transcript", ErrInvalidPrompt)
	case r.AudioText == "":
		return fmt.Errorf("%w: empty reference audio", ErrInvalidPrompt)
	}

	return nil
}

// Text renders the chat-style prompt. Generation continues the reference
// audio codes, so the model speaks Prompt in the reference voice.
func (r CloneRequest) Text() string {
	return "user: Convert the text to speech:" +
		TextPromptStart + r.Transcript + " " + r.Prompt + TextPromptEnd + "\n" +
		"assistant:" + SpeechGenerationStart + r.AudioText
}
