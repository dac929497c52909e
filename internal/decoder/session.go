package decoder

import (
	"github.com/asrkit/spellout/internal/ctc"
	"github.com/asrkit/spellout/internal/lm"
	"github.com/asrkit/spellout/internal/rnn"
)

// Session is the explicit carry-over state of a sequence of decoding calls.
// Each call that completes at least one hypothesis records the winner's
// final recurrent and LM states here; the next call may warm-start from them
// when the carry-over flags are set and the speaker is unchanged. The
// streaming decoder additionally keeps its CTC scorer, consumed frame count
// and live segment hypotheses between chunks.
//
// A Session must only be used by one decoding call at a time; independent
// sessions are safe to run concurrently.
type Session struct {
	DStates     *rnn.State
	LMState     *lm.State
	PrevSpeaker string

	// Streaming state (chunk-synchronous decoding only).
	CTCScorer *ctc.PrefixScorer
	Frames    int
	Segment   []*Hypothesis
}

// NewSession returns an empty session.
func NewSession() *Session { return &Session{} }

// Reset clears all carry-over state. Call it between independent discourse
// contexts or speakers.
func (s *Session) Reset() {
	*s = Session{}
}

// ResetStream clears only the streaming state, keeping the cross-utterance
// carry-over fields. Call it at an utterance boundary in chunk mode.
func (s *Session) ResetStream() {
	s.CTCScorer = nil
	s.Frames = 0
	s.Segment = nil
}
