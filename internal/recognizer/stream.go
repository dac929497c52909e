package recognizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/asrkit/spellout/internal/decoder"
	"github.com/asrkit/spellout/internal/tensor"
)

// Stream is one chunk-synchronous recognition session. Feed it feature
// chunks as they arrive; Final closes the utterance. A Stream is safe for
// use from one goroutine per call, serialized internally.
type Stream struct {
	r    *Recognizer
	p    decoder.Params
	sess *decoder.Session

	mu   sync.Mutex
	best *decoder.Hypothesis // best completed hypothesis so far
	done bool
}

// StreamResult is the state after one chunk: the best stable (completed)
// text so far and the best still-open partial.
type StreamResult struct {
	Stable  string `json:"stable"`
	Partial string `json:"partial"`
	Frames  int    `json:"frames"`
}

// NewStream opens a streaming session with the given search parameters.
func (r *Recognizer) NewStream(p decoder.Params) *Stream {
	return &Stream{r: r, p: p, sess: decoder.NewSession()}
}

// Feed pushes one chunk of feature frames and advances the search.
func (s *Stream) Feed(ctx context.Context, frames *tensor.Mat) (*StreamResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, fmt.Errorf("recognizer: stream already closed")
	}

	chunk, err := s.r.Encode(frames)
	if err != nil {
		return nil, err
	}
	opt := decoder.ChunkOptions{}
	if s.p.CTCWeight > 0 {
		opt.CTCChunk = s.r.ctc.LogProbs(chunk)
	}
	end, segment, err := s.r.dec.BeamSearchChunkSync(chunk, s.p, opt, s.sess)
	if err != nil {
		return nil, err
	}

	if len(end) > 0 {
		s.best = end[0]
	}
	out := &StreamResult{Frames: s.sess.Frames}
	if s.best != nil {
		out.Stable = s.r.vocab.Decode(s.best.Seq[1:])
	}
	if len(segment) > 0 {
		out.Partial = s.r.vocab.Decode(segment[0].Seq[1:])
	}
	s.r.log.Debug("stream chunk decoded",
		"frames", s.sess.Frames, "completed", len(end), "live", len(segment))
	return out, nil
}

// Final closes the utterance and returns the best transcription seen. The
// stream cannot be fed afterwards.
func (s *Stream) Final() *Transcription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true

	out := &Transcription{Frames: s.sess.Frames}
	h := s.best
	if h == nil && len(s.sess.Segment) > 0 {
		h = s.sess.Segment[0]
	}
	if h != nil {
		out.Best = Candidate{
			Tokens: append([]int(nil), h.Seq[1:]...),
			Text:   s.r.vocab.Decode(h.Seq[1:]),
			Score:  h.ScoreAttn,
		}
		out.NBest = []Candidate{out.Best}
	}
	s.sess.ResetStream()
	return out
}
