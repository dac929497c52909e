package api

// SearchParams is the wire form of the decoding knobs a caller may tune.
// Zero values fall back to the server defaults.
type SearchParams struct {
	BeamWidth        int     `json:"beam_width,omitempty"`
	NBest            int     `json:"nbest,omitempty"`
	MaxLenRatio      float32 `json:"max_len_ratio,omitempty"`
	MinLenRatio      float32 `json:"min_len_ratio,omitempty"`
	LengthPenalty    float32 `json:"length_penalty,omitempty"`
	CoveragePenalty  float32 `json:"coverage_penalty,omitempty"`
	LengthNorm       bool    `json:"length_norm,omitempty"`
	CTCWeight        float32 `json:"ctc_weight,omitempty"`
	SoftmaxSmoothing float32 `json:"softmax_smoothing,omitempty"`
}

// RecognitionRequest is one whole utterance: feature frames row by row.
type RecognitionRequest struct {
	Features [][]float32  `json:"features"`
	Params   SearchParams `json:"params"`
}

// RecognitionResponse wraps the n-best transcription of one utterance.
type RecognitionResponse struct {
	ID        string         `json:"id"`
	Object    string         `json:"object"`
	CreatedAt int64          `json:"created_at"`
	Best      CandidateDTO   `json:"best"`
	NBest     []CandidateDTO `json:"nbest"`
	Frames    int            `json:"frames"`
}

// CandidateDTO is one transcription hypothesis on the wire.
type CandidateDTO struct {
	Tokens []int   `json:"tokens"`
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
}

// StreamCreateRequest opens a chunk-synchronous session.
type StreamCreateRequest struct {
	Params SearchParams `json:"params"`
}

// StreamCreateResponse returns the session id for subsequent chunk posts.
type StreamCreateResponse struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
}

// ChunkRequest is one chunk of feature frames for an open stream.
type ChunkRequest struct {
	Features [][]float32 `json:"features"`
}

// ChunkResponse is the partial state after one chunk.
type ChunkResponse struct {
	ID      string `json:"id"`
	Stable  string `json:"stable"`
	Partial string `json:"partial"`
	Frames  int    `json:"frames"`
}

// StreamDeleteResponse closes a stream and carries the final transcription.
type StreamDeleteResponse struct {
	ID      string       `json:"id"`
	Deleted bool         `json:"deleted"`
	Final   CandidateDTO `json:"final"`
	Frames  int          `json:"frames"`
}

// ResponseError is the wire form of a request failure.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
