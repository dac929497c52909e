package api

import (
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/asrkit/spellout/internal/decoder"
	"github.com/asrkit/spellout/internal/recognizer"
	"github.com/asrkit/spellout/internal/tensor"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// featuresMat packs row-major feature frames into a matrix, checking that
// every frame has the expected width.
func featuresMat(rows [][]float32, width int) (*tensor.Mat, error) {
	if len(rows) == 0 {
		return nil, newInvalidRequest("features: at least one frame required")
	}
	m := tensor.NewMat(len(rows), width)
	for i, row := range rows {
		if len(row) != width {
			return nil, newInvalidRequest(fmt.Sprintf("features: frame %d has %d values, model expects %d", i, len(row), width))
		}
		copy(m.Row(i), row)
	}
	return m, nil
}

// resolveParams overlays the request knobs on the server defaults. Zero
// values keep the default.
func resolveParams(sp SearchParams) decoder.Params {
	p := decoder.DefaultParams()
	if sp.BeamWidth > 0 {
		p.BeamWidth = sp.BeamWidth
	}
	if sp.MaxLenRatio > 0 {
		p.MaxLenRatio = sp.MaxLenRatio
	}
	if sp.MinLenRatio > 0 {
		p.MinLenRatio = sp.MinLenRatio
	}
	if sp.LengthPenalty != 0 {
		p.LengthPenalty = sp.LengthPenalty
	}
	if sp.CoveragePenalty != 0 {
		p.CoveragePenalty = sp.CoveragePenalty
	}
	if sp.CTCWeight > 0 {
		p.CTCWeight = sp.CTCWeight
	}
	if sp.SoftmaxSmoothing > 0 {
		p.SoftmaxSmoothing = sp.SoftmaxSmoothing
	}
	p.LengthNorm = sp.LengthNorm
	return p
}

func candidateDTO(c recognizer.Candidate) CandidateDTO {
	return CandidateDTO{Tokens: c.Tokens, Text: c.Text, Score: c.Score}
}
