// Package api exposes the recognizer over HTTP: one-shot utterance
// recognition plus a session API for chunk-synchronous streaming.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/asrkit/spellout/internal/logger"
	"github.com/asrkit/spellout/internal/recognizer"
)

type Server struct {
	rec     *recognizer.Recognizer
	streams *StreamStore
	log     logger.Logger
	clock   func() time.Time
}

func NewServer(rec *recognizer.Recognizer, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		rec:     rec,
		streams: NewStreamStore(),
		log:     log,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/recognitions", s.handleRecognize)

	e.POST("/v1/streams", s.handleCreateStream)
	e.POST("/v1/streams/:id/chunks", s.handleStreamChunk)
	e.DELETE("/v1/streams/:id", s.handleDeleteStream)
}

func (s *Server) handleRecognize(c *echo.Context) error {
	req, err := decodeJSON[RecognitionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	frames, err := featuresMat(req.Features, s.rec.Config().FeatDim)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	p := resolveParams(req.Params)
	nbest := req.Params.NBest
	if nbest == 0 {
		nbest = 1
	}
	out, err := s.rec.Recognize(c.Request().Context(), frames, p, nbest)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return writeBadRequest(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}

	resp := RecognitionResponse{
		ID:        "rec_" + uuid.NewString(),
		Object:    "recognition",
		CreatedAt: s.clock().Unix(),
		Best:      candidateDTO(out.Best),
		Frames:    out.Frames,
	}
	for _, cand := range out.NBest {
		resp.NBest = append(resp.NBest, candidateDTO(cand))
	}
	s.log.Info("utterance recognized", "frames", out.Frames, "nbest", len(resp.NBest))
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateStream(c *echo.Context) error {
	req, err := decodeJSON[StreamCreateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	p := resolveParams(req.Params)
	rec := s.streams.Create(s.rec.NewStream(p), s.clock())
	s.log.Info("stream opened", "id", rec.ID)
	return c.JSON(http.StatusOK, StreamCreateResponse{
		ID:        rec.ID,
		Object:    "stream",
		CreatedAt: rec.CreatedAt,
	})
}

func (s *Server) handleStreamChunk(c *echo.Context) error {
	id := c.Param("id")
	rec, ok := s.streams.Get(id)
	if !ok {
		return writeNotFound(c, "no open stream with id "+id)
	}
	req, err := decodeJSON[ChunkRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	frames, err := featuresMat(req.Features, s.rec.Config().FeatDim)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	res, err := rec.Stream.Feed(c.Request().Context(), frames)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	return c.JSON(http.StatusOK, ChunkResponse{
		ID:      rec.ID,
		Stable:  res.Stable,
		Partial: res.Partial,
		Frames:  res.Frames,
	})
}

func (s *Server) handleDeleteStream(c *echo.Context) error {
	id := c.Param("id")
	rec, ok := s.streams.Remove(id)
	if !ok {
		return writeNotFound(c, "no open stream with id "+id)
	}
	out := rec.Stream.Final()
	s.log.Info("stream closed", "id", rec.ID, "frames", out.Frames)
	return c.JSON(http.StatusOK, StreamDeleteResponse{
		ID:      rec.ID,
		Deleted: true,
		Final:   candidateDTO(out.Best),
		Frames:  out.Frames,
	})
}
