// Package server exposes a detection pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/spf13/cast"
	"go.opencensus.io/trace"
	goutils "go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"go.viam.com/framedetect/logging"
	"go.viam.com/framedetect/rimage"
	"go.viam.com/framedetect/services/detectlabel"
	"go.viam.com/framedetect/utils"
	"go.viam.com/framedetect/vision/objectdetection"
)

const (
	// MaxBodyBytes bounds the size of an uploaded frame.
	MaxBodyBytes = 32 << 20
	// RequestIDHeader carries a detection request's id. A valid UUID sent by the client is kept.
	RequestIDHeader = "X-Request-Id"
)

// Server serves detection requests for one pipeline.
type Server struct {
	pipeline *detectlabel.Pipeline
	logger   logging.Logger
	mux      *goji.Mux
}

// New returns a server for p with its routes installed.
func New(p *detectlabel.Pipeline, logger logging.Logger) *Server {
	s := &Server{pipeline: p, logger: logger, mux: goji.NewMux()}
	s.mux.HandleFunc(pat.Post("/detect"), s.handleDetect)
	s.mux.HandleFunc(pat.Get("/stats"), s.handleStats)
	s.mux.HandleFunc(pat.Get("/model"), s.handleModel)
	s.mux.HandleFunc(pat.Post("/model/reload"), s.handleReload)
	s.mux.HandleFunc(pat.Get("/schema"), s.handleSchema)
	return s
}

// Handler returns the server's routes wrapped to allow cross origin requests. Requests carrying
// logging.DebugHeader are logged at debug level.
func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(logging.DebugHandler(s.mux))
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	defer close(done)
	goutils.PanicCapturingGo(func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("error shutting down", "error", err)
		}
	})
	s.logger.Infow("serving", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// labeledDetection is one valid detection with its category name resolved.
type labeledDetection struct {
	Label    string                      `json:"label"`
	Category int                         `json:"category"`
	Score    float32                     `json:"score"`
	Box      objectdetection.BoundingBox `json:"box"`
}

type detectResponse struct {
	*objectdetection.DetectionResult
	Detections []labeledDetection `json:"detections,omitempty"`
}

// handleDetect runs the request body through the pipeline. The body is an encoded image, or a raw
// frame when sent as application/octet-stream with width, height and format in the query. The
// model to use is named by the model query parameter and defaults to the loaded one. Any of
// min_score, min_area and categories adds the filtered, labeled detections to the response.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "web::server::detect")
	defer span.End()

	id := requestID(r.Header)
	w.Header().Set(RequestIDHeader, id.String())
	span.AddAttributes(trace.StringAttribute("request_id", id.String()))

	query := r.URL.Query()
	uri := query.Get("model")
	if uri == "" {
		uri = s.pipeline.ModelURI()
	}
	if uri == "" {
		http.Error(w, "no model loaded and none named", http.StatusBadRequest)
		return
	}

	frame, err := readFrame(http.MaxBytesReader(w, r.Body, MaxBodyBytes), r.Header.Get("Content-Type"), query)
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading frame: %s", err), http.StatusBadRequest)
		return
	}

	res, err := s.pipeline.Detect(ctx, frame, uri)
	if err != nil {
		s.logger.CDebugw(ctx, "detect failed", "request_id", id.String(), "error", err)
		http.Error(w, fmt.Sprintf("error detecting: %s", err), statusFor(err))
		return
	}

	resp := detectResponse{DetectionResult: res}
	filters, err := detectionFilters(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(filters) > 0 {
		labels := s.pipeline.Labels()
		for _, d := range res.Valid(filters...) {
			resp.Detections = append(resp.Detections, labeledDetection{
				Label:    d.Label(labels),
				Category: d.Category,
				Score:    d.Score,
				Box:      d.Box,
			})
		}
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.pipeline.Stats())
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	info, ok := s.pipeline.ModelInfo()
	if !ok {
		http.NotFound(w, r)
		return
	}
	outputs := make(map[string]string, len(info.Outputs))
	for role, out := range info.Outputs {
		outputs[role] = out.String()
	}
	s.writeJSON(w, map[string]interface{}{
		"uri":     info.URI,
		"path":    info.Path,
		"size":    info.Size,
		"input":   info.Input.String(),
		"outputs": outputs,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Reload(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("error reloading model: %s", err), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, detectlabel.ConfigSchema())
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", utils.MimeTypeJSON)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugw("error writing response", "error", err)
	}
}

// detectionFilters builds the filters named by the min_score, min_area and categories query
// parameters. categories is a comma separated list of category indices.
func detectionFilters(query url.Values) ([]objectdetection.Postprocessor, error) {
	var filters []objectdetection.Postprocessor
	if query.Has("min_score") {
		minScore, err := cast.ToFloat32E(query.Get("min_score"))
		if err != nil {
			return nil, errors.Wrap(err, "bad min_score")
		}
		filters = append(filters, objectdetection.NewScoreFilter(minScore))
	}
	if query.Has("min_area") {
		minArea, err := cast.ToFloat32E(query.Get("min_area"))
		if err != nil {
			return nil, errors.Wrap(err, "bad min_area")
		}
		filters = append(filters, objectdetection.NewAreaFilter(minArea))
	}
	if query.Has("categories") {
		categories, err := cast.ToIntSliceE(strings.Split(query.Get("categories"), ","))
		if err != nil {
			return nil, errors.Wrap(err, "bad categories")
		}
		filters = append(filters, objectdetection.NewCategoryFilter(categories...))
	}
	return filters, nil
}

// requestID returns the id sent by the client, or a new one when it is missing or malformed.
func requestID(header http.Header) uuid.UUID {
	if id, err := uuid.Parse(header.Get(RequestIDHeader)); err == nil {
		return id
	}
	return uuid.New()
}

// readFrame builds a frame from a request body.
func readFrame(body io.Reader, contentType string, query map[string][]string) (*rimage.Frame, error) {
	get := func(key string) string {
		if vals := query[key]; len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	rotation := 0
	if v := get("rotation"); v != "" {
		var err error
		if rotation, err = cast.ToIntE(v); err != nil {
			return nil, errors.Wrap(err, "rotation")
		}
	}

	if !utils.IsMimeType(contentType, utils.MimeTypeRawFrame) {
		img, _, err := rimage.DecodeImage(body)
		if err != nil {
			return nil, err
		}
		return rimage.FrameFromImage(img, rotation), nil
	}

	width, err := cast.ToIntE(get("width"))
	if err != nil {
		return nil, errors.Wrap(err, "width")
	}
	height, err := cast.ToIntE(get("height"))
	if err != nil {
		return nil, errors.Wrap(err, "height")
	}
	format, err := rimage.PixelFormatFromString(get("format"))
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return rimage.FrameFromBytes(format, width, height, rotation, data)
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, detectlabel.ErrInvalidModelPath),
		errors.Is(err, detectlabel.ErrPreprocessingFailure):
		return http.StatusBadRequest
	case errors.Is(err, detectlabel.ErrModelLoadFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, detectlabel.ErrNoModel):
		return http.StatusNotFound
	case errors.Is(err, detectlabel.ErrModelLoading),
		errors.Is(err, detectlabel.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
