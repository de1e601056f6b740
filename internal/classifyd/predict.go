package classifyd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"casewatch/internal/classifier"
	"casewatch/internal/jobstate"
	"casewatch/internal/logging"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePredict classifies one uploaded image. The multipart file field must
// be named after the GUID in the path.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	guid := strings.TrimSpace(mux.Vars(r)["guid"])
	if guid == "" {
		s.writeError(w, http.StatusBadRequest, "No GUID provided to identify image.")
		return
	}
	maxBytes := int64(s.cfg.Service.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Image file too large.")
			return
		}
		s.writeError(w, http.StatusBadRequest, "Image file not provided.")
		return
	}
	file, _, err := r.FormFile(guid)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Image file not provided.")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Image file could not be read.")
		return
	}

	logger := logging.WithContext(r.Context(), s.logger).With(logging.Unit(guid))
	started := time.Now()
	classes, err := s.classify(r, guid, data)
	s.metrics.latency.Observe(time.Since(started).Seconds())
	s.metrics.predictions.WithLabelValues(outcomeLabel(err != nil)).Inc()
	if err != nil {
		logging.WarnWithContext(logger, "prediction failed", "prediction_failed",
			logging.String("reason", err.Error()),
			logging.Impact("client receives an error response"),
		)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries, err := jobstate.EncodeOutcome(jobstate.Success(classes...))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Debug("prediction served", logging.Int("labels", len(classes)))
	s.writeJSON(w, http.StatusOK, map[string]map[string]json.RawMessage{
		"results": {guid: entries},
	})
}

func (s *Server) classify(r *http.Request, guid string, data []byte) ([]jobstate.Classification, error) {
	if _, err := classifier.CheckImage(data); err != nil {
		return nil, err
	}
	classes, err := s.classifier.Classify(r.Context(), guid, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return classifier.TopK(classes, s.cfg.Classifier.TopK), nil
}
