package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/prism/internal/api"
	"github.com/fpang/prism/internal/archive"
	"github.com/fpang/prism/internal/dataprep"
	"github.com/fpang/prism/internal/imageproc"
	"github.com/fpang/prism/internal/metrics"
	"github.com/fpang/prism/internal/plan"
	"github.com/fpang/prism/internal/source"
	"github.com/fpang/prism/internal/store"
)

// --- Plan generation ---

func (s *Server) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.parseForm(w, r) {
		return
	}
	name, data, ok := formFile(w, r, api.FieldFile)
	if !ok {
		return
	}

	var (
		resp api.PlanResponse
		err  error
	)
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")); ext {
	case "png", "jpg", "jpeg":
		resp, err = s.planImage(r, data)
	case "csv":
		resp, err = planCSV(data)
	case "txt", "md", "pdf":
		resp, err = planText(name, data)
	default:
		httpError(w, http.StatusBadRequest, "Unsupported file type")
		return
	}
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.New().
		Dimension("Operation", "generate_plan").
		Dimension("DataType", resp.DataType).
		Since("LatencyMs", start).
		Metric("InputBytes", float64(len(data)), metrics.UnitBytes).
		Flush()
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) planImage(r *http.Request, data []byte) (api.PlanResponse, error) {
	profile, err := imageproc.ProfileImage(data)
	if err != nil {
		return api.PlanResponse{}, err
	}
	goal := r.FormValue(api.FieldGoal)
	if goal == "" {
		goal = source.GoalImage
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		return api.PlanResponse{}, err
	}
	return api.PlanResponse{
		Plan:     s.planner.PlanImage(r.Context(), profile, goal),
		Profile:  raw,
		DataType: string(source.TypeImage),
	}, nil
}

func planCSV(data []byte) (api.PlanResponse, error) {
	profile, err := dataprep.ProfileCSV(data)
	if err != nil {
		return api.PlanResponse{}, err
	}
	cleaned, err := dataprep.CleanedPreview(data)
	if err != nil {
		return api.PlanResponse{}, err
	}
	return marshalPlanResponse(source.TypeCSV, profile, cleaned)
}

func planText(name string, data []byte) (api.PlanResponse, error) {
	text, lines, err := dataprep.ExtractText(name, data)
	if err != nil {
		return api.PlanResponse{}, err
	}
	return marshalPlanResponse(source.TypeText, dataprep.ProfileText(text, lines), dataprep.CleanText(text))
}

// marshalPlanResponse builds the response for inputs without image ops.
func marshalPlanResponse(t source.DataType, profile, cleaned any) (api.PlanResponse, error) {
	rawProfile, err := json.Marshal(profile)
	if err != nil {
		return api.PlanResponse{}, err
	}
	rawCleaned, err := json.Marshal(cleaned)
	if err != nil {
		return api.PlanResponse{}, err
	}
	return api.PlanResponse{
		Plan:           api.GeneratedPlan{Ops: plan.Snapshot{}},
		Profile:        rawProfile,
		DataType:       string(t),
		CleanedPreview: rawCleaned,
	}, nil
}

// --- Preview ---

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.parseForm(w, r) {
		return
	}
	_, data, ok := formFile(w, r, api.FieldFile)
	if !ok {
		return
	}
	snap, ok := formPlan(w, r)
	if !ok {
		return
	}

	png, err := imageproc.Preview(data, snap, imageproc.NewRand(s.seed))
	if err != nil {
		if errors.Is(err, imageproc.ErrUndecodable) {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpError(w, http.StatusInternalServerError, "Failed to render preview", err.Error())
		return
	}

	metrics.New().
		Dimension("Operation", "preview").
		Since("LatencyMs", start).
		Metric("OutputBytes", float64(len(png)), metrics.UnitBytes).
		Metric("Ops", float64(snap.Len()), metrics.UnitCount).
		Flush()

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// --- Explanation ---

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.parseForm(w, r) {
		return
	}
	var step plan.Operation
	if err := json.Unmarshal([]byte(r.FormValue(api.FieldStep)), &step); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid step: %v", err))
		return
	}
	profile := json.RawMessage(r.FormValue(api.FieldProfile))
	if !json.Valid(profile) {
		profile = json.RawMessage("{}")
	}

	text := s.planner.Explain(r.Context(), step, profile, r.FormValue(api.FieldGoal))

	metrics.New().
		Dimension("Operation", "explain").
		Dimension("Kind", string(step.Kind)).
		Since("LatencyMs", start).
		Flush()
	respondJSON(w, http.StatusOK, api.ExplainResponse{Explanation: text})
}

// --- Apply & package ---

type applyInput struct {
	name string
	data []byte
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.parseForm(w, r) {
		return
	}
	headers := r.MultipartForm.File[api.FieldFiles]
	if len(headers) == 0 {
		httpError(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	snap, ok := formPlan(w, r)
	if !ok {
		return
	}

	inputs := make([]applyInput, len(headers))
	for i, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			httpError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s", fh.Filename), err.Error())
			return
		}
		inputs[i] = applyInput{name: fh.Filename, data: data}
	}

	batchID := strings.ReplaceAll(uuid.New().String(), "-", "")
	logger := log.With().Str("batch_id", batchID).Int("files", len(inputs)).Logger()
	logger.Info().Str("plan", snap.String()).Msg("Applying plan to batch")

	results := make([][]archive.Entry, len(inputs))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(s.workers)
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := imageproc.NewRand(s.fileSeed(i))
			res, err := imageproc.Apply(in.data, snap, rng)
			if err != nil {
				return fmt.Errorf("%s: %w", in.name, err)
			}
			prefix := strings.ReplaceAll(uuid.New().String(), "-", "")
			for _, out := range res.Outputs {
				results[i] = append(results[i], archive.Entry{
					Name: prefix + "_" + out.Name + ".png",
					Data: out.Data,
				})
			}
			for _, step := range res.Steps {
				if step.Status != "ok" {
					logger.Warn().Str("file", in.name).Str("op", step.Op).Str("error", step.Error).Msg("Step failed")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, imageproc.ErrUndecodable) {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpError(w, http.StatusInternalServerError, "Failed to process batch", err.Error())
		return
	}

	var entries []archive.Entry
	for _, rs := range results {
		entries = append(entries, rs...)
	}
	var bundle bytes.Buffer
	if err := archive.Write(&bundle, entries); err != nil {
		httpError(w, http.StatusInternalServerError, "Failed to package batch", err.Error())
		return
	}

	record := &store.Batch{
		ID:        batchID,
		Outputs:   len(entries),
		Bytes:     int64(bundle.Len()),
		CreatedAt: time.Now().UTC(),
	}
	for _, in := range inputs {
		record.Files = append(record.Files, in.name)
	}
	if s.archive != nil {
		url, err := s.archive.Upload(r.Context(), batchID, bundle.Bytes())
		if err != nil {
			logger.Warn().Err(err).Msg("Bundle upload failed, returning archive inline only")
		} else {
			w.Header().Set(api.HeaderArchiveURL, url)
			record.ArchiveKey = archive.BundleKey(batchID)
		}
	}
	s.recordBatch(r.Context(), record, snap)

	metrics.New().
		Dimension("Operation", "apply").
		Since("LatencyMs", start).
		Metric("Files", float64(len(inputs)), metrics.UnitCount).
		Metric("Outputs", float64(len(entries)), metrics.UnitCount).
		Metric("OutputBytes", float64(bundle.Len()), metrics.UnitBytes).
		Property("batch_id", batchID).
		Flush()
	logger.Info().Int("outputs", len(entries)).Int("bytes", bundle.Len()).Dur("duration", time.Since(start)).Msg("Batch packaged")

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=processed_%s.zip", batchID))
	w.Header().Set(api.HeaderBatchID, batchID)
	w.WriteHeader(http.StatusOK)
	w.Write(bundle.Bytes())
}

// recordBatch stores the batch record. A failure only costs the lookup.
func (s *Server) recordBatch(ctx context.Context, record *store.Batch, snap plan.Snapshot) {
	if s.batches == nil {
		return
	}
	ops, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Err(err).Str("batch_id", record.ID).Msg("Failed to encode plan for batch record")
		return
	}
	record.Plan = string(ops)
	if err := s.batches.PutBatch(ctx, record); err != nil {
		log.Warn().Err(err).Str("batch_id", record.ID).Msg("Failed to record batch")
	}
}

// fileSeed derives a per-file seed so a fixed server seed still gives each
// file its own variants.
func (s *Server) fileSeed(i int) uint64 {
	if s.seed == 0 {
		return 0
	}
	return s.seed + uint64(i)
}

// --- Batch lookup ---

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.batches == nil {
		httpError(w, http.StatusNotFound, "batch records are not enabled")
		return
	}
	record, err := s.batches.GetBatch(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "Failed to load batch", err.Error())
		return
	}
	if record == nil {
		httpError(w, http.StatusNotFound, fmt.Sprintf("batch %s not found", id))
		return
	}

	resp := api.BatchResponse{
		BatchID:   record.ID,
		Files:     record.Files,
		Outputs:   record.Outputs,
		Bytes:     record.Bytes,
		CreatedAt: record.CreatedAt,
	}
	if record.Plan != "" {
		if err := json.Unmarshal([]byte(record.Plan), &resp.Plan); err != nil {
			httpError(w, http.StatusInternalServerError, "Stored plan is invalid", err.Error())
			return
		}
	}
	if record.ArchiveKey != "" && s.archive != nil {
		url, err := s.archive.Link(r.Context(), id)
		if err != nil {
			log.Warn().Err(err).Str("batch_id", id).Msg("Failed to sign archive link")
		} else {
			resp.ArchiveURL = url
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Model: s.planner.Model()})
}

// --- Form helpers ---

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "request too large")
			return false
		}
		httpError(w, http.StatusBadRequest, "expected multipart form data", err.Error())
		return false
	}
	return true
}

func formFile(w http.ResponseWriter, r *http.Request, field string) (string, []byte, bool) {
	f, fh, err := r.FormFile(field)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("missing %s", field))
		return "", nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s", field), err.Error())
		return "", nil, false
	}
	return fh.Filename, data, true
}

func formPlan(w http.ResponseWriter, r *http.Request) (plan.Snapshot, bool) {
	var env api.PlanEnvelope
	if err := json.Unmarshal([]byte(r.FormValue(api.FieldPlan)), &env); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid plan: %v", err))
		return plan.Snapshot{}, false
	}
	return env.Ops, true
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
