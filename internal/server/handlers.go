package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/foliopilot/foliopilot/internal/errs"
	"github.com/foliopilot/foliopilot/internal/llm"
	"github.com/foliopilot/foliopilot/internal/marketdata"
	"github.com/foliopilot/foliopilot/internal/quota"
	"github.com/foliopilot/foliopilot/internal/uploads"
)

// InvokeLLMRequest is the body for POST /api/invoke-llm.
type InvokeLLMRequest struct {
	Prompt                 string          `json:"prompt"`
	ResponseJSONSchema     json.RawMessage `json:"response_json_schema,omitempty"`
	SystemInstruction      string          `json:"system_instruction,omitempty"`
	AddContextFromInternet bool            `json:"add_context_from_internet,omitempty"`
}

// InvokeMeta describes how a result was produced.
type InvokeMeta struct {
	Cached   bool   `json:"cached"`
	AgeMS    int64  `json:"ageMs"`
	Provider string `json:"provider,omitempty"`
}

// InvokeLLMResponse is the reply for POST /api/invoke-llm.
type InvokeLLMResponse struct {
	Result any         `json:"result"`
	Meta   *InvokeMeta `json:"meta,omitempty"`
}

func (s *Server) handleInvokeLLM(w http.ResponseWriter, r *http.Request) {
	var req InvokeLLMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.Validation, "invalid request body"))
		return
	}
	if req.Prompt == "" {
		writeError(w, errs.New(errs.Validation, "prompt is required"))
		return
	}

	user := userFrom(r.Context())
	if err := s.gate.Check(r.Context(), user.ID, user.Tier, quota.Delta{Insights: 1}); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.invoker.Invoke(r.Context(), llm.Request{
		Prompt:         req.Prompt,
		Schema:         req.ResponseJSONSchema,
		SystemOverride: req.SystemInstruction,
		AddContext:     req.AddContextFromInternet,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.gate.Consume(r.Context(), user.ID, user.Tier, quota.Delta{Insights: 1}); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, InvokeLLMResponse{
		Result: result.Value,
		Meta: &InvokeMeta{
			Cached:   result.Cached,
			AgeMS:    result.Age.Milliseconds(),
			Provider: result.Provider,
		},
	})
}

// ExtractRequest is the body for POST /api/extract. FileURL is an
// upload id returned by POST /api/upload.
type ExtractRequest struct {
	FileURL    string          `json:"file_url"`
	JSONSchema json.RawMessage `json:"json_schema"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.Validation, "invalid request body"))
		return
	}
	if req.FileURL == "" || len(req.JSONSchema) == 0 {
		writeError(w, errs.New(errs.Validation, "file_url and json_schema are required"))
		return
	}

	file, ok := s.uploads.Get(req.FileURL)
	if !ok {
		writeError(w, errs.New(errs.NotFound, "upload %s not found", req.FileURL))
		return
	}

	user := userFrom(r.Context())
	if err := s.gate.Check(r.Context(), user.ID, user.Tier, quota.Delta{Insights: 1}); err != nil {
		writeError(w, err)
		return
	}

	prompt := fmt.Sprintf(
		"Extract the structured data described by the schema from the following document (%s):\n\n%s",
		file.Name, string(file.Data))

	result, err := s.invoker.Invoke(r.Context(), llm.Request{
		Prompt: prompt,
		Schema: req.JSONSchema,
		SystemOverride: "You extract structured data from user documents. " +
			"Use null for fields the document does not contain.",
	})
	if err != nil {
		if terminalExtract(err) {
			s.uploads.Remove(req.FileURL)
		}
		writeError(w, err)
		return
	}
	s.uploads.Remove(req.FileURL)

	if _, err := s.gate.Consume(r.Context(), user.ID, user.Tier, quota.Delta{Insights: 1}); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"output": result.Value,
	})
}

// terminalExtract reports whether an extraction error cannot succeed on
// retry, so the pending upload should be dropped.
func terminalExtract(err error) bool {
	switch errs.KindOf(err) {
	case errs.Validation, errs.BadModelOutput:
		return true
	}
	return false
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	if err := s.gate.Check(r.Context(), user.ID, user.Tier, quota.Delta{Uploads: 1}); err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, uploads.MaxFileSize+4096)
	if err := r.ParseMultipartForm(uploads.MaxFileSize); err != nil {
		writeError(w, errs.New(errs.Validation, "file exceeds %d bytes or malformed multipart body", uploads.MaxFileSize))
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errs.New(errs.Validation, "file field is required"))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, errs.New(errs.Validation, "cannot read file"))
		return
	}

	id, err := s.uploads.Put(header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.gate.Consume(r.Context(), user.ID, user.Tier, quota.Delta{Uploads: 1}); err != nil {
		s.uploads.Remove(id)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_url": id,
		"size":     len(data),
		"name":     header.Filename,
	})
}

// PricesRequest is the body for POST /api/prices.
type PricesRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.Validation, "invalid request body"))
		return
	}

	canonicals, err := s.batch.NormalizeSymbols(req.Symbols)
	if err != nil {
		writeError(w, err)
		return
	}

	user := userFrom(r.Context())
	if err := s.gate.Check(r.Context(), user.ID, user.Tier, quota.Delta{Quotes: len(canonicals)}); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.batch.GetQuoteBatch(r.Context(), canonicals)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.gate.Consume(r.Context(), user.ID, user.Tier, quota.Delta{Quotes: len(canonicals)}); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": result.Data,
		"meta": map[string]any{
			"cacheHits":       result.CacheHits,
			"partialFailures": result.PartialFailures,
		},
	})
}

// PriceDetailsRequest is the body for POST /api/prices/details.
type PriceDetailsRequest struct {
	Symbol       string `json:"symbol"`
	Date         string `json:"date,omitempty"`
	Time         string `json:"time,omitempty"`
	PreferOpenAI bool   `json:"prefer_openai,omitempty"`
	ExpectedName string `json:"expected_name,omitempty"`
}

func (s *Server) handlePriceDetails(w http.ResponseWriter, r *http.Request) {
	var req PriceDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.Validation, "invalid request body"))
		return
	}

	user := userFrom(r.Context())
	if err := s.gate.Check(r.Context(), user.ID, user.Tier, quota.Delta{Quotes: 1}); err != nil {
		writeError(w, err)
		return
	}

	details, err := s.details.GetPriceDetails(r.Context(), marketdata.DetailsRequest{
		Symbol:       req.Symbol,
		Date:         req.Date,
		Time:         req.Time,
		PreferOracle: req.PreferOpenAI,
		ExpectedName: req.ExpectedName,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.gate.Consume(r.Context(), user.ID, user.Tier, quota.Delta{Quotes: 1}); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleSymbolSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, errs.New(errs.Validation, "q is required"))
		return
	}

	results := s.search.Search(r.Context(), q)
	if results == nil {
		results = []marketdata.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": results})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	usage, err := s.gate.Read(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"model":  s.invoker.PrimaryModel(),
	})
}
