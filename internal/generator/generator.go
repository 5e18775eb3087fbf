// Package generator orchestrates one natural-language-to-SQL pass:
// resolve the catalog and its policy, retrieve grounding context, prompt
// the model, then run the generated SQL through the guardrails. The model
// never gets the last word; whatever it produces is validated and
// rewritten before it leaves the service.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/guardrails"
	"github.com/fyrsmithlabs/queryd/internal/logging"
	"github.com/fyrsmithlabs/queryd/internal/oracle"
	"github.com/fyrsmithlabs/queryd/internal/prompt"
	"github.com/fyrsmithlabs/queryd/internal/retrieval"
	"github.com/fyrsmithlabs/queryd/internal/sqlast"
	"github.com/fyrsmithlabs/queryd/internal/store"
)

var (
	// ErrCatalogNotFound indicates the requested catalog does not exist.
	ErrCatalogNotFound = errors.New("catalog not found")

	// ErrCatalogInactive indicates the catalog exists but is disabled.
	ErrCatalogInactive = errors.New("catalog is not active")

	// ErrBadModelOutput indicates the model response was not the expected
	// JSON shape.
	ErrBadModelOutput = errors.New("failed to parse generated response")
)

// GenerationRequest asks for SQL answering a natural language question.
type GenerationRequest struct {
	CatalogID   uuid.UUID           `json:"catalog_id"`
	Engine      string              `json:"engine"`
	Question    string              `json:"question"`
	Include     *prompt.Includes    `json:"include,omitempty"`
	Constraints *prompt.Constraints `json:"constraints,omitempty"`
}

// Validate checks request shape before any work is done.
func (r GenerationRequest) Validate() error {
	if r.CatalogID == uuid.Nil {
		return fmt.Errorf("catalog_id is required")
	}
	question := strings.TrimSpace(r.Question)
	if len(question) < 5 {
		return fmt.Errorf("question must be at least 5 characters")
	}
	if len(question) > 1000 {
		return fmt.Errorf("question must be at most 1000 characters")
	}
	if _, err := sqlast.ParseDialect(r.Engine); err != nil {
		return err
	}
	return nil
}

// ValidationInfo reports what the parser saw in the SQL.
type ValidationInfo struct {
	SyntaxValid   bool     `json:"syntax_valid"`
	Errors        []string `json:"errors,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	ParsedTables  []string `json:"parsed_tables,omitempty"`
	ParsedColumns []string `json:"parsed_columns,omitempty"`
}

// PolicyInfo reports what the guardrails did.
type PolicyInfo struct {
	AllowWrite          bool     `json:"allow_write"`
	DefaultLimitApplied bool     `json:"default_limit_applied"`
	BannedItemsBlocked  []string `json:"banned_items_blocked,omitempty"`
	PIIMaskingApplied   bool     `json:"pii_masking_applied"`
	Violations          []string `json:"violations,omitempty"`
}

// GenerationResponse is the outcome of one generation pass. SQL and
// Explanation are nil when policy violations rejected the query.
type GenerationResponse struct {
	SQL              *string            `json:"sql"`
	Explanation      *string            `json:"explanation"`
	Validation       ValidationInfo     `json:"validation"`
	Policy           PolicyInfo         `json:"policy"`
	ContextUsed      int                `json:"context_used"`
	GenerationTimeMS int64              `json:"generation_time_ms"`
	TokensUsed       *oracle.TokenUsage `json:"tokens_used,omitempty"`
}

// ValidationRequest asks for validation of caller-supplied SQL.
type ValidationRequest struct {
	Engine    string     `json:"engine"`
	SQL       string     `json:"sql"`
	CatalogID *uuid.UUID `json:"catalog_id,omitempty"`
}

// ValidationResponse reports syntax validation plus, when a catalog was
// named, a policy check. Validation never mutates the submitted SQL.
type ValidationResponse struct {
	Validation ValidationInfo `json:"validation"`
	Policy     *PolicyInfo    `json:"policy,omitempty"`
}

// Config tunes the generation call.
type Config struct {
	// MaxCompletionTokens bounds the model response. Default: 2000.
	MaxCompletionTokens int
	// Temperature is the sampling temperature. Default: 0.1.
	Temperature float64
	// MaxContextTokens budgets the retrieved context block.
	// Default: prompt.DefaultContextTokens.
	MaxContextTokens int
	// MaxChunks caps retrieved context chunks per question.
	// Default: retrieval.DefaultMaxChunks.
	MaxChunks int
}

// ApplyDefaults sets defaults for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxCompletionTokens == 0 {
		c.MaxCompletionTokens = 2000
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = prompt.DefaultContextTokens
	}
	if c.MaxChunks == 0 {
		c.MaxChunks = retrieval.DefaultMaxChunks
	}
}

// Service generates and validates SQL.
type Service struct {
	store     *store.Store
	retriever *retrieval.Engine
	completer oracle.Completer
	guards    *guardrails.Engine
	config    Config
	logger    *logging.Logger
}

// NewService creates a generation service.
func NewService(st *store.Store, retriever *retrieval.Engine, completer oracle.Completer, guards *guardrails.Engine, config Config, logger *logging.Logger) *Service {
	config.ApplyDefaults()
	return &Service{
		store:     st,
		retriever: retriever,
		completer: completer,
		guards:    guards,
		config:    config,
		logger:    logger.Named("generator"),
	}
}

// modelOutput is the JSON shape the model is instructed to return.
type modelOutput struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// Generate runs one full generation pass. Failures after the catalog
// check are recorded in the query history with status "error"; policy
// rejections come back as a response with nil SQL and status
// "policy_violation".
func (s *Service) Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	dialect, err := sqlast.ParseDialect(req.Engine)
	if err != nil {
		return nil, err
	}

	catalog, err := s.store.GetCatalog(ctx, req.CatalogID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCatalogNotFound
	}
	if err != nil {
		return nil, err
	}
	if !catalog.IsActive {
		return nil, ErrCatalogInactive
	}

	policy := s.resolvePolicy(ctx, req.CatalogID)

	resp, err := s.generate(ctx, req, catalog.Name, policy, dialect, start)
	if err != nil {
		s.recordHistory(ctx, store.HistoryRecord{
			CatalogID:        req.CatalogID,
			Question:         req.Question,
			Status:           "error",
			Error:            err.Error(),
			GenerationTimeMS: time.Since(start).Milliseconds(),
		})
		s.logger.Error(ctx, "query generation failed",
			zap.String("catalog_id", req.CatalogID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return resp, nil
}

func (s *Service) generate(ctx context.Context, req GenerationRequest, catalogName string, policy guardrails.Policy, dialect sqlast.Dialect, start time.Time) (*GenerationResponse, error) {
	retrieveReq := retrieval.Request{
		CatalogID: req.CatalogID,
		Question:  req.Question,
		MaxChunks: s.config.MaxChunks,
	}
	if req.Include != nil {
		if len(req.Include.Schemas) > 0 {
			retrieveReq.Schema = req.Include.Schemas[0]
		}
		if len(req.Include.Tables) > 0 {
			retrieveReq.Table = req.Include.Tables[0]
		}
	}
	chunks, err := s.retriever.Retrieve(ctx, retrieveReq)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	contextString := retrieval.BuildContextString(chunks)
	contextString = prompt.TruncateContext(contextString, s.config.MaxContextTokens)

	systemPrompt := prompt.BuildSystemPrompt(string(dialect), policy, catalogName)
	userPrompt := prompt.BuildUserPrompt(req.Question, contextString, req.Constraints, req.Include)

	completion, err := s.completer.Complete(ctx, systemPrompt, userPrompt,
		s.config.MaxCompletionTokens, s.config.Temperature)
	if err != nil {
		return nil, fmt.Errorf("generating sql: %w", err)
	}

	var output modelOutput
	if err := json.Unmarshal([]byte(completion.Text), &output); err != nil {
		s.logger.Error(ctx, "model response is not valid JSON",
			zap.String("response", completion.Text),
		)
		return nil, ErrBadModelOutput
	}

	result := s.guards.Apply(ctx, output.SQL, policy, dialect)
	elapsed := time.Since(start).Milliseconds()

	resp := &GenerationResponse{
		Validation:       validationInfo(result),
		Policy:           policyInfo(policy, result),
		ContextUsed:      len(chunks),
		GenerationTimeMS: elapsed,
		TokensUsed:       &completion.Usage,
	}
	status := "policy_violation"
	if result.Accepted() {
		status = "success"
		resp.SQL = &result.SQL
		resp.Explanation = &output.Explanation
	}

	s.recordHistory(ctx, store.HistoryRecord{
		CatalogID:        req.CatalogID,
		Question:         req.Question,
		GeneratedSQL:     result.SQL,
		Status:           status,
		GenerationTimeMS: elapsed,
		TokensUsed:       completion.Usage.TotalTokens,
	})

	s.logger.Info(ctx, "query generated",
		zap.String("catalog_id", req.CatalogID.String()),
		zap.String("status", status),
		zap.Bool("syntax_valid", result.SyntaxValid),
		zap.Int("violations", len(result.Violations)),
		zap.Int64("generation_time_ms", elapsed),
	)
	return resp, nil
}

// Validate checks caller-supplied SQL without mutating it.
func (s *Service) Validate(ctx context.Context, req ValidationRequest) (*ValidationResponse, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, fmt.Errorf("sql is required")
	}
	dialect, err := sqlast.ParseDialect(req.Engine)
	if err != nil {
		return nil, err
	}

	syntax := s.guards.ValidateSyntax(ctx, req.SQL, dialect)
	resp := &ValidationResponse{Validation: validationInfo(syntax)}

	if req.CatalogID != nil {
		policy := s.resolvePolicy(ctx, *req.CatalogID)
		result := s.guards.Apply(ctx, req.SQL, policy, dialect)
		info := policyInfo(policy, result)
		// Checking only: the caller's SQL was not rewritten.
		info.DefaultLimitApplied = false
		info.PIIMaskingApplied = false
		resp.Policy = &info
	}
	return resp, nil
}

// resolvePolicy loads the catalog's policy, falling back to the default
// when none is stored.
func (s *Service) resolvePolicy(ctx context.Context, catalogID uuid.UUID) guardrails.Policy {
	policy, err := s.store.GetPolicy(ctx, catalogID)
	if errors.Is(err, store.ErrNotFound) {
		return guardrails.DefaultPolicy()
	}
	if err != nil {
		s.logger.Warn(ctx, "loading policy failed, using default",
			zap.String("catalog_id", catalogID.String()),
			zap.Error(err),
		)
		return guardrails.DefaultPolicy()
	}
	return *policy
}

// recordHistory is advisory; a failure is logged and the response still
// goes out.
func (s *Service) recordHistory(ctx context.Context, rec store.HistoryRecord) {
	if err := s.store.InsertHistory(ctx, rec); err != nil {
		s.logger.Warn(ctx, "recording query history failed", zap.Error(err))
	}
}

func validationInfo(result *guardrails.Result) ValidationInfo {
	return ValidationInfo{
		SyntaxValid:   result.SyntaxValid,
		Errors:        result.Errors,
		Warnings:      result.Warnings,
		ParsedTables:  result.Tables,
		ParsedColumns: result.Columns,
	}
}

func policyInfo(policy guardrails.Policy, result *guardrails.Result) PolicyInfo {
	var limitApplied, piiApplied bool
	for _, mod := range result.Modifications {
		if strings.Contains(mod, "LIMIT") {
			limitApplied = true
		}
		if strings.Contains(mod, "PII") {
			piiApplied = true
		}
	}
	return PolicyInfo{
		AllowWrite:          policy.AllowWrite,
		DefaultLimitApplied: limitApplied,
		BannedItemsBlocked:  result.Violations,
		PIIMaskingApplied:   piiApplied,
		Violations:          result.Violations,
	}
}
