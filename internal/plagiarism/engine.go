package plagiarism

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EngineConfig configures an Engine
type EngineConfig struct {
	Tool ToolConfig
	// WorkDir holds one short-lived batch root per running analysis
	WorkDir string
	// ArchiveDir keeps the result archive of every successful analysis
	ArchiveDir string
	Risk       RiskThresholds
}

// Engine runs analyses and answers detail queries. It holds no per-analysis state and
// is safe for concurrent use.
type Engine struct {
	cfg     EngineConfig
	invoker *Invoker
	schemas *schemaSet
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "phosphorus")
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = filepath.Join(cfg.WorkDir, "archives")
	}
	if cfg.Risk == (RiskThresholds{}) {
		cfg.Risk = DefaultRiskThresholds()
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk thresholds: %w", err)
	}

	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:     cfg,
		invoker: NewInvoker(cfg.Tool),
		schemas: schemas,
	}, nil
}

// RunAnalysis compares one batch of submissions. The batch root is removed before this
// returns, whatever the outcome.
func (e *Engine) RunAnalysis(ctx context.Context, batch Batch, params Params) (*AnalysisResult, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	if _, err := validateBatch(batch); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis cancelled: %w", err)
	}

	analysisID := uuid.NewString()
	logger := log.With().Str("analysisId", analysisID).Logger()
	logger.Info().
		Int("submissions", len(batch.Submissions)).
		Str("language", params.Language.Tool).
		Int("minTokens", params.MinTokenMatch).
		Float64("threshold", params.SimilarityThreshold).
		Msg("Starting analysis")

	prepared, err := PrepareBatch(e.cfg.WorkDir, batch, params.Language)
	if err != nil {
		return nil, err
	}
	cleanup := sync.OnceFunc(func() {
		if err := os.RemoveAll(prepared.Root); err != nil {
			logger.Warn().Err(err).Str("root", prepared.Root).Msg("Failed to remove batch root")
		}
	})
	defer cleanup()

	inv, err := e.invoker.Run(ctx, prepared, params)
	if err != nil {
		return nil, err
	}

	archivePath := filepath.Join(e.cfg.ArchiveDir, analysisID+archiveExtension)
	if err := retainArchive(inv.ArchivePath, archivePath); err != nil {
		return nil, fmt.Errorf("failed to retain result archive: %w", err)
	}
	cleanup()

	result, err := e.load(archivePath, buildOptions{
		AnalysisID:   analysisID,
		ArchivePath:  archivePath,
		Params:       params,
		Risk:         e.cfg.Risk,
		ToolDuration: inv.Duration,
		Aliases:      prepared.Aliases,
		DisplayNames: displayNames(batch),
	})
	if err != nil {
		if rmErr := os.Remove(archivePath); rmErr != nil {
			logger.Warn().Err(rmErr).Str("archive", archivePath).Msg("Failed to remove rejected archive")
		}
		return nil, err
	}

	logger.Info().
		Dur("toolDuration", inv.Duration).
		Int("highSimilarityPairs", len(result.HighSimilarityPairs)).
		Int("failedSubmissions", len(result.FailedSubmissions)).
		Msg("Analysis completed")

	return result, nil
}

// OpenOption restores run details the archive itself does not record
type OpenOption func(*buildOptions)

// WithDisplayNames restores caller-supplied display names, keyed by caller id
func WithDisplayNames(names map[string]string) OpenOption {
	return func(o *buildOptions) { o.DisplayNames = names }
}

// WithToolDuration restores the wall time of the original tool run
func WithToolDuration(d time.Duration) OpenOption {
	return func(o *buildOptions) { o.ToolDuration = d }
}

// OpenResult rebuilds the result of an earlier analysis from its retained archive without
// running the tool. aliases maps tool ids back to caller ids.
func (e *Engine) OpenResult(archivePath string, params Params, aliases map[string]string, opts ...OpenOption) (*AnalysisResult, error) {
	build := buildOptions{
		AnalysisID:  strings.TrimSuffix(filepath.Base(archivePath), archiveExtension),
		ArchivePath: archivePath,
		Params:      params,
		Risk:        e.cfg.Risk,
		Aliases:     aliases,
	}
	for _, opt := range opts {
		opt(&build)
	}
	return e.load(archivePath, build)
}

// GetDetailedComparison returns the line-level view of a pair the tool reported. Pairs
// that were never reported fail with ComparisonNotFoundError.
func (e *Engine) GetDetailedComparison(result *AnalysisResult, first, second string) (*DetailedComparison, error) {
	return assembleDetail(result, first, second)
}

func (e *Engine) load(archivePath string, opts buildOptions) (*AnalysisResult, error) {
	docs, err := parseArchive(archivePath, e.schemas)
	if err != nil {
		return nil, err
	}
	return buildResult(docs, opts)
}

func displayNames(batch Batch) map[string]string {
	names := make(map[string]string, len(batch.Submissions))
	for _, s := range batch.Submissions {
		if s.DisplayName != "" {
			names[s.ID] = s.DisplayName
		}
	}
	return names
}

// retainArchive moves the archive out of the batch root, copying when a rename is not possible
func retainArchive(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// PruneArchives removes retained archives older than maxAge and returns how many were removed
func (e *Engine) PruneArchives(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(e.cfg.ArchiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list archives: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != archiveExtension {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(e.cfg.ArchiveDir, entry.Name())); err != nil {
			log.Warn().Err(err).Str("archive", entry.Name()).Msg("Failed to prune archive")
			continue
		}
		removed++
	}
	return removed, nil
}
