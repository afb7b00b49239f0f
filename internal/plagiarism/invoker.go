package plagiarism

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultToolTimeout = 10 * time.Minute
	defaultStderrLimit = 16 * 1024
	killGrace          = 5 * time.Second
	resultBaseName     = "result"
	archiveExtension   = ".jplag"
)

// ToolConfig locates the comparison tool and bounds its execution
type ToolConfig struct {
	JavaBin     string
	JarPath     string
	Timeout     time.Duration
	StderrLimit int
}

// Invoker runs the comparison tool as a child process
type Invoker struct {
	cfg ToolConfig
}

// Invocation describes a finished tool run
type Invocation struct {
	ArchivePath string
	Duration    time.Duration
	ExitCode    int
}

func NewInvoker(cfg ToolConfig) *Invoker {
	if cfg.JavaBin == "" {
		cfg.JavaBin = "java"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultToolTimeout
	}
	if cfg.StderrLimit <= 0 {
		cfg.StderrLimit = defaultStderrLimit
	}
	return &Invoker{cfg: cfg}
}

// ValidateParams checks the tool parameters before anything is written to disk
func ValidateParams(params Params) error {
	if params.Language.Tool == "" {
		return invalidBatch("language is required")
	}
	if params.MinTokenMatch < 1 || params.MinTokenMatch > 100 {
		return invalidBatch("minimum token match must be within [1,100], got %d", params.MinTokenMatch)
	}
	if params.SimilarityThreshold < 0 || params.SimilarityThreshold > 1 {
		return invalidBatch("similarity threshold must be within [0,1], got %g", params.SimilarityThreshold)
	}
	if params.PrimaryMetric != "" && !params.PrimaryMetric.IsRatio() {
		return invalidBatch("primary metric must be %s or %s, got %q", MetricAverage, MetricMaximum, params.PrimaryMetric)
	}
	if params.BaseCodeDir != "" {
		info, err := os.Stat(params.BaseCodeDir)
		if err != nil || !info.IsDir() {
			return invalidBatch("base code directory %q is not a directory", params.BaseCodeDir)
		}
	}
	return nil
}

// Args builds the tool command line for a prepared batch
func (i *Invoker) Args(batch *PreparedBatch, params Params) []string {
	args := []string{
		"-jar", i.cfg.JarPath,
		"--mode", "run",
		"-l", params.Language.Tool,
		"-r", filepath.Join(batch.OutputDir, resultBaseName),
		"-t", strconv.Itoa(params.MinTokenMatch),
		"-m", strconv.FormatFloat(params.SimilarityThreshold, 'f', -1, 64),
	}
	if params.BaseCodeDir != "" {
		args = append(args, "-bc", params.BaseCodeDir)
	}
	if params.NormalizeTokens {
		args = append(args, "--normalize")
	}
	return append(args, batch.SubmissionsDir)
}

// Run executes the tool against a prepared batch. The process is killed when ctx is
// cancelled or the configured timeout expires.
func (i *Invoker) Run(ctx context.Context, batch *PreparedBatch, params Params) (*Invocation, error) {
	runCtx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	args := i.Args(batch, params)
	cmd := exec.CommandContext(runCtx, i.cfg.JavaBin, args...)
	cmd.Dir = batch.Root
	cmd.WaitDelay = killGrace
	configureProcess(cmd)

	stderr := &tailBuffer{limit: i.cfg.StderrLimit}
	cmd.Stderr = stderr

	log.Info().
		Str("command", i.cfg.JavaBin+" "+strings.Join(args, " ")).
		Dur("timeout", i.cfg.Timeout).
		Msg("Running comparison tool")

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("analysis cancelled: %w", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		log.Warn().Dur("timeout", i.cfg.Timeout).Msg("Comparison tool timed out and was killed")
		return nil, &AnalysisTimeoutError{Timeout: i.cfg.Timeout}
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	archivePath, archiveErr := locateArchive(filepath.Join(batch.OutputDir, resultBaseName))

	if runErr != nil {
		if archiveErr == nil {
			log.Warn().
				Err(runErr).
				Int("exitCode", exitCode).
				Msg("Comparison tool exited with an error but produced a valid archive")
		} else {
			log.Error().
				Err(runErr).
				Int("exitCode", exitCode).
				Str("stderr", stderr.String()).
				Msg("Comparison tool failed")
			return nil, &ToolExecutionError{ExitCode: exitCode, Stderr: stderr.String(), Err: runErr}
		}
	} else if archiveErr != nil {
		var corrupt *CorruptArchiveError
		if errors.As(archiveErr, &corrupt) {
			log.Error().Err(corrupt).Msg("Comparison tool produced an unreadable archive")
			return nil, corrupt
		}
		return nil, &ToolExecutionError{ExitCode: exitCode, Stderr: stderr.String(), Err: archiveErr}
	}

	log.Info().
		Dur("duration", elapsed).
		Int("exitCode", exitCode).
		Msg("Comparison tool completed")

	return &Invocation{ArchivePath: archivePath, Duration: elapsed, ExitCode: exitCode}, nil
}

// locateArchive finds the tool output. The tool appends the archive extension to the
// requested result path.
func locateArchive(base string) (string, error) {
	for _, candidate := range []string{base + archiveExtension, base} {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		r, err := zip.OpenReader(candidate)
		if err != nil {
			return "", &CorruptArchiveError{
				Path:     candidate,
				Problems: []error{fmt.Errorf("not a readable zip archive: %w", err)},
			}
		}
		r.Close()
		return candidate, nil
	}
	return "", fmt.Errorf("result archive not produced at %s", base+archiveExtension)
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
