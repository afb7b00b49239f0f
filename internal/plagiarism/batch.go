package plagiarism

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// MinSubmissions is the smallest batch worth comparing
	MinSubmissions = 2

	submissionsDirName = "submissions"
	outputDirName      = "output"
	defaultFileStem    = "solution"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// PreparedBatch is a batch materialized on disk. Root is owned exclusively by one analysis.
type PreparedBatch struct {
	Root           string
	SubmissionsDir string
	OutputDir      string
	// Aliases maps the sanitized directory name (the tool's submission id) back to the caller's id
	Aliases map[string]string
}

// sanitizeName reduces a name to a safe character set
func sanitizeName(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ".")
	return name
}

// validateBatch checks a batch without touching the filesystem
func validateBatch(batch Batch) (map[string]string, error) {
	if len(batch.Submissions) < MinSubmissions {
		return nil, invalidBatch("need at least %d submissions, got %d", MinSubmissions, len(batch.Submissions))
	}

	aliases := make(map[string]string, len(batch.Submissions))
	seen := make(map[string]bool, len(batch.Submissions))
	for _, sub := range batch.Submissions {
		if strings.TrimSpace(sub.ID) == "" {
			return nil, invalidBatch("submission with empty id")
		}
		if seen[sub.ID] {
			return nil, invalidBatch("duplicate submission id %q", sub.ID)
		}
		seen[sub.ID] = true

		if len(sub.Files) == 0 {
			return nil, invalidBatch("submission %q has no files", sub.ID)
		}

		dir := sanitizeName(sub.ID)
		if dir == "" {
			return nil, invalidBatch("submission id %q has no safe characters", sub.ID)
		}
		if other, ok := aliases[dir]; ok {
			return nil, invalidBatch("submission ids %q and %q collide after sanitizing", other, sub.ID)
		}
		aliases[dir] = sub.ID
	}
	return aliases, nil
}

// sanitizeFilePath keeps the directory structure of a submitted path but drops anything
// that could escape the submission directory, then applies the language extension
func sanitizeFilePath(p string, lang Language) string {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := make([]string, 0)
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			continue
		}
		if clean := sanitizeName(part); clean != "" {
			parts = append(parts, clean)
		}
	}

	base := defaultFileStem
	if len(parts) > 0 {
		base = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" {
		stem = defaultFileStem
	}
	parts = append(parts, stem+lang.Extension)
	return path.Join(parts...)
}

// PrepareBatch writes every submission into its own directory under a fresh batch root
// inside workDir. On error nothing is left behind.
func PrepareBatch(workDir string, batch Batch, lang Language) (*PreparedBatch, error) {
	aliases, err := validateBatch(batch)
	if err != nil {
		return nil, err
	}

	workDir, err = filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work dir: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	root, err := os.MkdirTemp(workDir, "batch-")
	if err != nil {
		return nil, fmt.Errorf("failed to create batch root: %w", err)
	}

	prepared := &PreparedBatch{
		Root:           root,
		SubmissionsDir: filepath.Join(root, submissionsDirName),
		OutputDir:      filepath.Join(root, outputDirName),
		Aliases:        aliases,
	}

	if err := prepared.write(batch, lang); err != nil {
		if rmErr := os.RemoveAll(root); rmErr != nil {
			log.Warn().Err(rmErr).Str("root", root).Msg("Failed to remove batch root")
		}
		return nil, err
	}

	log.Debug().
		Str("root", root).
		Int("submissions", len(batch.Submissions)).
		Str("language", lang.Tool).
		Msg("Batch prepared")

	return prepared, nil
}

func (b *PreparedBatch) write(batch Batch, lang Language) error {
	if err := os.MkdirAll(b.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	for _, sub := range batch.Submissions {
		subDir := filepath.Join(b.SubmissionsDir, sanitizeName(sub.ID))
		if err := os.MkdirAll(subDir, 0o755); err != nil {
			return fmt.Errorf("failed to create submission dir: %w", err)
		}

		used := make(map[string]bool, len(sub.Files))
		for _, file := range sub.Files {
			rel := uniquePath(sanitizeFilePath(file.Path, lang), used)
			target := filepath.Join(subDir, filepath.FromSlash(rel))
			if !within(subDir, target) {
				return invalidBatch("file %q of submission %q escapes its directory", file.Path, sub.ID)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create file dir: %w", err)
			}
			if err := os.WriteFile(target, []byte(file.Content), 0o644); err != nil {
				return fmt.Errorf("failed to write submission file: %w", err)
			}
		}
	}
	return nil
}

func uniquePath(p string, used map[string]bool) string {
	if !used[p] {
		used[p] = true
		return p
	}
	ext := path.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		candidate := stem + "_" + strconv.Itoa(i) + ext
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
