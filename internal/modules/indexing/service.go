package indexing

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/osok/project-memory/internal/data/vector"
	"github.com/osok/project-memory/internal/jobs"
	"github.com/osok/project-memory/internal/modules/memory"
	"github.com/osok/project-memory/internal/platform/logger"
	"github.com/osok/project-memory/internal/types"
)

// maxSourceFileBytes guards against embedding generated or binary blobs that
// slipped past the include patterns.
const maxSourceFileBytes = 1 << 20

var defaultExcludes = []string{
	"node_modules", ".git", "vendor", "__pycache__", ".venv", "dist", "build", "target",
}

// FileSummary reports one indexed file.
type FileSummary struct {
	Path          string `json:"path"`
	Language      string `json:"language"`
	PatternID     string `json:"pattern_id"`
	FunctionCount int    `json:"function_count"`
	Replaced      int    `json:"replaced"`
}

// Service walks source trees and turns files into code_pattern and function
// memories through the CRUD core, so indexed code gets the same graph
// mirroring and inference as hand-written memories.
type Service struct {
	log      *logger.Logger
	memories *memory.Service
	store    jobs.Store
}

func NewService(log *logger.Logger, memories *memory.Service, store jobs.Store) *Service {
	return &Service{
		log:      log.With("service", "IndexingService"),
		memories: memories,
		store:    store,
	}
}

// IndexFile indexes one file synchronously: the whole file becomes a
// code_pattern memory and each extracted function becomes a function memory.
// Prior active function memories for the same path are soft-deleted first so
// repeated runs never accumulate stale entries.
func (s *Service) IndexFile(ctx context.Context, projectID, path, language string) (*FileSummary, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if language == "" {
		language = DetectLanguage(filepath.Ext(path))
	}
	if language == "" {
		return nil, fmt.Errorf("cannot detect language of %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxSourceFileBytes {
		return nil, fmt.Errorf("%s exceeds the %d byte indexing limit", path, maxSourceFileBytes)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	src := string(raw)

	replaced, err := s.retireFileFunctions(ctx, projectID, path)
	if err != nil {
		return nil, err
	}

	pattern, err := s.memories.Create(ctx, projectID, memory.CreateInput{
		Type:    types.MemoryTypeCodePattern,
		Content: src,
		Metadata: map[string]any{
			"file_path": path,
			"language":  language,
		},
	})
	if err != nil {
		return nil, err
	}

	summary := &FileSummary{
		Path:      path,
		Language:  language,
		PatternID: pattern.ID,
		Replaced:  replaced,
	}

	extractor := extractorFor(language)
	if extractor == nil {
		return summary, nil
	}
	fns, err := extractor.Extract(src)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	for _, fn := range fns {
		_, err := s.memories.Create(ctx, projectID, memory.CreateInput{
			Type:    types.MemoryTypeFunction,
			Content: fn.Body,
			Metadata: map[string]any{
				"file_path":  path,
				"language":   language,
				"name":       fn.Name,
				"start_line": fn.StartLine,
				"end_line":   fn.EndLine,
				"signature":  fn.Signature,
				"is_async":   fn.IsAsync,
				"is_method":  fn.IsMethod,
				"class_name": fn.ClassName,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("index function %s in %s: %w", fn.Name, path, err)
		}
		summary.FunctionCount++
	}
	return summary, nil
}

// retireFileFunctions soft-deletes every active function memory recorded for
// the path, returning how many were retired.
func (s *Service) retireFileFunctions(ctx context.Context, projectID, path string) (int, error) {
	active := false
	retired := 0
	var offset []byte
	for {
		page, err := s.memories.Vectors().Scroll(ctx, projectID, types.MemoryTypeFunction, vector.ScrollOptions{
			Deleted:  &active,
			Metadata: map[string]any{"file_path": path},
			Limit:    200,
			Offset:   offset,
		})
		if err != nil {
			return retired, err
		}
		for _, mem := range page.Memories {
			if err := s.memories.Delete(ctx, projectID, types.MemoryTypeFunction, mem.ID, false); err != nil {
				return retired, err
			}
			retired++
		}
		if page.NextOffset == nil {
			return retired, nil
		}
		offset = page.NextOffset
	}
}

// SubmitDirectory registers a directory indexing job and runs it in the
// background. The returned job is pending; callers poll it by id.
func (s *Service) SubmitDirectory(ctx context.Context, projectID, path string, include, exclude []string) (*jobs.Job, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	job := jobs.NewJob(jobs.KindIndexing, projectID)
	job.Path = path
	if err := s.store.Put(ctx, job); err != nil {
		return nil, err
	}
	go s.runDirectory(context.WithoutCancel(ctx), job.ID, projectID, path, include, exclude)
	return job, nil
}

func (s *Service) runDirectory(ctx context.Context, jobID, projectID, path string, include, exclude []string) {
	files, walkErr := collectFiles(path, include, exclude)
	if walkErr != nil {
		s.finishJob(ctx, jobID, walkErr)
		return
	}
	_, err := s.store.Update(ctx, jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusRunning
		j.StartedAt = time.Now().UTC().Format(time.RFC3339Nano)
		j.FilesTotal = len(files)
	})
	if err != nil {
		s.log.Error("indexing job start update failed", "job_id", jobID, "error", err)
		return
	}

	for _, file := range files {
		// Cancellation is cooperative and checked between files only.
		current, err := s.store.Get(ctx, jobID)
		if err == nil && current != nil && current.Status == jobs.StatusCancelled {
			s.log.Info("indexing job cancelled", "job_id", jobID, "project_id", projectID)
			return
		}
		_, indexErr := s.IndexFile(ctx, projectID, file, "")
		_, err = s.store.Update(ctx, jobID, func(j *jobs.Job) {
			j.FilesProcessed++
			if indexErr != nil {
				j.FileErrors = append(j.FileErrors, fmt.Sprintf("%s: %v", file, indexErr))
			}
		})
		if err != nil {
			s.log.Error("indexing job progress update failed", "job_id", jobID, "error", err)
		}
	}
	s.finishJob(ctx, jobID, nil)
}

func (s *Service) finishJob(ctx context.Context, jobID string, cause error) {
	_, err := s.store.Update(ctx, jobID, func(j *jobs.Job) {
		j.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)
		if cause != nil {
			j.Status = jobs.StatusFailed
			j.Error = cause.Error()
			return
		}
		j.Status = jobs.StatusComplete
	})
	if err != nil {
		s.log.Error("indexing job finish update failed", "job_id", jobID, "error", err)
	}
}

// collectFiles walks the tree depth-first. Excluded directories are pruned
// so their subtrees are never visited. A file is indexed when it matches an
// include pattern (all files when none are given), is not excluded, and has
// a recognized language.
func collectFiles(root string, include, exclude []string) ([]string, error) {
	excludes := append(append([]string{}, defaultExcludes...), exclude...)
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && matchesAny(d.Name(), excludes) {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesAny(d.Name(), excludes) {
			return nil
		}
		if len(include) > 0 && !matchesAny(d.Name(), include) {
			return nil
		}
		if DetectLanguage(filepath.Ext(path)) == "" {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// matchesAny implements glob-lite matching: "*.ext" is a suffix match,
// anything else a substring match.
func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "*") {
			if strings.HasSuffix(name, p[1:]) {
				return true
			}
			continue
		}
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
