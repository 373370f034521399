package normalize

import (
	"context"
	"fmt"
	"time"

	"github.com/osok/project-memory/internal/data/vector"
	"github.com/osok/project-memory/internal/jobs"
	"github.com/osok/project-memory/internal/modules/memory"
	"github.com/osok/project-memory/internal/platform/logger"
	"github.com/osok/project-memory/internal/types"
)

// Phase names, in execution order.
const (
	PhaseDedup          = "dedup"
	PhaseOrphans        = "orphans"
	PhaseCleanup        = "cleanup"
	PhaseEmbeddings     = "embeddings"
	PhaseSuiteRetention = "suite_retention"
)

var allPhases = []string{PhaseDedup, PhaseOrphans, PhaseCleanup, PhaseEmbeddings, PhaseSuiteRetention}

// Config carries the maintenance thresholds. The defaults are deliberate:
// 0.95 is high enough that only near-verbatim memories collapse, and the
// 30-day window gives soft-deleted memories a realistic undo horizon.
type Config struct {
	// DedupThreshold is the similarity score at or above which two active
	// memories of the same type are considered duplicates.
	DedupThreshold float64
	// CleanupRetentionDays is how long a soft-deleted memory survives before
	// cleanup removes it permanently.
	CleanupRetentionDays int
	// VarianceEpsilon flags fallback embeddings: a vector that is all-zero
	// or whose variance falls below this is re-embedded.
	VarianceEpsilon float64

	SuiteRetention memory.SuiteRetentionConfig
}

func DefaultConfig() Config {
	return Config{
		DedupThreshold:       0.95,
		CleanupRetentionDays: 30,
		VarianceEpsilon:      0.001,
		SuiteRetention:       memory.DefaultSuiteRetentionConfig(),
	}
}

const (
	scrollPageSize = 200
	dedupSearchK   = 10
)

// Service runs maintenance jobs that repair drift between the two stores.
// Each phase is independent: a failing phase reports a zero-count result
// with a detail string instead of failing the job.
type Service struct {
	log      *logger.Logger
	memories *memory.Service
	store    jobs.Store
	cfg      Config
}

func NewService(log *logger.Logger, memories *memory.Service, store jobs.Store, cfg Config) *Service {
	if cfg.DedupThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		log:      log.With("service", "NormalizeService"),
		memories: memories,
		store:    store,
		cfg:      cfg,
	}
}

// Submit registers a normalization job and runs it in the background. An
// empty phase list means every phase, in the fixed order.
func (s *Service) Submit(ctx context.Context, projectID string, phases []string, dryRun bool) (*jobs.Job, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if len(phases) == 0 {
		phases = allPhases
	}
	for _, phase := range phases {
		if !validPhase(phase) {
			return nil, fmt.Errorf("unknown normalization phase %q", phase)
		}
	}
	job := jobs.NewJob(jobs.KindNormalization, projectID)
	job.DryRun = dryRun
	job.Phases = phases
	if err := s.store.Put(ctx, job); err != nil {
		return nil, err
	}
	go s.run(context.WithoutCancel(ctx), job.ID, projectID, phases, dryRun)
	return job, nil
}

func validPhase(phase string) bool {
	for _, p := range allPhases {
		if p == phase {
			return true
		}
	}
	return false
}

func (s *Service) run(ctx context.Context, jobID, projectID string, phases []string, dryRun bool) {
	_, err := s.store.Update(ctx, jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusRunning
		j.StartedAt = time.Now().UTC().Format(time.RFC3339Nano)
	})
	if err != nil {
		s.log.Error("normalization job start update failed", "job_id", jobID, "error", err)
		return
	}

	for _, phase := range phases {
		result := s.runPhase(ctx, projectID, phase, dryRun)
		_, err := s.store.Update(ctx, jobID, func(j *jobs.Job) {
			j.Results = append(j.Results, result)
		})
		if err != nil {
			s.log.Error("normalization job progress update failed", "job_id", jobID, "error", err)
		}
	}

	_, err = s.store.Update(ctx, jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusComplete
		j.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)
	})
	if err != nil {
		s.log.Error("normalization job finish update failed", "job_id", jobID, "error", err)
	}
}

// runPhase never lets a phase error escape: the error becomes the phase's
// detail string.
func (s *Service) runPhase(ctx context.Context, projectID, phase string, dryRun bool) jobs.PhaseResult {
	var (
		count   int
		details []string
		err     error
	)
	switch phase {
	case PhaseDedup:
		count, details, err = s.deduplicate(ctx, projectID, dryRun)
	case PhaseOrphans:
		count, details, err = s.detectOrphans(ctx, projectID, dryRun)
	case PhaseCleanup:
		count, details, err = s.cleanup(ctx, projectID, dryRun)
	case PhaseEmbeddings:
		count, details, err = s.refreshEmbeddings(ctx, projectID, dryRun)
	case PhaseSuiteRetention:
		count, details, err = s.memories.ApplySuiteRetention(ctx, projectID, s.cfg.SuiteRetention, dryRun)
	}
	if err != nil {
		s.log.Warn("normalization phase failed", "project_id", projectID, "phase", phase, "error", err)
		return jobs.PhaseResult{Phase: phase, Count: 0, Details: []string{err.Error()}}
	}
	return jobs.PhaseResult{Phase: phase, Count: count, Details: details}
}

// deduplicate collapses near-identical active memories within each type.
// Iteration follows scroll order, and a memory marked processed is never
// revisited, so each duplicate cluster keeps exactly one representative:
// the first one visited.
func (s *Service) deduplicate(ctx context.Context, projectID string, dryRun bool) (int, []string, error) {
	vectors := s.memories.Vectors()
	total := 0
	var details []string

	for _, t := range types.AllTypes() {
		mems, err := s.scrollAll(ctx, projectID, t, false)
		if err != nil {
			return total, details, err
		}
		processed := map[string]bool{}
		for _, mem := range mems {
			if processed[mem.ID] {
				continue
			}
			processed[mem.ID] = true
			if len(mem.Vector) == 0 {
				continue
			}
			hits, err := vectors.Search(ctx, projectID, []types.MemoryType{t}, mem.Vector, dedupSearchK, vector.SearchOptions{
				ExcludeID: mem.ID,
			})
			if err != nil {
				details = append(details, fmt.Sprintf("%s %s: %v", t, mem.ID, err))
				continue
			}
			for _, hit := range hits {
				if hit.Score < s.cfg.DedupThreshold || processed[hit.Memory.ID] {
					continue
				}
				processed[hit.Memory.ID] = true
				if dryRun {
					total++
					details = append(details, fmt.Sprintf("would merge %s %s into %s", t, hit.Memory.ID, mem.ID))
					continue
				}
				if err := s.memories.Delete(ctx, projectID, t, hit.Memory.ID, false); err != nil {
					details = append(details, fmt.Sprintf("%s %s: %v", t, hit.Memory.ID, err))
					continue
				}
				total++
			}
		}
	}
	return total, details, nil
}

// detectOrphans removes graph nodes whose vector point no longer exists. A
// missing collection counts as a missing point.
func (s *Service) detectOrphans(ctx context.Context, projectID string, dryRun bool) (int, []string, error) {
	graphs := s.memories.Graphs()
	if !graphs.Available() {
		return 0, []string{"graph store not configured"}, nil
	}
	refs, err := graphs.ListNodes(ctx, projectID)
	if err != nil {
		return 0, nil, err
	}
	vectors := s.memories.Vectors()
	total := 0
	var details []string
	for _, ref := range refs {
		t := types.MemoryType(ref.Type)
		orphan := false
		if !types.ValidType(t) {
			orphan = true
			details = append(details, fmt.Sprintf("node %s has unknown type %q", ref.ID, ref.Type))
		} else {
			mem, err := vectors.Get(ctx, projectID, t, ref.ID)
			if err != nil {
				details = append(details, fmt.Sprintf("node %s: %v", ref.ID, err))
				continue
			}
			orphan = mem == nil
		}
		if !orphan {
			continue
		}
		if dryRun {
			total++
			details = append(details, fmt.Sprintf("would remove orphan node %s", ref.ID))
			continue
		}
		if _, err := graphs.HardDeleteNode(ctx, projectID, ref.ID); err != nil {
			details = append(details, fmt.Sprintf("node %s: %v", ref.ID, err))
			continue
		}
		total++
	}
	return total, details, nil
}

// cleanup permanently removes soft-deleted memories past the retention
// window, from both stores.
func (s *Service) cleanup(ctx context.Context, projectID string, dryRun bool) (int, []string, error) {
	vectors := s.memories.Vectors()
	graphs := s.memories.Graphs()
	cutoff := time.Now().AddDate(0, 0, -s.cfg.CleanupRetentionDays)
	total := 0
	var details []string

	for _, t := range types.AllTypes() {
		mems, err := s.scrollAll(ctx, projectID, t, true)
		if err != nil {
			return total, details, err
		}
		for _, mem := range mems {
			if !types.ParseTimestamp(mem.UpdatedAt).Before(cutoff) {
				continue
			}
			if dryRun {
				total++
				details = append(details, fmt.Sprintf("would purge %s %s", t, mem.ID))
				continue
			}
			if err := vectors.HardDelete(ctx, projectID, t, mem.ID); err != nil {
				details = append(details, fmt.Sprintf("%s %s: %v", t, mem.ID, err))
				continue
			}
			if types.GraphEligible(t) && graphs.Available() {
				if _, err := graphs.HardDeleteNode(ctx, projectID, mem.ID); err != nil {
					s.log.Warn("cleanup graph delete failed", "project_id", projectID, "memory_id", mem.ID, "error", err)
				}
			}
			total++
		}
	}
	return total, details, nil
}

// refreshEmbeddings re-embeds active memories carrying a fallback vector
// (all-zero, or variance below epsilon), preserving every other field.
func (s *Service) refreshEmbeddings(ctx context.Context, projectID string, dryRun bool) (int, []string, error) {
	vectors := s.memories.Vectors()
	embedder := s.memories.Embedder()
	total := 0
	var details []string

	for _, t := range types.AllTypes() {
		mems, err := s.scrollAll(ctx, projectID, t, false)
		if err != nil {
			return total, details, err
		}
		for _, mem := range mems {
			if !s.isFallbackVector(mem.Vector) {
				continue
			}
			if dryRun {
				total++
				details = append(details, fmt.Sprintf("would re-embed %s %s", t, mem.ID))
				continue
			}
			vec, err := embedder.Embed(ctx, mem.Content)
			if err != nil {
				details = append(details, fmt.Sprintf("%s %s: %v", t, mem.ID, err))
				continue
			}
			mem.Vector = vec
			if err := vectors.Upsert(ctx, mem); err != nil {
				details = append(details, fmt.Sprintf("%s %s: %v", t, mem.ID, err))
				continue
			}
			total++
		}
	}
	return total, details, nil
}

func (s *Service) isFallbackVector(vec []float32) bool {
	if len(vec) == 0 {
		return true
	}
	var sum float64
	allZero := true
	for _, v := range vec {
		if v != 0 {
			allZero = false
		}
		sum += float64(v)
	}
	if allZero {
		return true
	}
	mean := sum / float64(len(vec))
	var variance float64
	for _, v := range vec {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(vec))
	return variance < s.cfg.VarianceEpsilon
}

// scrollAll drains one type's collection filtered by deletion state.
func (s *Service) scrollAll(ctx context.Context, projectID string, t types.MemoryType, deleted bool) ([]*types.Memory, error) {
	var out []*types.Memory
	var offset []byte
	for {
		page, err := s.memories.Vectors().Scroll(ctx, projectID, t, vector.ScrollOptions{
			Deleted: &deleted,
			Limit:   scrollPageSize,
			Offset:  offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Memories...)
		if page.NextOffset == nil {
			return out, nil
		}
		offset = page.NextOffset
	}
}
