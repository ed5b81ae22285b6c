package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// Store gives typed access to one project's persisted artifacts. All writes
// inherit the storage layer's atomic-replace behavior; all reads schema-
// validate before returning, so a corrupt artifact surfaces as a SchemaError
// rather than flowing downstream.
type Store struct {
	storage  core.Storage
	project  string
	validate *validator.Validate
	logger   *slog.Logger
}

func NewStore(storage core.Storage, project string) *Store {
	return &Store{
		storage:  storage,
		project:  project,
		validate: validator.New(),
		logger:   slog.Default().With("component", "artifact_store", "project", project),
	}
}

func (s *Store) Project() string {
	return s.project
}

// Path helpers. The per-project namespace keeps concurrent projects on
// disjoint storage.

func (s *Store) base() string {
	return fmt.Sprintf("projects/%s", s.project)
}

func (s *Store) WorldPath() string         { return s.base() + "/world.json" }
func (s *Store) ThemeConflictPath() string { return s.base() + "/theme_conflict.json" }
func (s *Store) CharactersPath() string    { return s.base() + "/characters.json" }
func (s *Store) OutlinePath() string       { return s.base() + "/outline.json" }
func (s *Store) MemoryPath() string        { return s.base() + "/chapter_memory.json" }
func (s *Store) ManuscriptPath() string    { return s.base() + "/manuscript.md" }

func (s *Store) PlanPath(chapter int) string {
	return fmt.Sprintf("%s/chapters/chapter_%d_plan.json", s.base(), chapter)
}

func (s *Store) ChapterPath(chapter int) string {
	return fmt.Sprintf("%s/chapters/chapter_%d.json", s.base(), chapter)
}

func (s *Store) ReportPath(chapter int) string {
	return fmt.Sprintf("%s/reports/chapter_%d_consistency.json", s.base(), chapter)
}

func (s *Store) RevisionPath(chapter int) string {
	return fmt.Sprintf("%s/revisions/chapter_%d.json", s.base(), chapter)
}

// readArtifact loads, parses and schema-validates one artifact.
func readArtifact[T any](ctx context.Context, s *Store, kind, path string) (*T, error) {
	if !s.storage.Exists(ctx, path) {
		return nil, fmt.Errorf("%s %q: %w", kind, path, core.ErrNotFound)
	}

	data, err := s.storage.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", kind, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &core.SchemaError{Kind: kind, Key: path, Reason: "invalid JSON", Cause: err}
	}

	if err := s.validate.Struct(&v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &core.SchemaError{
				Kind:   kind,
				Key:    path,
				Field:  verrs[0].Namespace(),
				Reason: fmt.Sprintf("failed %q constraint", verrs[0].Tag()),
				Cause:  err,
			}
		}
		return nil, &core.SchemaError{Kind: kind, Key: path, Reason: err.Error(), Cause: err}
	}

	return &v, nil
}

// writeArtifact schema-validates then persists one artifact. An invalid
// artifact is never written.
func writeArtifact[T any](ctx context.Context, s *Store, kind, path string, v *T) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &core.SchemaError{
				Kind:   kind,
				Key:    path,
				Field:  verrs[0].Namespace(),
				Reason: fmt.Sprintf("failed %q constraint", verrs[0].Tag()),
				Cause:  err,
			}
		}
		return &core.SchemaError{Kind: kind, Key: path, Reason: err.Error(), Cause: err}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", kind, err)
	}

	if err := s.storage.Save(ctx, path, data); err != nil {
		return fmt.Errorf("saving %s: %w", kind, err)
	}

	s.logger.Debug("artifact written", "kind", kind, "path", path, "bytes", len(data))
	return nil
}

// Reusable implements the reuse contract: an artifact can be reused iff it
// exists, parses, and passes schema validation. A corrupt artifact is
// treated as absent.
func reusable[T any](ctx context.Context, s *Store, kind, path string) (*T, bool) {
	v, err := readArtifact[T](ctx, s, kind, path)
	if err != nil {
		if !core.IsNotFound(err) {
			s.logger.Warn("existing artifact not reusable, will regenerate",
				"kind", kind, "path", path, "error", err)
		}
		return nil, false
	}
	return v, true
}

// Bible artifacts.

func (s *Store) ReadWorld(ctx context.Context) (*novel.WorldSetting, error) {
	return readArtifact[novel.WorldSetting](ctx, s, "world", s.WorldPath())
}

func (s *Store) WriteWorld(ctx context.Context, w *novel.WorldSetting) error {
	return writeArtifact(ctx, s, "world", s.WorldPath(), w)
}

func (s *Store) ReusableWorld(ctx context.Context) (*novel.WorldSetting, bool) {
	return reusable[novel.WorldSetting](ctx, s, "world", s.WorldPath())
}

func (s *Store) ReadThemeConflict(ctx context.Context) (*novel.ThemeConflict, error) {
	return readArtifact[novel.ThemeConflict](ctx, s, "theme_conflict", s.ThemeConflictPath())
}

func (s *Store) WriteThemeConflict(ctx context.Context, tc *novel.ThemeConflict) error {
	return writeArtifact(ctx, s, "theme_conflict", s.ThemeConflictPath(), tc)
}

func (s *Store) ReusableThemeConflict(ctx context.Context) (*novel.ThemeConflict, bool) {
	return reusable[novel.ThemeConflict](ctx, s, "theme_conflict", s.ThemeConflictPath())
}

func (s *Store) ReadCharacters(ctx context.Context) (*novel.CharactersConfig, error) {
	return readArtifact[novel.CharactersConfig](ctx, s, "characters", s.CharactersPath())
}

func (s *Store) WriteCharacters(ctx context.Context, cc *novel.CharactersConfig) error {
	return writeArtifact(ctx, s, "characters", s.CharactersPath(), cc)
}

func (s *Store) ReusableCharacters(ctx context.Context) (*novel.CharactersConfig, bool) {
	return reusable[novel.CharactersConfig](ctx, s, "characters", s.CharactersPath())
}

func (s *Store) ReadOutline(ctx context.Context) (*novel.Outline, error) {
	return readArtifact[novel.Outline](ctx, s, "outline", s.OutlinePath())
}

func (s *Store) WriteOutline(ctx context.Context, o *novel.Outline) error {
	return writeArtifact(ctx, s, "outline", s.OutlinePath(), o)
}

func (s *Store) ReusableOutline(ctx context.Context) (*novel.Outline, bool) {
	return reusable[novel.Outline](ctx, s, "outline", s.OutlinePath())
}

// Chapter-scoped artifacts.

func (s *Store) ReadPlan(ctx context.Context, chapter int) (*novel.ChapterPlan, error) {
	return readArtifact[novel.ChapterPlan](ctx, s, "chapter_plan", s.PlanPath(chapter))
}

func (s *Store) WritePlan(ctx context.Context, plan *novel.ChapterPlan) error {
	return writeArtifact(ctx, s, "chapter_plan", s.PlanPath(plan.ChapterNumber), plan)
}

func (s *Store) ReusablePlan(ctx context.Context, chapter int) (*novel.ChapterPlan, bool) {
	return reusable[novel.ChapterPlan](ctx, s, "chapter_plan", s.PlanPath(chapter))
}

func (s *Store) ReadChapter(ctx context.Context, chapter int) (*novel.GeneratedChapter, error) {
	return readArtifact[novel.GeneratedChapter](ctx, s, "chapter", s.ChapterPath(chapter))
}

func (s *Store) ReusableChapter(ctx context.Context, chapter int) (*novel.GeneratedChapter, bool) {
	return reusable[novel.GeneratedChapter](ctx, s, "chapter", s.ChapterPath(chapter))
}

func (s *Store) ChapterExists(ctx context.Context, chapter int) bool {
	return s.storage.Exists(ctx, s.ChapterPath(chapter))
}

// WriteChapter persists canonical chapter text and, synchronously within the
// same operation, upserts the chapter's memory ledger entry. Derived state is
// never allowed to drift from the canonical chapter.
func (s *Store) WriteChapter(ctx context.Context, ch *novel.GeneratedChapter, entry novel.ChapterMemoryEntry) error {
	ch.RecomputeTotals()

	if err := writeArtifact(ctx, s, "chapter", s.ChapterPath(ch.ChapterNumber), ch); err != nil {
		return err
	}

	if err := s.UpsertMemoryEntry(ctx, entry); err != nil {
		return fmt.Errorf("synchronizing chapter memory: %w", err)
	}

	return nil
}

// Reports and revision status.

func (s *Store) ReadReport(ctx context.Context, chapter int) (*novel.ConsistencyReport, error) {
	return readArtifact[novel.ConsistencyReport](ctx, s, "consistency_report", s.ReportPath(chapter))
}

func (s *Store) ReusableReport(ctx context.Context, chapter int) (*novel.ConsistencyReport, bool) {
	return reusable[novel.ConsistencyReport](ctx, s, "consistency_report", s.ReportPath(chapter))
}

func (s *Store) WriteReport(ctx context.Context, r *novel.ConsistencyReport) error {
	return writeArtifact(ctx, s, "consistency_report", s.ReportPath(r.ChapterNumber), r)
}

func (s *Store) ReadRevisionStatus(ctx context.Context, chapter int) (*novel.RevisionStatus, error) {
	return readArtifact[novel.RevisionStatus](ctx, s, "revision_status", s.RevisionPath(chapter))
}

func (s *Store) WriteRevisionStatus(ctx context.Context, rs *novel.RevisionStatus) error {
	return writeArtifact(ctx, s, "revision_status", s.RevisionPath(rs.ChapterNumber), rs)
}

// WriteManuscript persists the assembled markdown manuscript. Manuscripts are
// derived output, not schema-validated artifacts.
func (s *Store) WriteManuscript(ctx context.Context, content string) error {
	if err := s.storage.Save(ctx, s.ManuscriptPath(), []byte(content)); err != nil {
		return fmt.Errorf("saving manuscript: %w", err)
	}
	return nil
}

// PendingRevisions returns the chapter numbers with a pending revision
// status, in ascending order. A revision record that exists but cannot be
// read or parsed is an error: the pending gate must never fail open because
// a record rotted on disk.
func (s *Store) PendingRevisions(ctx context.Context) ([]int, error) {
	pattern := fmt.Sprintf("%s/revisions/chapter_*.json", s.base())
	files, err := s.storage.List(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("listing revision records: %w", err)
	}

	var pending []int
	for _, file := range files {
		data, err := s.storage.Load(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("loading revision record %s: %w", file, err)
		}
		var rs novel.RevisionStatus
		if err := json.Unmarshal(data, &rs); err != nil {
			return nil, &core.SchemaError{
				Kind:   "revision_status",
				Key:    file,
				Reason: "invalid JSON",
				Cause:  err,
			}
		}
		if rs.Status == novel.RevisionPending {
			pending = append(pending, rs.ChapterNumber)
		}
	}

	sort.Ints(pending)
	return pending, nil
}

// LowestPending returns the lowest chapter number with a pending revision.
func (s *Store) LowestPending(ctx context.Context) (int, bool, error) {
	pending, err := s.PendingRevisions(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(pending) == 0 {
		return 0, false, nil
	}
	return pending[0], true, nil
}

// MissingChapters returns the chapters in [1, before) with no canonical text.
func (s *Store) MissingChapters(ctx context.Context, before int) []int {
	var missing []int
	for n := 1; n < before; n++ {
		if !s.ChapterExists(ctx, n) {
			missing = append(missing, n)
		}
	}
	return missing
}
