// Command novelforge drives the multi-stage novel generation pipeline:
// story bible, chapter plans and text, consistency review, revisions and
// manuscript export.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/vampirenirmal/novelforge/internal/agent"
	"github.com/vampirenirmal/novelforge/internal/artifact"
	"github.com/vampirenirmal/novelforge/internal/assembler"
	"github.com/vampirenirmal/novelforge/internal/config"
	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
	"github.com/vampirenirmal/novelforge/internal/engine"
	"github.com/vampirenirmal/novelforge/internal/gate"
	"github.com/vampirenirmal/novelforge/internal/revision"
	"github.com/vampirenirmal/novelforge/internal/stage"
	"github.com/vampirenirmal/novelforge/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		if core.IsBlocked(err) {
			fmt.Fprintf(os.Stderr, "blocked: %v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: novelforge <command> [flags]

Commands:
  run              generate a project (bible, chapters, review, export)
  resume           resume a prior run from its checkpoint
  status           show checkpoints and pending revisions for a project
  apply-revision   accept a pending revision (overwrites the chapter)
  reject-revision  discard a pending revision (keeps the chapter)
`)
}

func run(command string, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch command {
	case "run":
		return cmdRun(ctx, args)
	case "resume":
		return cmdResume(ctx, args)
	case "status":
		return cmdStatus(ctx, args)
	case "apply-revision":
		return cmdResolveRevision(ctx, args, true)
	case "reject-revision":
		return cmdResolveRevision(ctx, args, false)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

type app struct {
	cfg       *config.Config
	store     *artifact.Store
	storage   core.Storage
	engine    *engine.Engine
	revisions *revision.Controller
}

func buildApp(project, configPath string, mock, verbose bool) (*app, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Mock only selects the LLM client; the config file still governs
	// paths and workflow knobs.
	var cfg *config.Config
	var err error
	if mock {
		cfg, err = config.LoadOffline(configPath)
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, err
	}

	fs := storage.NewFileSystem(cfg.Paths.DataDir)
	store := artifact.NewStore(fs, project)

	var client agent.Completer
	if mock {
		client = agent.NewMockClient()
	} else {
		client = agent.NewClient(cfg.AI.APIKey,
			agent.WithAPIConfig(cfg.AI.BaseURL, cfg.AI.Model),
			agent.WithTimeout(time.Duration(cfg.AI.Timeout)*time.Second),
			agent.WithRetry(cfg.Limits.MaxRetries),
			agent.WithRateLimit(cfg.Limits.RateLimit.RequestsPerMinute, cfg.Limits.RateLimit.BurstSize),
			agent.WithPromptLimit(cfg.Limits.MaxPromptSize),
		)
	}

	generator := agent.NewGenerator(client)
	reviewer := agent.NewReviewer(client)

	asm := assembler.New(store, assembler.NewLedgerRetriever(store), cfg.Workflow)
	exec := stage.NewExecutor(store, asm, generator, cfg)
	g := gate.New(store, asm, reviewer, cfg)
	rc := revision.NewController(store, asm, generator, cfg)
	cm := core.NewCheckpointManager(fs, project)

	return &app{
		cfg:       cfg,
		store:     store,
		storage:   fs,
		engine:    engine.New(store, exec, g, rc, cm, cfg),
		revisions: rc,
	}, nil
}

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	project := fs.String("project", "", "project identifier (required)")
	premise := fs.String("premise", "", "story premise for a fresh project")
	configPath := fs.String("config", "", "config file path")
	chapters := chapterSet{}
	fs.Var(&chapters, "chapters", "comma-separated chapter numbers (default: all)")
	stopAt := fs.String("stop-at", "", "halt after this stage (world, theme_conflict, characters, outline, chapter_plan, chapter_text)")
	force := fs.Bool("force", false, "regenerate even where artifacts exist")
	mock := fs.Bool("mock", false, "run offline with the mock client")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return errors.New("--project is required")
	}

	a, err := buildApp(*project, *configPath, *mock, *verbose)
	if err != nil {
		return err
	}

	result, err := a.engine.Run(ctx, engine.RunRequest{
		Premise:  *premise,
		Chapters: []int(chapters),
		StopAt:   stageKind(*stopAt),
		Force:    *force,
	})
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func cmdResume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	project := fs.String("project", "", "project identifier (required)")
	runID := fs.String("run", "", "run identifier (required)")
	configPath := fs.String("config", "", "config file path")
	mock := fs.Bool("mock", false, "run offline with the mock client")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" || *runID == "" {
		return errors.New("--project and --run are required")
	}

	a, err := buildApp(*project, *configPath, *mock, *verbose)
	if err != nil {
		return err
	}

	result, err := a.engine.Resume(ctx, *runID)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func cmdStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	project := fs.String("project", "", "project identifier (required)")
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return errors.New("--project is required")
	}

	a, err := buildApp(*project, *configPath, true, false)
	if err != nil {
		return err
	}

	cm := core.NewCheckpointManager(a.storage, *project)
	checkpoints, err := cm.List(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Project %s\n\nRuns:\n", *project)
	if len(checkpoints) == 0 {
		fmt.Println("  (none)")
	}
	for _, cp := range checkpoints {
		fmt.Printf("  %s  stage=%s chapter=%d updated=%s\n",
			cp.RunID, cp.Stage, cp.Chapter, cp.UpdatedAt.Format(time.RFC3339))
	}

	pending, err := a.store.PendingRevisions(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\nPending revisions:")
	if len(pending) == 0 {
		fmt.Println("  (none)")
	}
	for _, n := range pending {
		rs, err := a.store.ReadRevisionStatus(ctx, n)
		if err != nil {
			continue
		}
		marker := ""
		if rs.NeedsHumanReview {
			marker = "  [needs human review]"
		}
		fmt.Printf("  chapter %d  created=%s%s\n", n, rs.CreatedAt.Format(time.RFC3339), marker)
	}
	return nil
}

func cmdResolveRevision(ctx context.Context, args []string, apply bool) error {
	name := "reject-revision"
	if apply {
		name = "apply-revision"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	project := fs.String("project", "", "project identifier (required)")
	chapter := fs.Int("chapter", 0, "chapter number (required)")
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" || *chapter < 1 {
		return errors.New("--project and --chapter are required")
	}

	a, err := buildApp(*project, *configPath, true, false)
	if err != nil {
		return err
	}

	if apply {
		if err := a.revisions.Apply(ctx, *chapter); err != nil {
			return err
		}
		fmt.Printf("revision applied: chapter %d is now canonical\n", *chapter)
		return nil
	}
	if err := a.revisions.Reject(ctx, *chapter); err != nil {
		return err
	}
	fmt.Printf("revision rejected: chapter %d unchanged\n", *chapter)
	return nil
}

// chapterSet parses "--chapters 1,2,5" into a sorted-on-use int slice.
type chapterSet []int

func (c *chapterSet) String() string {
	return fmt.Sprint([]int(*c))
}

func (c *chapterSet) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid chapter number %q", part)
		}
		*c = append(*c, n)
	}
	return nil
}

func stageKind(s string) novel.StageKind {
	return novel.StageKind(strings.TrimSpace(s))
}

func printResult(result *engine.RunResult) {
	fmt.Printf("run %s\n", result.RunID)
	fmt.Printf("completed chapters: %v\n", result.CompletedChapters)
	if result.HaltedChapter != 0 {
		fmt.Printf("halted at chapter %d (revision pending)\n", result.HaltedChapter)
		if result.NeedsHumanReview {
			fmt.Println("the chapter needs human review; resolve it with apply-revision or reject-revision")
		}
	}
}
