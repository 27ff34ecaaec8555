package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/prism/internal/api"
	"github.com/fpang/prism/internal/cli"
	"github.com/fpang/prism/internal/engine"
	"github.com/fpang/prism/internal/plan"
	"github.com/fpang/prism/internal/preview"
	"github.com/fpang/prism/internal/source"
)

// errQuit ends the command loop.
var errQuit = errors.New("quit")

// editor drives one session from typed commands.
type editor struct {
	session     *engine.Session
	out         io.Writer
	previewPath string
	watch       bool
	settle      time.Duration

	pickSource func() (string, error)
	pickImages func() ([]string, error)
	lookup     func(ctx context.Context, id string) (*api.BatchResponse, error)

	mu      sync.Mutex
	watcher *source.Watcher
}

func newEditor(out io.Writer) *editor {
	return &editor{
		out:        out,
		settle:     source.DefaultSettle,
		pickSource: cli.PickSource,
		pickImages: cli.PickImages,
	}
}

// previewed writes each applied preview to previewPath.
func (e *editor) previewed(r preview.Result) {
	if e.previewPath == "" || r.Resource == nil {
		return
	}
	data := r.Resource.Bytes()
	if err := os.WriteFile(e.previewPath, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", e.previewPath).Msg("Failed to write preview")
		return
	}
	log.Info().
		Uint64("request_id", r.RequestID).
		Str("plan", r.Snapshot.String()).
		Int("bytes", len(data)).
		Dur("duration", r.Duration).
		Msg("Preview updated")
}

// exec runs one command line. errQuit means the user asked to leave.
func (e *editor) exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	root := e.commands(ctx)
	root.SetArgs(args)
	return root.Execute()
}

func (e *editor) commands(ctx context.Context) *cobra.Command {
	root := &cobra.Command{
		Use:           "prism",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.out)
	root.SetErr(e.out)
	root.CompletionOptions.DisableDefaultCmd = true

	var force bool
	explainCmd := &cobra.Command{
		Use:   "explain <op>",
		Short: "Explain one operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			if err := e.session.Explain(ctx, kind, force); err != nil {
				return err
			}
			e.show()
			return nil
		},
	}
	explainCmd.Flags().BoolVarP(&force, "force", "f", false, "Refetch even when cached")

	var (
		bundlePath string
		pickFiles  bool
	)
	applyCmd := &cobra.Command{
		Use:   "apply [image...]",
		Short: "Process images with the current plan and save the zip bundle",
		RunE: func(_ *cobra.Command, args []string) error {
			paths := args
			if pickFiles {
				picked, err := e.pickImages()
				if err != nil {
					return err
				}
				paths = picked
			}
			return e.apply(ctx, paths, bundlePath)
		},
	}
	applyCmd.Flags().StringVarP(&bundlePath, "out", "o", "", "Bundle path (default processed_<batch>.zip)")
	applyCmd.Flags().BoolVar(&pickFiles, "pick", false, "Choose images with the file dialog")

	root.AddCommand(
		&cobra.Command{
			Use:   "open <path>",
			Short: "Select a source file",
			Args:  cobra.ExactArgs(1),
			RunE:  func(_ *cobra.Command, args []string) error { return e.open(args[0]) },
		},
		&cobra.Command{
			Use:   "pick",
			Short: "Select a source file with the file dialog",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				path, err := e.pickSource()
				if err != nil {
					return err
				}
				return e.open(path)
			},
		},
		&cobra.Command{
			Use:   "generate [goal...]",
			Short: "Ask the service for a plan (suggested goal when omitted)",
			RunE: func(_ *cobra.Command, args []string) error {
				return e.generate(ctx, strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "add <op>",
			Short: "Add an operation with its default parameters",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				kind, err := parseKind(args[0])
				if err != nil {
					return err
				}
				if err := e.session.Add(kind); err != nil {
					return err
				}
				e.show()
				return nil
			},
		},
		&cobra.Command{
			Use:     "rm <op>",
			Aliases: []string{"remove"},
			Short:   "Remove an operation",
			Args:    cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				kind, err := parseKind(args[0])
				if err != nil {
					return err
				}
				e.session.Remove(kind)
				e.show()
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <op> <param> <value>",
			Short: "Change one parameter (numbers, true/false, a,b pairs or words)",
			// Values such as -15 are not flags.
			DisableFlagParsing: true,
			Args:               cobra.MinimumNArgs(3),
			RunE: func(_ *cobra.Command, args []string) error {
				kind, err := parseKind(args[0])
				if err != nil {
					return err
				}
				value := plan.ParseValue(strings.Join(args[2:], " "))
				if err := e.session.SetParam(kind, args[1], value); err != nil {
					return err
				}
				e.show()
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the plan and its explanations",
			Args:  cobra.NoArgs,
			Run:   func(_ *cobra.Command, _ []string) { e.show() },
		},
		&cobra.Command{
			Use:       "learn on|off",
			Short:     "Toggle learning mode (explains every step)",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"on", "off"},
			RunE: func(_ *cobra.Command, args []string) error {
				on, err := parseSwitch(args[0])
				if err != nil {
					return err
				}
				err = e.session.SetLearningMode(ctx, on)
				e.show()
				return err
			},
		},
		explainCmd,
		&cobra.Command{
			Use:   "explain-all",
			Short: "Refetch explanations for every operation",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				err := e.session.ExplainAll(ctx)
				e.show()
				return err
			},
		},
		&cobra.Command{
			Use:   "flush",
			Short: "Preview the pending change now",
			Args:  cobra.NoArgs,
			Run: func(_ *cobra.Command, _ []string) {
				if !e.session.FlushPreview() {
					fmt.Fprintln(e.out, "nothing pending")
				}
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the source, goal and preview state",
			Args:  cobra.NoArgs,
			Run:   func(_ *cobra.Command, _ []string) { e.status() },
		},
		applyCmd,
		&cobra.Command{
			Use:   "batch <id>",
			Short: "Show a processed batch and a fresh download link",
			Args:  cobra.ExactArgs(1),
			RunE:  func(_ *cobra.Command, args []string) error { return e.batch(ctx, args[0]) },
		},
		&cobra.Command{
			Use:     "quit",
			Aliases: []string{"exit", "q"},
			Short:   "Leave the editor",
			RunE:    func(_ *cobra.Command, _ []string) error { return errQuit },
		},
	)
	return root
}

func (e *editor) open(path string) error {
	resolved, err := cli.ResolveSource(path)
	if err != nil {
		return err
	}
	file, err := source.Load(resolved)
	if err != nil {
		return err
	}
	dataType, goal, err := e.session.SelectSource(file)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "opened %s (%s, %s)\nsuggested goal: %s\n",
		file.Name, dataType, cli.FormatBytes(int64(len(file.Data))), goal)
	if e.watch {
		return e.watchSource(resolved)
	}
	return nil
}

func (e *editor) generate(ctx context.Context, goal string) error {
	resp, err := e.session.GeneratePlan(ctx, goal)
	if err != nil {
		return err
	}
	if resp.Plan.Reasoning != "" {
		fmt.Fprintf(e.out, "reasoning: %s\n", resp.Plan.Reasoning)
	}
	if resp.Plan.Notes != "" {
		fmt.Fprintf(e.out, "notes: %s\n", resp.Plan.Notes)
	}
	if len(resp.CleanedPreview) > 0 {
		fmt.Fprintf(e.out, "cleaned preview: %s\n", resp.CleanedPreview)
	}
	e.show()
	return nil
}

func (e *editor) apply(ctx context.Context, paths []string, bundlePath string) error {
	files := make([]source.File, 0, len(paths))
	for _, p := range paths {
		f, err := source.Load(p)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	dir := "."
	if bundlePath != "" {
		dir = filepath.Dir(bundlePath)
	}
	tmp, err := os.CreateTemp(dir, "prism-*.zip.part")
	if err != nil {
		return fmt.Errorf("create bundle file: %w", err)
	}
	defer os.Remove(tmp.Name())

	res, err := e.session.Apply(ctx, files, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if bundlePath == "" {
		bundlePath = fmt.Sprintf("processed_%s.zip", res.BatchID)
	}
	if err := os.Rename(tmp.Name(), bundlePath); err != nil {
		return fmt.Errorf("save bundle: %w", err)
	}

	fmt.Fprintf(e.out, "saved %s (%s)\n", bundlePath, cli.FormatBytes(res.Bytes))
	if res.ArchiveURL != "" {
		fmt.Fprintf(e.out, "download: %s\n", res.ArchiveURL)
	}
	return nil
}

func (e *editor) batch(ctx context.Context, id string) error {
	if e.lookup == nil {
		return errors.New("batch lookup is not available")
	}
	b, err := e.lookup(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "batch %s: %d files, %d outputs, %s, %s\nplan: %s\n",
		b.BatchID, len(b.Files), b.Outputs, cli.FormatBytes(b.Bytes),
		b.CreatedAt.Local().Format(time.DateTime), b.Plan)
	if b.ArchiveURL != "" {
		fmt.Fprintf(e.out, "download: %s\n", b.ArchiveURL)
	}
	return nil
}

func (e *editor) show() {
	cli.WritePlan(e.out, e.session.Plan(), e.session.Explanations())
}

func (e *editor) status() {
	src, ok := e.session.Source()
	if !ok {
		fmt.Fprintln(e.out, "no source selected")
		return
	}
	st := e.session.PreviewStatus()
	fmt.Fprintf(e.out, "source: %s (%s)\ngoal: %s\npreview: %s, last %s (request %d)\n",
		src.Name, src.Type(), e.session.Goal(), st.State, st.Outcome, st.RequestID)
}

// watchSource replaces any previous watcher with one on path.
func (e *editor) watchSource(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil {
		if e.watcher.Path() == path {
			return nil
		}
		e.watcher.Stop()
		e.watcher = nil
	}
	w, err := source.Watch(path, e.settle, e.reload, func(err error) {
		log.Warn().Err(err).Str("file", path).Msg("Source watch error")
	})
	if err != nil {
		return err
	}
	e.watcher = w
	return nil
}

// reload re-selects a changed source, regenerating its plan and restoring
// the user's edits when a plan had been generated.
func (e *editor) reload(file source.File) {
	generated := e.session.Generated() != nil
	snap := e.session.Plan()
	goal := e.session.Goal()

	if _, _, err := e.session.SelectSource(file); err != nil {
		log.Error().Err(err).Msg("Failed to reload source")
		return
	}
	if generated {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := e.session.GeneratePlan(ctx, goal); err != nil {
			log.Error().Err(err).Msg("Failed to regenerate plan after reload")
			return
		}
		e.session.Store().Replace(snap)
	}
	log.Info().Str("file", file.Name).Msg("Source changed on disk, reloaded")
}

func (e *editor) close() {
	e.mu.Lock()
	w := e.watcher
	e.watcher = nil
	e.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

func parseKind(s string) (plan.Kind, error) {
	kind := plan.Kind(strings.ToLower(s))
	if !kind.Valid() {
		names := make([]string, len(plan.Kinds))
		for i, k := range plan.Kinds {
			names[i] = string(k)
		}
		return "", fmt.Errorf("unknown operation %q (one of %s)", s, strings.Join(names, ", "))
	}
	return kind, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
