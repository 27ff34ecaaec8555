// Command prism-edit is an interactive plan editor. It keeps a live preview
// of the selected image in sync with every plan edit, explains steps on
// request and packages the processed result through a Prism service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/prism/internal/cli"
	"github.com/fpang/prism/internal/debounce"
	"github.com/fpang/prism/internal/engine"
	"github.com/fpang/prism/internal/logging"
	"github.com/fpang/prism/internal/remote"
)

// Environment fallbacks for flags.
const (
	envServerURL  = "PRISM_SERVER_URL"
	envDebounceMs = "PRISM_DEBOUNCE_MS"
)

// CLI flags
var (
	serverFlag   string
	fileFlag     string
	pickFlag     bool
	goalFlag     string
	debounceFlag time.Duration
	outFlag      string
	watchFlag    bool
	learnFlag    bool
	timeoutFlag  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "prism-edit",
	Short: "Interactive plan editor with live preview",
	Long: `Prism Edit opens a source file, asks the Prism service for a
preparation plan and lets you edit it step by step. Every edit re-renders
the preview (written to --out) after a short quiet period; stale renders
are discarded.

Type "help" at the prompt for commands.

Examples:
  prism-edit --file photo.jpg --out preview.png
  prism-edit --pick --goal "train a classifier" --watch
  prism-edit --server http://localhost:9090 --debounce 500ms`,
	Version: commitHash + " (" + buildTime + ")",
	Run:     runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&serverFlag, "server", "s", logging.EnvOrDefault(envServerURL, "http://localhost:8000"), "Prism service URL")
	rootCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Source file to open")
	rootCmd.Flags().BoolVar(&pickFlag, "pick", false, "Choose the source file with the file dialog")
	rootCmd.Flags().StringVarP(&goalFlag, "goal", "g", "", "Goal for plan generation (suggested goal when empty)")
	rootCmd.Flags().DurationVar(&debounceFlag, "debounce", logging.EnvDurationMs(envDebounceMs, debounce.DefaultDelay), "Quiet period before an edit is previewed")
	rootCmd.Flags().StringVarP(&outFlag, "out", "o", "preview.png", "Where each preview is written (empty disables)")
	rootCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Reload the source when it changes on disk")
	rootCmd.Flags().BoolVar(&learnFlag, "learn", false, "Start in learning mode")
	rootCmd.Flags().DurationVar(&timeoutFlag, "timeout", remote.DefaultTimeout, "Per-request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()
	ctx := context.Background()

	client := remote.New(serverFlag, remote.WithTimeout(timeoutFlag))
	if health, err := client.Health(ctx); err != nil {
		log.Warn().Err(err).Str("server", serverFlag).Msg("Service not reachable yet")
	} else {
		log.Info().Str("server", serverFlag).Str("model", health.Model).Msg("Connected to service")
	}

	ed := newEditor(os.Stdout)
	ed.previewPath = outFlag
	ed.watch = watchFlag
	ed.lookup = client.Batch

	session := engine.New(engine.Config{
		Service:   client,
		Debounce:  debounceFlag,
		OnPreview: ed.previewed,
	})
	ed.session = session
	defer func() {
		ed.close()
		session.Close()
	}()

	go func() {
		for err := range session.Errors() {
			log.Error().Err(err).Msg("Preview failed")
		}
	}()

	if err := start(ctx, ed); err != nil {
		log.Error().Err(err).Msg("Startup failed")
	}

	repl(ctx, ed, cli.NewPrompter(os.Stdin, os.Stdout))
}

// start opens the initial source and generates its plan.
func start(ctx context.Context, ed *editor) error {
	path := fileFlag
	if pickFlag {
		picked, err := ed.pickSource()
		if err != nil {
			return err
		}
		path = picked
	}
	if path == "" {
		fmt.Fprintln(ed.out, `no source yet: use "open <path>" or "pick"`)
		return nil
	}
	if err := ed.open(path); err != nil {
		return err
	}
	if err := ed.generate(ctx, goalFlag); err != nil {
		return err
	}
	if learnFlag {
		return ed.session.SetLearningMode(ctx, true)
	}
	return nil
}

// repl reads commands until quit or end of input. Ctrl-C cancels the
// running command only.
func repl(ctx context.Context, ed *editor, p *cli.Prompter) {
	for {
		line, err := p.Line("prism> ")
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Msg("Failed to read command")
			}
			return
		}

		cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err = ed.exec(cmdCtx, line)
		stop()

		switch {
		case errors.Is(err, errQuit):
			return
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(ed.out, "canceled")
		case err != nil:
			fmt.Fprintf(ed.out, "error: %v\n", err)
		}
	}
}
