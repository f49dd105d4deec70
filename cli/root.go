// Package cli provides the root command and CLI setup for pin.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sokinpui/pin/internal/fs"
	"github.com/sokinpui/pin/internal/llm"
	"github.com/sokinpui/pin/internal/nvim"
	"github.com/sokinpui/pin/internal/scope"
	"github.com/sokinpui/pin/internal/state"
	"github.com/sokinpui/pin/internal/tui"
	"github.com/sokinpui/pin/internal/ui"
	"github.com/sokinpui/pin/model"
	"github.com/sokinpui/pin/pin"
)

// pinFlags are pins given on the command line in addition to the config.
var pinFlags []string

var (
	nvimFlag        bool
	noAnimationFlag bool
	diffFlag        bool
	verboseFlag     bool
)

const rootLongDescription = `Pin files, directories and terminal sessions, then let a language model
edit them. Responses use artifactEdit directives:

  <artifactEdit identifier="/abs/path" from="N" to="M">...</artifactEdit>
  <artifactEdit identifier="/abs/path">...</artifactEdit>

Only pinned files can be edited; new files may be created anywhere.
The last batch (or the whole last fix run) can be reverted with 'pin undo'.`

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pin",
		Short:         "Edit pinned files with a language model",
		Long:          rootLongDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger(viper.GetBool(logVerboseKey))
			if configErr != nil {
				slog.Warn("failed to read config file", "error", configErr)
				ui.Warning("Ignoring %s: %v", configFileName, configErr)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	configureRootFlags(cmd)

	cmd.AddCommand(
		newAskCmd(),
		newApplyCmd(),
		newFixCmd(),
		newUndoCmd(),
		newPinsCmd(),
		newCopyCmd(),
		newVersionCmd(),
	)
	return cmd
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringArrayVarP(&pinFlags, pinFlagName, "p", nil, "pin a file, directory or term:SESSION for this run (can be repeated)")

	cmd.PersistentFlags().BoolVar(&nvimFlag, nvimFlagName, viper.GetBool(editorNvimKey), "write files through Neovim so open buffers stay in sync")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(nvimFlagName), editorNvimKey)

	cmd.PersistentFlags().BoolVar(&noAnimationFlag, noAnimationFlagName, viper.GetBool(uiNoAnimationKey), "disable the loading spinner")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(noAnimationFlagName), uiNoAnimationKey)

	cmd.PersistentFlags().BoolVar(&diffFlag, diffFlagName, viper.GetBool(uiDiffKey), "print a unified diff of every changed file")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(diffFlagName), uiDiffKey)

	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "log at debug level")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var detailed *pin.DetailedError
		if errors.As(err, &detailed) {
			fmt.Fprintf(os.Stderr, "\n--- Stack Trace ---\n%s\n", detailed.Stack)
		}
		ui.Error("Error: %v", err)
		os.Exit(1)
	}
}

// configPins merges the configured pins with the --pin flags. File pins are
// made absolute against the working directory.
type configPins struct {
	extra []string
}

func (c configPins) Pins() []string {
	seen := make(map[string]struct{})
	var pins []string
	for _, p := range append(viper.GetStringSlice(pinsKey), c.extra...) {
		if p == "" {
			continue
		}
		if !scope.IsReadOnly(p) {
			if abs, err := filepath.Abs(p); err == nil {
				p = abs
			}
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		pins = append(pins, p)
	}
	return pins
}

// newGenerator builds the configured model client. Tests replace it.
var newGenerator = func(ctx context.Context) (llm.Generator, error) {
	g, err := llm.NewGenAI(ctx, llm.Config{
		APIKey:    viper.GetString(llmAPIKeyKey),
		Model:     viper.GetString(llmModelKey),
		MaxTokens: viper.GetInt(llmMaxTokensKey),
	})
	if err != nil {
		return nil, err
	}
	return llm.WithTimeout(g, viper.GetDuration(llmTimeoutKey)), nil
}

// session owns the resources behind one command's App.
type session struct {
	app     *pin.App
	closers []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("failed to release resource", "error", err)
		}
	}
}

// openSession opens the undo store and workspace and creates the App.
func openSession(ctx context.Context, opts ...pin.Option) (*session, error) {
	dbPath, err := statePath()
	if err != nil {
		return nil, err
	}
	kv, err := state.OpenSQLite(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	s := &session{closers: []func() error{kv.Close}}

	store, err := state.Open(ctx, kv)
	if err != nil {
		s.Close()
		return nil, err
	}

	var ws fs.Workspace = fs.NewOS()
	if viper.GetBool(editorNvimKey) {
		nv, err := nvim.New()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, nv.Close)
		ws = nv
	}

	base := []pin.Option{
		pin.WithWorkspace(ws),
		pin.WithUnwrapFences(viper.GetBool(unwrapFencesKey)),
		pin.WithLogger(slog.Default()),
	}
	s.app = pin.New(configPins{extra: pinFlags}, store, append(base, opts...)...)
	slog.Debug("session opened", "state", dbPath, "nvim", viper.GetBool(editorNvimKey))
	return s, nil
}

func statePath() (string, error) {
	if dir := viper.GetString(stateDirKey); dir != "" {
		return state.PathIn(dir), nil
	}
	root, err := fs.FindRoot()
	if err != nil {
		return "", err
	}
	return state.DefaultPath(root), nil
}

// readOnlyApp serves commands that never write files.
func readOnlyApp() *pin.App {
	return pin.New(configPins{extra: pinFlags}, nil, pin.WithLogger(slog.Default()))
}

func animationEnabled() bool {
	if viper.GetBool(uiNoAnimationKey) {
		return false
	}
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// runWithSpinner runs task behind the spinner when stderr is a terminal and
// prints the summary itself otherwise.
func runWithSpinner(ctx context.Context, label string, task func(context.Context) (pin.Outcome, error)) (pin.Outcome, error) {
	if !animationEnabled() {
		out, err := task(ctx)
		if err != nil {
			return out, err
		}
		ui.PrintSummary(out.Summary)
		return out, nil
	}

	var out pin.Outcome
	_, err := tui.Run(ctx, label, func(ctx context.Context) (model.Summary, error) {
		var err error
		out, err = task(ctx)
		return out.Summary, err
	})
	return out, err
}

// present prints what the summary does not show: a conversational reply and
// the optional diffs.
func present(cmd *cobra.Command, out pin.Outcome) {
	if out.Conversation != "" {
		ui.Conversation(cmd.OutOrStdout(), out.Conversation, animationEnabled())
		return
	}
	if !viper.GetBool(uiDiffKey) {
		return
	}
	for _, r := range out.Report.Results {
		diff := ui.Diff(r.Path, r.Before, r.After)
		if diff == "" {
			continue
		}
		if animationEnabled() {
			diff = ui.ColorDiff(diff)
		}
		fmt.Fprint(cmd.OutOrStdout(), diff)
	}
}
