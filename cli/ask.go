package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sokinpui/pin/internal/source"
	"github.com/sokinpui/pin/pin"
)

func newAskCmd() *cobra.Command {
	var withClipboard bool

	cmd := &cobra.Command{
		Use:   "ask MESSAGE...",
		Short: "Ask the model about the pinned files and apply its edits",
		Long: `Send the pinned files (with line numbers), terminal captures and MESSAGE to
the model. Edits in the reply are applied to the pinned files; a reply
without edits is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			message := strings.Join(args, " ")

			var clip string
			if withClipboard {
				var err error
				clip, err = sourceProvider().Clipboard()
				if err != nil {
					return err
				}
			}

			gen, err := newGenerator(ctx)
			if err != nil {
				return err
			}
			s, err := openSession(ctx, pin.WithGenerator(gen))
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := runWithSpinner(ctx, "Querying "+viper.GetString(llmModelKey), func(ctx context.Context) (pin.Outcome, error) {
				return s.app.Ask(ctx, message, clip)
			})
			if err != nil {
				return err
			}
			present(cmd, out)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&withClipboard, "with-clipboard", "c", false, "include the clipboard text in the request")
	cmd.Flags().StringP(modelFlagName, "m", viper.GetString(llmModelKey), "model to query")
	bindFlagToConfig(cmd.Flags().Lookup(modelFlagName), llmModelKey)

	return cmd
}

// sourceProvider reads piped stdin or the clipboard. Tests replace it.
var sourceProvider = source.New
