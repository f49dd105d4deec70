package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sokinpui/pin/internal/ui"
	"github.com/sokinpui/pin/pin"
)

func newApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Apply a response from stdin or the clipboard",
		Long: `Parse artifactEdit directives from piped stdin, or from the clipboard when
nothing is piped, and apply them to the pinned files.

Example: pbpaste | pin apply`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			content, origin, err := sourceProvider().Content()
			if err != nil {
				return err
			}
			if strings.TrimSpace(content) == "" {
				ui.Warning("The %s is empty. Nothing to process.", origin)
				return nil
			}
			ui.Info("Reading from %s", origin)

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := runWithSpinner(ctx, "Applying", func(ctx context.Context) (pin.Outcome, error) {
				return s.app.Apply(ctx, content)
			})
			if err != nil {
				return err
			}
			present(cmd, out)
			return nil
		},
	}
}
