package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sokinpui/pin/internal/source"
	"github.com/sokinpui/pin/internal/ui"
)

func newCopyCmd() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy the pinned context to the clipboard",
		Long: `Render the pinned files with line numbers and the terminal captures, as
sent to the model, and copy them to the clipboard for use elsewhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readOnlyApp().Context(cmd.Context())
			if err != nil {
				return err
			}
			if printOnly {
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}
			if err := source.CopyToClipboard(text); err != nil {
				return err
			}
			ui.Success("Pinned context copied to clipboard.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print to stdout instead of copying")
	return cmd
}
