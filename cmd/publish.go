package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Exports the cached snapshot to numbered product folders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Pipeline().Export(cmd.Context())
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			return printJSON(cmd, res)
		},
	}
}

func newUploadCmd() *cobra.Command {
	index := -1
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Uploads the cached snapshot to the downstream catalog",
		Long: `Creates every product of the cached snapshot downstream, together with
its attributes and re-hosted images. --index uploads a single product.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pipeline := appInstance.Pipeline()
			if index >= 0 {
				out, err := pipeline.UploadOne(cmd.Context(), index)
				if perr := printJSON(cmd, out); perr != nil {
					return perr
				}
				if err != nil {
					return fmt.Errorf("upload product %d: %w", index, err)
				}
				return nil
			}
			res, err := pipeline.UploadAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().IntVar(&index, "index", -1, "zero-based product index to upload alone")
	return cmd
}
