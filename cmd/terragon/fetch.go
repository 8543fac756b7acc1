package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/drnhhl/terragon/minicube"
	"github.com/drnhhl/terragon/service"
	"github.com/spf13/cobra"
)

// newFetchCommand retrieves the minicube of a job from the storage of the workers
func newFetchCommand(a *app) *cobra.Command {
	var storageURI, outputDir string
	cmd := &cobra.Command{
		Use:   "fetch JOB",
		Short: "Import the minicube of a job from the storage and extract it in the output directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if storageURI == "" {
				storageURI = a.config.Storage
			}
			if storageURI == "" {
				return service.ErrConfiguration{Param: "storage", Reason: "uri of the storage of the minicubes is required"}
			}
			if outputDir == "" {
				outputDir = args[0]
			}
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return service.ErrIO{File: outputDir, Err: err}
			}
			storage, err := service.NewStorageStrategy(ctx, storageURI)
			if err != nil {
				return service.ErrConfiguration{Param: "storage", Reason: err.Error()}
			}
			if err := storage.ImportProduct(ctx, args[0], outputDir); err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(outputDir, minicube.ManifestFile))
			return nil
		},
	}
	cmd.Flags().StringVar(&storageURI, "storage", "", "uri of the storage of the minicubes (default: storage of the configuration)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default: ./JOB)")
	return cmd
}
