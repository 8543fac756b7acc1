package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/minicube"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/session"
	"github.com/spf13/cobra"
)

// scenesFile is written by the search command in the output directory
const scenesFile = "scenes.json"

// queryFlags are the parameters of a query, as a minicube job
type queryFlags struct {
	job       common.MinicubeJob
	aoiFile   string
	unit      string
	outputDir string

	keepArchives bool
	keepFiles    bool
}

func (f *queryFlags) register(cmd *cobra.Command, minicubeFlags bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.aoiFile, "aoi", "", "GeoJSON file of the area of interest (geometry, feature or feature collection)")
	flags.StringVar(&f.job.CRS, "crs", "EPSG:4326", "CRS of the area of interest")
	flags.StringVar(&f.job.Collection, "collection", "", "collection")
	flags.StringSliceVar(&f.job.Bands, "bands", nil, "bands (all if empty)")
	flags.StringVar(&f.job.Start, "start", "", "start date (any common layout)")
	flags.StringVar(&f.job.End, "end", "", "end date, included (any common layout)")
	flags.StringToStringVar(&f.job.Filter, "filter", nil, "properties of the scenes (key=value)")
	flags.StringVar(&f.job.ProcessingLevel, "level", "", "preferred processing level when several products are found for a date and a tile")
	flags.Float64Var(&f.job.MaxCloudCover, "max-cloud-cover", 0, "keep one scene per date and tile with a cloud cover below this value (0: all scenes)")
	flags.IntVar(&f.job.Workers, "workers", 0, "number of parallel tile loaders (default: number of cpus)")
	flags.StringVarP(&f.outputDir, "output", "o", "", "output directory")
	flags.BoolVar(&f.keepArchives, "keep-archives", false, "keep the downloaded archives after their extraction")
	if minicubeFlags {
		flags.Float64Var(&f.job.Resolution, "resolution", 0, "resolution of the minicube")
		flags.StringVar(&f.unit, "unit", "m", "unit of the resolution: m or crs")
		flags.BoolVar(&f.job.ClipToShape, "clip", false, "mask the pixels outside the exact geometry of the area of interest")
		flags.StringVar(&f.job.TargetCRS, "target-crs", "", "CRS of the minicube (default: crs of the area of interest)")
		flags.BoolVar(&f.keepFiles, "keep-files", false, "keep the downloaded files")
	}
}

func (f *queryFlags) query() (common.QueryParameters, session.Options, error) {
	if f.aoiFile == "" {
		return common.QueryParameters{}, session.Options{}, service.ErrConfiguration{Param: "aoi"}
	}
	aoi, err := os.ReadFile(f.aoiFile)
	if err != nil {
		return common.QueryParameters{}, session.Options{}, service.ErrIO{File: f.aoiFile, Err: err}
	}
	f.job.AOI = aoi
	if f.job.ResolutionUnit, err = common.ParseUnit(f.unit); err != nil {
		return common.QueryParameters{}, session.Options{}, service.ErrConfiguration{Param: "unit", Reason: err.Error()}
	}
	q, opts, err := session.QueryFromJob(f.job, f.outputDir)
	if err != nil {
		return common.QueryParameters{}, session.Options{}, err
	}
	opts.KeepArchives = f.keepArchives
	opts.RemoveTemporary = !f.keepFiles
	return q, opts, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSearchCommand(a *app) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "List the scenes covering the area of interest",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _, err := f.query()
			if err != nil {
				return err
			}
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			scenes, err := s.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			if err := service.ToJSON(scenes, q.OutputDir, scenesFile); err != nil {
				return err
			}
			return printJSON(cmd, scenes)
		},
	}
	f.register(cmd, false)
	return cmd
}

func newDownloadCommand(a *app) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the scenes covering the area of interest and list the downloaded rasters",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, opts, err := f.query()
			if err != nil {
				return err
			}
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := s.Search(cmd.Context(), q); err != nil {
				return err
			}
			res, err := s.Download(cmd.Context(), false, opts)
			if res != nil {
				for _, file := range res.Files {
					fmt.Fprintln(cmd.OutOrStdout(), file)
				}
			}
			return err
		},
	}
	f.register(cmd, false)
	return cmd
}

func newBuildCommand(a *app) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Create the minicube of the area of interest and export it in the output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, opts, err := f.query()
			if err != nil {
				return err
			}
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := s.Create(cmd.Context(), q, opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(q.OutputDir, minicube.ManifestFile))
			return nil
		},
	}
	f.register(cmd, true)
	return cmd
}

func newCollectionsCommand(a *app) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "collections",
		Short: "List the collections of the provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			collections, err := s.Collections(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, collections)
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "case-insensitive filter on the name of the collections")
	return cmd
}
