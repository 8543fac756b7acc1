package main

import (
	"context"
	"fmt"

	"github.com/drnhhl/terragon/interface/provider"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
	"github.com/drnhhl/terragon/session"
	"github.com/spf13/cobra"
)

type app struct {
	configFile string
	config     Config

	providerName string
	items        string
	path         string
	structured   bool
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "terragon",
		Short:         "Search, download and assemble Earth-observation scenes into minicubes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.structured {
				log.Structured()
			}
			var err error
			if a.config, err = LoadConfig(a.configFile); err != nil {
				return err
			}
			a.overrideConfig(cmd)
			return service.RegisterGDAL(cmd.Context(), a.config.VSIConfig, a.config.VSI...)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "configuration file (toml)")
	flags.StringVarP(&a.providerName, "provider", "p", "", "provider: stac, order, imageservice or local (default: stac)")
	flags.StringVar(&a.items, "items", "", "STAC ItemCollection (url or file) of the stac, order and imageservice providers")
	flags.StringVar(&a.path, "path", "", "root directory of the local provider")
	flags.StringSlice("vsi", nil, "prefixes of the remote files read by GDAL (gs://, s3://)")
	flags.BoolVar(&a.structured, "json-log", false, "structured (json) logs")

	rootCmd.AddCommand(newSearchCommand(a))
	rootCmd.AddCommand(newDownloadCommand(a))
	rootCmd.AddCommand(newBuildCommand(a))
	rootCmd.AddCommand(newCollectionsCommand(a))
	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newFetchCommand(a))

	return rootCmd
}

// overrideConfig applies the flags set by the user to the configuration
func (a *app) overrideConfig(cmd *cobra.Command) {
	flags := cmd.Flags()
	if a.providerName != "" {
		a.config.Provider = a.providerName
	}
	if a.items != "" {
		a.config.Options.Items = a.items
	}
	if a.path != "" {
		a.config.Options.Path = a.path
	}
	if flags.Changed("vsi") {
		a.config.VSI, _ = flags.GetStringSlice("vsi")
	}
}

// providers creates the provider and its fallbacks
func (a *app) providers(ctx context.Context) ([]provider.Provider, error) {
	var providers []provider.Provider
	for _, name := range append([]string{a.config.Provider}, a.config.Fallbacks...) {
		p, err := provider.New(ctx, name, a.config.Options)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func (a *app) session(ctx context.Context) (*session.Session, error) {
	providers, err := a.providers(ctx)
	if err != nil {
		return nil, err
	}
	return session.New(providers[0], providers[1:]...), nil
}
