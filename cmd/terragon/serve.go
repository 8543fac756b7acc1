package main

import (
	"context"
	"net/http"
	"time"

	"github.com/drnhhl/terragon/interface/provider"
	"github.com/drnhhl/terragon/server"
	"github.com/drnhhl/terragon/service/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(a *app) *cobra.Command {
	var addr, token, workdir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the http api",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.config.Server
			if addr != "" {
				cfg.Addr = addr
			}
			if token != "" {
				cfg.Token = token
			}
			if workdir != "" {
				cfg.WorkDir = workdir
			}

			providers, err := a.providers(ctx)
			if err != nil {
				return err
			}
			srv := &server.Server{
				Providers: providers,
				WorkDir:   cfg.WorkDir,
				Fetcher:   &provider.Fetcher{S3: a.config.Options.S3, FTP: a.config.Options.FTP},
			}
			s := http.Server{
				Addr:    cfg.Addr,
				Handler: srv.Handler(cfg.Token),
			}

			go func() {
				if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Logger(ctx).Fatal("terragon.ListenAndServe", zap.Error(err))
				}
			}()
			log.Logger(ctx).Sugar().Infof("serving on %s", cfg.Addr)

			<-ctx.Done()
			sctx, cncl := context.WithTimeout(context.Background(), 30*time.Second)
			defer cncl()
			return s.Shutdown(sctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8080)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token required by the api")
	cmd.Flags().StringVar(&workdir, "workdir", "", "directory of the minicubes")
	return cmd
}
