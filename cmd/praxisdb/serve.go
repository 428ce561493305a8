package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"praxis/internal/core"
)

const shutdownGrace = 5 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Initialize the database and serve status, metrics and the schema over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(svc *core.Service) error {
				return serve(cmd.Context(), a, svc, orDefault(addr, svc.Config().Serve.Addr))
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default serve.addr)")
	return cmd
}

func serve(ctx context.Context, a *app, svc *core.Service, addr string) error {
	log := svc.Logger()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: svc.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		origin, err := svc.Ready(ctx)
		if err != nil {
			log.Error().Err(err).Msg("database unavailable")
			return
		}
		log.Info().Str("origin", string(origin)).Msg("database ready")
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.printf("listening on http://%s\n", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
