package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/jiangyanpeng/simple-nn/internal/api"
	"github.com/jiangyanpeng/simple-nn/internal/backend"
	"github.com/jiangyanpeng/simple-nn/internal/infer"
	"github.com/jiangyanpeng/simple-nn/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	flags := append(commonModelFlags(), accelFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the inference REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr)

			cfg, opts, err := engineConfig()
			if err != nil {
				return err
			}
			resolved, err := backend.Resolve(engine)
			if err != nil {
				return err
			}
			provider := api.NewCachedBackendProvider(api.BackendProviderConfig{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
				Engine:           resolved,
				EngineContext:    cfg.EngineContext,
				Logger:           log,
				NewBackend: func(name string) (infer.Backend, error) {
					return backend.New(name, log, opts...)
				},
			})
			server := api.NewServer(api.NewResultStore(), api.NewInferenceService(provider), log)
			defer func() {
				if err := server.Shutdown(context.Background()); err != nil {
					log.Warn("closing backends", "error", err)
				}
			}()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "engine", resolved)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
