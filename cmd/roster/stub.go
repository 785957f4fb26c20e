package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/internal/metrics"
	"github.com/shaxzod-muhandis/Admin-Panel/internal/stubapi"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

const shutdownTimeout = 10 * time.Second

func serveStubCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve-stub",
		Usage: "run a local stand-in for the teacher service",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "seed", Usage: "insert this many demo teachers on start"},
		},
		Action: func(c *cli.Context) error {
			rt := runtimeFrom(c)
			cfg := rt.cfg
			if cfg.IsProduction() {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := stubapi.OpenStore(ctx, cfg.Stub.DBDriver, cfg.Stub.DBDSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			if n := c.Int("seed"); n > 0 {
				if err := seed(ctx, store, n); err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				rt.logger.Info("seeded demo teachers", zap.Int("count", n))
			}

			api := stubapi.New(store, stubapi.Options{
				JWTSecret: cfg.Stub.JWT.Secret,
				Logger:    rt.logger.Named("stub"),
				Metrics:   metrics.New(),
			})
			srv := &http.Server{
				Addr:              cfg.Stub.Addr,
				Handler:           api.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				rt.logger.Sugar().Infow("stub server starting", "addr", cfg.Stub.Addr, "driver", cfg.Stub.DBDriver, "auth", cfg.Stub.JWT.Secret != "")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			rt.logger.Info("stub server shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

var demoNames = []struct{ first, last string }{
	{"Aziz", "Karimov"},
	{"Dilnoza", "Rahimova"},
	{"Bekzod", "Tursunov"},
	{"Malika", "Yusupova"},
	{"Sardor", "Aliyev"},
	{"Nodira", "Xolmatova"},
}

func seed(ctx context.Context, store stubapi.Store, n int) error {
	for i := 0; i < n; i++ {
		name := demoNames[i%len(demoNames)]
		_, err := store.Create(ctx, teachers.Fields{
			FirstName: name.first,
			LastName:  name.last,
			Phone:     fmt.Sprintf("+998%09d", 901000000+i),
			Pinfl:     fmt.Sprintf("%014d", 30101900000000+int64(i)),
			Degree:    "Master",
			Position:  "Teacher",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func devTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "dev-token",
		Usage: "issue a bearer token accepted by serve-stub",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Value: "admin"},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime (default STUB_JWT_TTL)"},
		},
		Action: func(c *cli.Context) error {
			cfg := runtimeFrom(c).cfg
			ttl := cfg.Stub.JWT.Expiration
			if c.IsSet("ttl") {
				ttl = c.Duration("ttl")
			}
			token, expires, err := stubapi.IssueToken(cfg.Stub.JWT.Secret, c.String("subject"), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			fmt.Fprintf(c.App.ErrWriter, "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
}
