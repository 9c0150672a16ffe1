package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gridwise/sheetctx/internal/contextbuild"
)

var (
	batchLimit    int
	batchQuestion string
)

var batchCmd = &cobra.Command{
	Use:   "batch <workbook.xlsx...>",
	Short: "Build context for many workbooks concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return processBatch(ctx, args, batchLimit, cfg.Batch.MaxConcurrentWorkbooks, func(ctx context.Context, path string) (*contextbuild.BuildResult, error) {
			env, err := newBuilderEnv(ctx, path, st)
			if err != nil {
				return nil, err
			}
			input, err := resolveInput(env, "", "", batchQuestion)
			if err != nil {
				return nil, err
			}
			return env.Builder.Build(ctx, input)
		})
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of workbooks to process (0 = all)")
	batchCmd.Flags().StringVar(&batchQuestion, "question", "", "question driving retrieval for every workbook")
	rootCmd.AddCommand(batchCmd)
}

// buildFunc is the callback signature for building context for one workbook.
type buildFunc func(ctx context.Context, path string) (*contextbuild.BuildResult, error)

// processBatch applies limit, then builds workbooks concurrently. Individual
// failures are logged and counted without aborting the batch.
func processBatch(ctx context.Context, paths []string, limit, concurrency int, build buildFunc) error {
	if len(paths) == 0 {
		zap.L().Info("no workbooks to process")
		return nil
	}

	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("workbooks", len(paths)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, path := range paths {
		path := path
		g.Go(func() error {
			log := zap.L().With(zap.String("workbook", path))

			result, err := build(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return err // cancelled, stop the batch
				}
				failed.Add(1)
				log.Error("context build failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			log.Info("context built",
				zap.Int("sheets", len(result.Payload.Sheets)),
				zap.Int("blocks", len(result.Payload.Blocks)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
