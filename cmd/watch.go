package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/internal/poller"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow discovery jobs until they finish, pulling in new affiliates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		cache, _, err := initSession(ctx, client)
		if err != nil {
			return err
		}
		defer cache.Wait()

		cache.Subscribe(func(recs []model.AffiliateRecord) {
			zap.L().Info("affiliates updated", zap.Int("count", len(recs)))
		})

		revalidate := func() {
			if err := cache.Revalidate(context.WithoutCancel(ctx)); err != nil {
				zap.L().Warn("refresh affiliates failed", zap.Error(err))
			}
		}

		p := poller.New(client,
			poller.WithInterval(cfg.Poller.Interval()),
			poller.OnTick(func(t poller.Tick) {
				for _, j := range t.Status.Jobs {
					zap.L().Info("discovery job progress",
						zap.String("job_id", j.JobID),
						zap.Int("completed_actors", j.CompletedActors),
						zap.Int("total_actors", j.TotalActors),
					)
				}
				if t.Flushed > 0 {
					revalidate()
				}
			}),
			poller.OnDone(func() {
				zap.L().Info("all discovery jobs finished")
				revalidate()
			}),
		)

		start := time.Now()
		p.Start(ctx)
		p.Wait()
		zap.L().Info("watch finished", zap.Duration("elapsed", time.Since(start)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
