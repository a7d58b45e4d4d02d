package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/mohammad-safakhou/orderdesk/config"
	"github.com/mohammad-safakhou/orderdesk/internal/handoff"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func handoffsCMD() *cobra.Command {
	var cfgPath string
	var group string
	var consumer string

	cmd := &cobra.Command{
		Use:   "handoffs",
		Short: "Work the human-agent handoff queue",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	cmd.PersistentFlags().StringVar(&group, "group", "", "consumer group (default handoff.group)")
	cmd.PersistentFlags().StringVar(&consumer, "consumer", "", "consumer name (default hostname)")

	withDesk := func(ctx context.Context, fn func(context.Context, *handoff.Desk) error) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if !cfg.Storage.Redis.Enabled() {
			return fmt.Errorf("redis not configured (storage.redis.host/port)")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		defer rdb.Close()
		if group == "" {
			group = cfg.Handoff.Group
		}
		if consumer == "" {
			consumer, _ = os.Hostname()
		}
		desk, err := handoff.NewDesk(ctx, rdb, cfg.Handoff.Stream, group, consumer)
		if err != nil {
			return err
		}
		return fn(ctx, desk)
	}

	var count int64
	var wait time.Duration
	var ack bool
	var follow bool
	var reclaimIdle time.Duration
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print handed-off conversations as JSON lines",
		RunE: func(c *cobra.Command, args []string) error {
			return withDesk(c.Context(), func(ctx context.Context, desk *handoff.Desk) error {
				if reclaimIdle > 0 {
					stale, err := desk.Reclaim(ctx, reclaimIdle, count)
					if err != nil {
						return err
					}
					if err := printTickets(ctx, desk, os.Stdout, stale, ack); err != nil {
						return err
					}
				}
				for {
					tickets, err := desk.Next(ctx, count, wait)
					if err != nil {
						return err
					}
					if err := printTickets(ctx, desk, os.Stdout, tickets, ack); err != nil {
						return err
					}
					if !follow {
						return nil
					}
				}
			})
		},
	}
	tail.Flags().Int64Var(&count, "count", 10, "tickets per read")
	tail.Flags().DurationVar(&wait, "wait", 5*time.Second, "block up to this long for new tickets")
	tail.Flags().BoolVar(&ack, "ack", false, "acknowledge tickets after printing")
	tail.Flags().BoolVarP(&follow, "follow", "f", false, "keep reading")
	tail.Flags().DurationVar(&reclaimIdle, "reclaim", 0, "first take over tickets idle for this long")

	backlog := &cobra.Command{
		Use:   "backlog",
		Short: "Show pending and lag counts for the group",
		RunE: func(c *cobra.Command, args []string) error {
			return withDesk(c.Context(), func(ctx context.Context, desk *handoff.Desk) error {
				m, err := desk.Backlog(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("pending=%d lag=%d consumers=%d oldest_idle=%s\n", m.Pending, m.Lag, m.Consumers, m.OldestIdle)
				return nil
			})
		},
	}

	cmd.AddCommand(tail, backlog)
	return cmd
}

func printTickets(ctx context.Context, desk *handoff.Desk, out io.Writer, tickets []handoff.Ticket, ack bool) error {
	enc := json.NewEncoder(out)
	for _, t := range tickets {
		if err := enc.Encode(t.Event); err != nil {
			return err
		}
	}
	if ack && len(tickets) > 0 {
		return desk.Done(ctx, tickets...)
	}
	return nil
}
