package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ottermq/otterclient/pkg/client"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type consumeOptions struct {
	tag      string
	prefetch uint16
	noAck    bool
	limit    int
}

func newConsumeCommand(a *app) *cobra.Command {
	var opts consumeOptions
	cmd := &cobra.Command{
		Use:   "consume QUEUE",
		Short: "Consume messages until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("prefetch") && a.cfg != nil {
				opts.prefetch = a.cfg.PrefetchCount
			}
			return a.run(func(ctx context.Context, ch *client.Channel) error {
				return runConsume(ctx, cmd.OutOrStdout(), ch, args[0], opts)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.tag, "tag", "", "consumer tag (generated when empty)")
	flags.Uint16Var(&opts.prefetch, "prefetch", 0, "prefetch count, 0 for unlimited")
	flags.BoolVar(&opts.noAck, "no-ack", false, "let the broker consider messages acknowledged on delivery")
	flags.IntVarP(&opts.limit, "limit", "n", 0, "stop after N messages, 0 for no limit")
	return cmd
}

func runConsume(ctx context.Context, out io.Writer, ch *client.Channel, queue string, opts consumeOptions) error {
	c := client.NewConsumer(ch)
	if opts.prefetch > 0 {
		if err := c.SetQos(ctx, 0, opts.prefetch, false); err != nil {
			return err
		}
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	c.SetCancelHandler(client.CancelHandlerFunc(func(tag string) {
		log.Warn().Str("consumer_tag", tag).Msg("Consumer cancelled by broker")
		stop()
	}))

	received := 0
	handler := client.DeliveryHandlerFunc(func(d *client.Delivery) {
		received++
		fmt.Fprintf(out, "[%d] %s -> %s%s: %s\n", d.DeliveryTag, d.Exchange, d.RoutingKey,
			redeliveredMark(d.Redelivered), d.Body)
		if !opts.noAck {
			if err := d.Ack(); err != nil {
				log.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("Ack failed")
			}
		}
		if opts.limit > 0 && received >= opts.limit {
			stop()
		}
	})

	sub, err := c.Consume(ctx, queue, opts.tag, false, opts.noAck, false, false, handler, nil)
	if err != nil {
		return err
	}
	log.Info().Str("queue", queue).Str("consumer_tag", sub.ConsumerTag()).Msg("Consuming")

	select {
	case <-ctx.Done():
	case <-sub.Done():
	case <-ch.Done():
		return ch.Err()
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), client.DefaultCloseTimeout)
	defer cancel()
	if err := sub.Cancel(cancelCtx); err != nil {
		log.Debug().Err(err).Msg("Cancel after shutdown")
	}
	return nil
}

func redeliveredMark(redelivered bool) string {
	if redelivered {
		return " (redelivered)"
	}
	return ""
}
