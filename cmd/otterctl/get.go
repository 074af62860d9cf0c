package main

import (
	"context"
	"fmt"

	"github.com/ottermq/otterclient/pkg/client"
	"github.com/spf13/cobra"
)

func newGetCommand(a *app) *cobra.Command {
	var (
		noAck   bool
		requeue bool
	)
	cmd := &cobra.Command{
		Use:   "get QUEUE",
		Short: "Fetch one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func(ctx context.Context, ch *client.Channel) error {
				c := client.NewConsumer(ch)
				d, ok, err := c.Get(ctx, args[0], noAck)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintf(out, "queue %s is empty\n", args[0])
					return nil
				}
				fmt.Fprintf(out, "[%d] %s (%d left)\n", d.DeliveryTag, d.Body, d.MessageCount)
				if noAck {
					return nil
				}
				if requeue {
					return d.Reject(true)
				}
				return d.Ack()
			})
		},
	}
	cmd.Flags().BoolVar(&noAck, "no-ack", false, "fetch without acknowledgement")
	cmd.Flags().BoolVar(&requeue, "requeue", false, "put the message back instead of acking it")
	return cmd
}
