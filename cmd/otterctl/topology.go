package main

import (
	"context"
	"fmt"

	"github.com/ottermq/otterclient/pkg/client"
	"github.com/spf13/cobra"
)

type declareOptions struct {
	kind       string
	durable    bool
	autoDelete bool
	internal   bool
	exclusive  bool
}

func newDeclareCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "declare",
		Short: "Declare exchanges and queues",
	}
	cmd.AddCommand(newDeclareExchangeCommand(a), newDeclareQueueCommand(a))
	return cmd
}

func newDeclareExchangeCommand(a *app) *cobra.Command {
	var opts declareOptions
	cmd := &cobra.Command{
		Use:   "exchange NAME",
		Short: "Declare an exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func(ctx context.Context, ch *client.Channel) error {
				err := client.NewTopology(ch).DeclareExchange(ctx, args[0], opts.kind, opts.durable, opts.autoDelete, opts.internal, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exchange %s (%s) declared\n", args[0], opts.kind)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.kind, "type", "t", "direct", "exchange type: direct, fanout, topic or headers")
	flags.BoolVar(&opts.durable, "durable", false, "survive broker restarts")
	flags.BoolVar(&opts.autoDelete, "auto-delete", false, "delete when the last binding is removed")
	flags.BoolVar(&opts.internal, "internal", false, "refuse direct publishes")
	return cmd
}

func newDeclareQueueCommand(a *app) *cobra.Command {
	var opts declareOptions
	cmd := &cobra.Command{
		Use:   "queue [NAME]",
		Short: "Declare a queue; without a name the broker picks one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return a.run(func(ctx context.Context, ch *client.Channel) error {
				info, err := client.NewTopology(ch).DeclareQueue(ctx, name, opts.durable, opts.exclusive, opts.autoDelete, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue %s declared (messages=%d consumers=%d)\n", info.Name, info.Messages, info.Consumers)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.durable, "durable", false, "survive broker restarts")
	flags.BoolVar(&opts.autoDelete, "auto-delete", false, "delete when the last consumer leaves")
	flags.BoolVar(&opts.exclusive, "exclusive", false, "restrict to this connection")
	return cmd
}

func newBindCommand(a *app) *cobra.Command {
	var routingKey string
	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Bind queues and exchanges",
	}
	cmd.PersistentFlags().StringVarP(&routingKey, "routing-key", "k", "", "binding key")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "queue QUEUE EXCHANGE",
			Short: "Bind a queue to an exchange",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(func(ctx context.Context, ch *client.Channel) error {
					if err := client.NewTopology(ch).BindQueue(ctx, args[0], args[1], routingKey, nil); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "queue %s bound to %s with %q\n", args[0], args[1], routingKey)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "exchange DESTINATION SOURCE",
			Short: "Bind an exchange to another exchange",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(func(ctx context.Context, ch *client.Channel) error {
					if err := client.NewTopology(ch).BindExchange(ctx, args[0], args[1], routingKey, nil); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "exchange %s bound to %s with %q\n", args[0], args[1], routingKey)
					return nil
				})
			},
		},
	)
	return cmd
}
