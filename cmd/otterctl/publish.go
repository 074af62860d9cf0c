package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ottermq/otterclient/pkg/client"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type publishOptions struct {
	routingKey  string
	contentType string
	persistent  bool
	mandatory   bool
	count       int
	batch       int
	confirm     bool
	async       bool
	tx          bool
}

func newPublishCommand(a *app) *cobra.Command {
	var opts publishOptions
	cmd := &cobra.Command{
		Use:   "publish EXCHANGE BODY",
		Short: "Publish messages to an exchange",
		Long: "Publish BODY COUNT times. --confirm waits for publisher confirms, one at a time " +
			"or per --batch; --async reports confirms as they arrive; --tx commits once at the end.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.tx && (opts.confirm || opts.async) {
				return errors.New("--tx cannot be combined with --confirm or --async")
			}
			if opts.count < 1 {
				return errors.New("--count must be at least 1")
			}
			return a.run(func(ctx context.Context, ch *client.Channel) error {
				return runPublish(ctx, cmd, ch, args[0], []byte(args[1]), opts)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.routingKey, "routing-key", "k", "", "routing key")
	flags.StringVar(&opts.contentType, "content-type", "text/plain", "content type property")
	flags.BoolVar(&opts.persistent, "persistent", false, "persistent delivery mode")
	flags.BoolVar(&opts.mandatory, "mandatory", false, "ask the broker to return unroutable messages")
	flags.IntVarP(&opts.count, "count", "n", 1, "number of messages")
	flags.IntVar(&opts.batch, "batch", 0, "with --confirm, wait for confirms every N messages")
	flags.BoolVar(&opts.confirm, "confirm", false, "enable publisher confirms and wait for them")
	flags.BoolVar(&opts.async, "async", false, "enable publisher confirms and report them asynchronously")
	flags.BoolVar(&opts.tx, "tx", false, "publish inside a transaction")
	return cmd
}

func runPublish(ctx context.Context, cmd *cobra.Command, ch *client.Channel, exchange string, body []byte, opts publishOptions) error {
	out := cmd.OutOrStdout()
	p := client.NewProducer(ch)
	p.SetReturnListener(client.ReturnHandlerFunc(func(r client.Return) {
		fmt.Fprintf(out, "returned: %d %s (message %s)\n", r.ReplyCode, r.ReplyText, r.Properties.MessageID)
	}))

	switch {
	case opts.tx:
		if err := p.TxSelect(ctx); err != nil {
			return err
		}
	case opts.confirm || opts.async:
		if err := p.SelectConfirms(ctx); err != nil {
			return err
		}
		if opts.async {
			p.SetBatchConfirmHandler(client.BatchConfirmHandlerFunc(func(cs []client.Confirmation) {
				log.Debug().Int("count", len(cs)).Uint64("last", cs[len(cs)-1].Sequence).
					Str("outcome", cs[0].Outcome.String()).Msg("Confirms received")
			}))
		}
	}

	deliveryMode := client.Transient
	if opts.persistent {
		deliveryMode = client.Persistent
	}
	message := func() client.Publishing {
		return client.Publishing{
			Properties: client.Properties{
				ContentType:  opts.contentType,
				DeliveryMode: deliveryMode,
				MessageID:    uuid.NewString(),
				Timestamp:    time.Now(),
				AppID:        "otterctl",
			},
			Body: body,
		}
	}

	var (
		handles []*client.PublishHandle
		summary confirmSummary
	)
	for i := 0; i < opts.count; i++ {
		if opts.confirm && opts.batch <= 1 && !opts.async {
			if err := p.PublishAndConfirm(ctx, exchange, opts.routingKey, opts.mandatory, false, message()); err != nil {
				return err
			}
			continue
		}
		h, err := p.Publish(ctx, exchange, opts.routingKey, opts.mandatory, false, message())
		if err != nil {
			return err
		}
		handles = append(handles, h)
		if opts.confirm && len(handles) == opts.batch {
			if err := p.WaitBatch(ctx, handles); err != nil {
				return err
			}
			summary.add(handles)
			handles = handles[:0]
		}
	}

	switch {
	case opts.tx:
		if err := p.TxCommit(ctx); err != nil {
			return err
		}
	case opts.confirm && len(handles) > 0:
		if err := p.WaitBatch(ctx, handles); err != nil {
			return err
		}
	case opts.async:
		for _, h := range handles {
			if err := h.Wait(ctx); err != nil {
				var rejected *client.PublishRejectedError
				if !errors.As(err, &rejected) {
					return err
				}
			}
		}
		summary.add(handles)
		fmt.Fprintf(out, "confirms: %d acked, %d nacked\n", summary.acked, summary.nacked)
	}
	fmt.Fprintf(out, "published %d message(s) to %q\n", opts.count, exchange)
	return nil
}

// confirmSummary tallies resolved handles by outcome.
type confirmSummary struct {
	acked  int
	nacked int
}

func (s *confirmSummary) add(handles []*client.PublishHandle) {
	for _, h := range handles {
		switch h.Outcome() {
		case client.OutcomeAcked:
			s.acked++
		case client.OutcomeNacked:
			s.nacked++
		}
	}
}
