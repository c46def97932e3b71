package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HMasataka/mirror/internal/projector"
	"github.com/HMasataka/mirror/internal/signaling"
	"github.com/HMasataka/mirror/pkg/media"
)

// hangUpTimeout bounds the cleanup write after the user interrupts.
const hangUpTimeout = 5 * time.Second

type SourceOptions struct {
	File string `short:"f" long:"file" description:"IVF file played as the shared screen" required:"true"`
	Loop bool   `long:"loop" description:"Replay the file when it ends"`
}

// open prepares the source and returns an engine option that starts playback
// once the peer is connected.
func (o SourceOptions) open() (*media.IVFSource, signaling.Option, error) {
	src, err := media.OpenIVF(o.File, media.WithLoop(o.Loop))
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	start := signaling.WithStatusHandler(func(u signaling.Update) {
		if u.Transition.To == projector.StatusConnected {
			once.Do(func() { src.Start(context.Background()) })
		}
	})

	return src, start, nil
}

type SinkOptions struct {
	Record string `long:"record" description:"Write the received VP8 video to this IVF file"`
}

func (o SinkOptions) sink(logger *slog.Logger) media.Sink {
	if o.Record != "" {
		return media.NewRecorder(o.Record, logger)
	}
	return media.NewReadSink(logger)
}

func hangUp(s *session, ref signaling.Ref, creator bool) {
	ctx, cancel := context.WithTimeout(context.Background(), hangUpTimeout)
	defer cancel()

	if err := s.app.Engine.HangUp(ctx, ref, creator); err != nil {
		s.logger.Error("failed to hang up", slog.String("id", ref.ID), slog.Any("error", err))
	}
}

type ShareCommand struct {
	SourceOptions
}

func (cmd *ShareCommand) Execute(args []string) error {
	src, start, err := cmd.open()
	if err != nil {
		return err
	}

	return run(func(ctx context.Context, s *session) error {
		id, err := s.app.Engine.CreateOffer(ctx, src, s.app.Config.Device.Name)
		if err != nil {
			return fmt.Errorf("share failed: %w", err)
		}
		fmt.Println(id)

		wait(ctx, s.app.Engine)
		hangUp(s, signaling.SessionRef(id), true)

		return nil
	}, start)
}

type CastCommand struct {
	SourceOptions
	Target string `short:"t" long:"target" description:"Receiver ID" required:"true"`
}

func (cmd *CastCommand) Execute(args []string) error {
	src, start, err := cmd.open()
	if err != nil {
		return err
	}

	return run(func(ctx context.Context, s *session) error {
		if err := s.app.Engine.InitiateShare(ctx, src, cmd.Target, s.app.Config.Device.Name); err != nil {
			return fmt.Errorf("share failed: %w", err)
		}

		wait(ctx, s.app.Engine)
		hangUp(s, signaling.ReceiverRef(cmd.Target), false)

		return nil
	}, start)
}

type ReceiveCommand struct {
	SinkOptions
	Session string `short:"s" long:"session" description:"Session ID" required:"true"`
}

func (cmd *ReceiveCommand) Execute(args []string) error {
	return run(func(ctx context.Context, s *session) error {
		if err := s.app.Engine.AnswerOffer(ctx, cmd.Session, cmd.sink(s.logger)); err != nil {
			return err
		}

		wait(ctx, s.app.Engine)
		hangUp(s, signaling.SessionRef(cmd.Session), false)

		return nil
	})
}

type AdvertiseCommand struct {
	SinkOptions
	Name string `short:"n" long:"name" description:"Name shown to sharers (defaults to the device name)"`
}

func (cmd *AdvertiseCommand) Execute(args []string) error {
	return run(func(ctx context.Context, s *session) error {
		name := cmd.Name
		if name == "" {
			name = s.app.Config.Device.Name
		}

		reg, err := s.app.Engine.Advertise(ctx, name)
		if err != nil {
			return err
		}
		fmt.Println(reg.ID())

		serveErr := reg.Serve(ctx, func() media.Sink { return cmd.sink(s.logger) })

		wctx, cancel := context.WithTimeout(context.Background(), hangUpTimeout)
		defer cancel()

		return errors.Join(serveErr, reg.Withdraw(wctx))
	})
}

type ListCommand struct {
	Receivers bool `short:"r" long:"receivers" description:"List available receivers instead of waiting sessions"`
	Once      bool `long:"once" description:"Print the first list and exit"`
}

func (cmd *ListCommand) Execute(args []string) error {
	return run(func(ctx context.Context, s *session) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		done := func() {
			if cmd.Once {
				cancel()
			}
		}

		if cmd.Receivers {
			return s.app.Engine.WatchReceivers(ctx, func(receivers []signaling.Receiver) {
				fmt.Printf("%d receiver(s)\n", len(receivers))
				for _, r := range receivers {
					fmt.Printf("  %s\t%s\n", r.ID, r.Name)
				}
				done()
			})
		}

		return s.app.Engine.WatchOffers(ctx, func(offers []signaling.Offer) {
			fmt.Printf("%d waiting session(s)\n", len(offers))
			for _, o := range offers {
				fmt.Printf("  %s\t%s\t%s\n", o.ID, o.InitiatorName, o.CreatedAt.Format(time.RFC3339))
			}
			done()
		})
	})
}

type HangUpCommand struct {
	Session  string `short:"s" long:"session" description:"Session ID"`
	Receiver string `long:"receiver" description:"Receiver ID"`
	Creator  bool   `long:"creator" description:"Delete the session document instead of marking it disconnected"`
}

func (cmd *HangUpCommand) Execute(args []string) error {
	var ref signaling.Ref
	switch {
	case cmd.Session != "" && cmd.Receiver == "":
		ref = signaling.SessionRef(cmd.Session)
	case cmd.Receiver != "" && cmd.Session == "":
		ref = signaling.ReceiverRef(cmd.Receiver)
	default:
		return errors.New("exactly one of --session or --receiver is required")
	}

	return run(func(ctx context.Context, s *session) error {
		return s.app.Engine.HangUp(ctx, ref, cmd.Creator)
	})
}
