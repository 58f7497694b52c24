package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/aaes/internal/api"
	"github.com/satindergrewal/aaes/internal/audio"
	"github.com/satindergrewal/aaes/internal/config"
	"github.com/satindergrewal/aaes/internal/enhance"
	"github.com/satindergrewal/aaes/internal/export"
	"github.com/satindergrewal/aaes/internal/playback"
	"github.com/satindergrewal/aaes/internal/preview"
	"github.com/satindergrewal/aaes/internal/report"
	"github.com/satindergrewal/aaes/internal/session"
	"github.com/satindergrewal/aaes/internal/stream"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default $AAES_PORT)")
	return cmd
}

// playbackEvent is pushed to event clients when a preview starts or stops.
type playbackEvent struct {
	Kind    string `json:"kind"`
	Channel string `json:"channel"`
	Playing bool   `json:"playing"`
}

func serve(ctx context.Context, c config.Config) error {
	format, err := export.ParseFormat(c.ExportFormat)
	if err != nil {
		return err
	}

	client := enhance.NewClient(c.ServiceURL, c.RequestTimeout)
	registry := preview.NewRegistry()
	coord := playback.NewCoordinator()
	sess := session.New(client, registry, coord)
	defer sess.Close()

	// Preview audio: pipeline -> broadcaster -> HTTP/WebRTC listeners
	pipeline := audio.NewPipeline(c.PreviewFade)
	go pipeline.Run(ctx)
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, pipeline.Frames())
	player := preview.NewPlayer(registry, sess, coord, pipeline, client)
	go player.Run(ctx)

	sinks, err := exportSinks(ctx, c, c.ExportDir, c.S3Enabled())
	if err != nil {
		return err
	}

	rsinks, err := reportSinks(c)
	if err != nil {
		return err
	}
	recorder := report.NewRecorder(rsinks...)
	sess.Subscribe(recorder.Observe)
	go recorder.Run(ctx)

	var srv *api.Server
	hub := stream.NewEventHub(func() any { return srv.Status() })
	sess.Subscribe(func(ev session.Event) { hub.Publish(ev) })
	coord.OnChange(func(ch playback.Change) {
		hub.Publish(playbackEvent{Kind: "playback", Channel: ch.Channel.String(), Playing: ch.Playing})
	})

	srv = api.New(api.Deps{
		Session:       sess,
		Coordinator:   coord,
		Registry:      registry,
		Fetcher:       client,
		Sinks:         sinks,
		DefaultFormat: format,
		Stream:        stream.NewHTTPHandler(broadcaster),
		Offer:         stream.NewWebRTCHandler(broadcaster, c.ICEServers...),
		Events:        hub,
	})

	addr := fmt.Sprintf(":%d", c.Port)
	server := &http.Server{Addr: addr, Handler: srv}

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logrus.WithFields(logrus.Fields{
		"function": "serve",
		"addr":     addr,
		"service":  c.ServiceURL,
		"s3":       c.S3Enabled(),
	}).Info("aaes control server listening")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	recorder.Wait()
	return nil
}
