package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/aaes/internal/config"
	"github.com/satindergrewal/aaes/internal/enhance"
	"github.com/satindergrewal/aaes/internal/export"
	"github.com/satindergrewal/aaes/internal/hearing"
	"github.com/satindergrewal/aaes/internal/playback"
	"github.com/satindergrewal/aaes/internal/preview"
	"github.com/satindergrewal/aaes/internal/report"
	"github.com/satindergrewal/aaes/internal/session"
)

type enhanceOptions struct {
	file   string
	left   string
	right  string
	gain   int
	format string
	out    string
	s3     bool
}

func enhanceCmd() *cobra.Command {
	var opts enhanceOptions
	cmd := &cobra.Command{
		Use:   "enhance",
		Short: "Enhance one audio file and export the result",
		Example: `  aaes enhance --file speech.wav --left 2000=35,4000=50 --gain 70 --format mp3
  aaes enhance --file speech.wav --right 8000=60 --out ./exports --s3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			locations, err := runEnhance(ctx, cfg, opts)
			for _, loc := range locations {
				fmt.Fprintln(cmd.OutOrStdout(), loc)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.file, "file", "", "audio file to enhance (required)")
	f.StringVar(&opts.left, "left", "", "left-ear losses as freq=dB pairs, e.g. 125=10,2000=35")
	f.StringVar(&opts.right, "right", "", "right-ear losses as freq=dB pairs")
	f.IntVar(&opts.gain, "gain", int(hearing.DefaultGain), "tuning gain percent (50-85)")
	f.StringVar(&opts.format, "format", "", "export format: wav or mp3 (default $AAES_EXPORT_FORMAT)")
	f.StringVar(&opts.out, "out", "", "export directory (default $AAES_EXPORT_DIR)")
	f.BoolVar(&opts.s3, "s3", false, "also upload the export to the configured S3 bucket")
	cmd.MarkFlagRequired("file")
	return cmd
}

// runEnhance drives one session from upload to export and returns where the
// export was stored.
func runEnhance(ctx context.Context, c config.Config, opts enhanceOptions) ([]string, error) {
	formatName := opts.format
	if formatName == "" {
		formatName = c.ExportFormat
	}
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return nil, err
	}
	outDir := opts.out
	if outDir == "" {
		outDir = c.ExportDir
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	client := enhance.NewClient(c.ServiceURL, c.RequestTimeout)
	sess := session.New(client, preview.NewRegistry(), playback.NewCoordinator())
	defer sess.Close()

	if err := applyLosses(sess, hearing.Left, opts.left); err != nil {
		return nil, err
	}
	if err := applyLosses(sess, hearing.Right, opts.right); err != nil {
		return nil, err
	}
	if err := sess.SetGain(hearing.TuningGain(opts.gain)); err != nil {
		return nil, err
	}

	rsinks, err := reportSinks(c)
	if err != nil {
		return nil, err
	}
	recorder := report.NewRecorder(rsinks...)
	sess.Subscribe(recorder.Observe)
	recCtx, stopRecorder := context.WithCancel(context.Background())
	go recorder.Run(recCtx)
	defer func() {
		stopRecorder()
		recorder.Wait()
	}()

	sinks, err := exportSinks(ctx, c, outDir, opts.s3)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"function": "runEnhance",
		"session":  sess.ID(),
		"file":     opts.file,
	})

	if _, err := sess.Upload(ctx, filepath.Base(opts.file), "", data); err != nil {
		if notice := sess.Snapshot().Notice; notice != "" {
			return nil, errors.New(notice)
		}
		return nil, err
	}

	blob, err := sess.Export(ctx, format)
	if err != nil {
		return nil, err
	}
	if blob.Mismatch {
		log.WithField("detected", string(blob.Detected)).Warn("Export content does not match requested format")
	}

	locations, err := export.SaveAll(ctx, sinks, sess.ID(), blob)
	if err != nil {
		log.WithError(err).Warn("Export not stored everywhere")
	}
	return locations, err
}

// applyLosses sets the losses in pairs, a comma separated list of freq=dB
// pairs, on one ear of the session's audiogram.
func applyLosses(sess *session.Session, ear hearing.Ear, pairs string) error {
	losses, err := parseLosses(pairs)
	if err != nil {
		return fmt.Errorf("%s ear: %w", ear, err)
	}
	for _, l := range losses {
		if err := sess.SetLoss(ear, l.freq, l.db); err != nil {
			return fmt.Errorf("%s ear: %w", ear, err)
		}
	}
	return nil
}

type loss struct {
	freq hearing.Frequency
	db   int
}

func parseLosses(pairs string) ([]loss, error) {
	var out []loss
	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not freq=dB", hearing.ErrValidation, pair)
		}
		freq, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("%w: frequency %q", hearing.ErrInvalidFrequency, k)
		}
		db, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%w: loss %q", hearing.ErrInvalidRange, v)
		}
		out = append(out, loss{freq: hearing.Frequency(freq), db: db})
	}
	return out, nil
}
