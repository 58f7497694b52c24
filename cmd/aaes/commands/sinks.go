package commands

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/aaes/internal/config"
	"github.com/satindergrewal/aaes/internal/export"
	"github.com/satindergrewal/aaes/internal/report"
)

// exportSinks returns a directory sink for dir plus, when withS3 is set and
// a bucket is configured, an S3 sink.
func exportSinks(ctx context.Context, c config.Config, dir string, withS3 bool) ([]export.Sink, error) {
	sinks := []export.Sink{export.DirSink{Dir: dir}}
	if withS3 && c.S3Enabled() {
		s3, err := export.NewS3Sink(ctx, export.S3Config{
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3)
	}
	return sinks, nil
}

// reportSinks opens the configured report sinks; none is a valid result.
func reportSinks(c config.Config) ([]report.Sink, error) {
	var sinks []report.Sink
	if c.ReportCSV != "" {
		s, err := report.OpenCSV(c.ReportCSV)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if c.KafkaEnabled() {
		sinks = append(sinks, report.NewKafkaSink(c.KafkaBrokers, c.KafkaTopic))
	}
	logrus.WithFields(logrus.Fields{
		"function": "reportSinks",
		"csv":      c.ReportCSV != "",
		"kafka":    c.KafkaEnabled(),
	}).Debug("Report sinks configured")
	return sinks, nil
}
