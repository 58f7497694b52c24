// Package report keeps a processing report, one record per completed
// enhancement request, in a CSV file and/or a Kafka topic. Reporting is
// best effort: sink failures are logged and never reach the session.
package report

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/aaes/internal/session"
)

// Record is one report row.
type Record struct {
	SessionID   string    `json:"session_id"`
	Seq         uint64    `json:"seq"`
	Source      string    `json:"source"`
	HearingLoss string    `json:"hearing_loss"`
	TuningGain  int       `json:"tuning_gain_percent"`
	LatencyMS   int64     `json:"latency_ms"`
	Outcome     string    `json:"outcome"`
	Artifact    string    `json:"artifact,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Columns is the CSV header, in row order.
var Columns = []string{
	"session_id", "seq", "source", "hearing_loss", "tuning_gain_percent",
	"latency_ms", "outcome", "artifact", "error", "at",
}

// Row renders r in Columns order.
func (r Record) Row() []string {
	return []string{
		r.SessionID,
		strconv.FormatUint(r.Seq, 10),
		r.Source,
		r.HearingLoss,
		strconv.Itoa(r.TuningGain),
		strconv.FormatInt(r.LatencyMS, 10),
		r.Outcome,
		r.Artifact,
		r.Error,
		r.At.UTC().Format(time.RFC3339Nano),
	}
}

// FromEvent builds a record from a request completion. Other events yield false.
func FromEvent(ev session.Event) (Record, bool) {
	if ev.Kind != session.KindCompleted {
		return Record{}, false
	}
	r := Record{
		SessionID:   ev.SessionID,
		Seq:         ev.Seq,
		Source:      ev.Source,
		HearingLoss: ev.Audiogram.Serialize(),
		TuningGain:  int(ev.Gain),
		LatencyMS:   ev.Latency.Milliseconds(),
		Outcome:     ev.State.String(),
		At:          ev.At,
	}
	if ev.Result != nil {
		r.Artifact = ev.Result.ArtifactID
	}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
	}
	return r, true
}

// Sink stores records.
type Sink interface {
	Write(ctx context.Context, r Record) error
	Close() error
}

// Recorder queues records from session events and writes them to every sink
// from its own goroutine.
type Recorder struct {
	sinks   []Sink
	records chan Record
	done    chan struct{}
	once    sync.Once
}

// NewRecorder creates a recorder over sinks. Call Run to start writing.
func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{
		sinks:   sinks,
		records: make(chan Record, 64),
		done:    make(chan struct{}),
	}
}

// Observe is a session subscriber. It never blocks; when the queue is full
// the record is dropped.
func (rec *Recorder) Observe(ev session.Event) {
	r, ok := FromEvent(ev)
	if !ok {
		return
	}
	select {
	case rec.records <- r:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Observe",
			"session":  r.SessionID,
			"seq":      r.Seq,
		}).Warn("Report queue full, record dropped")
	}
}

// Run writes queued records until ctx is cancelled, then flushes what is
// left and closes the sinks.
func (rec *Recorder) Run(ctx context.Context) {
	defer close(rec.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case r := <-rec.records:
					rec.write(context.Background(), r)
				default:
					rec.closeSinks()
					return
				}
			}
		case r := <-rec.records:
			rec.write(ctx, r)
		}
	}
}

// Wait blocks until Run has returned.
func (rec *Recorder) Wait() {
	<-rec.done
}

func (rec *Recorder) write(ctx context.Context, r Record) {
	for _, s := range rec.sinks {
		if err := s.Write(ctx, r); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "write",
				"session":  r.SessionID,
				"seq":      r.Seq,
				"error":    err.Error(),
			}).Warn("Report sink failed")
		}
	}
}

func (rec *Recorder) closeSinks() {
	rec.once.Do(func() {
		var errs []error
		for _, s := range rec.sinks {
			errs = append(errs, s.Close())
		}
		if err := errors.Join(errs...); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "closeSinks",
				"error":    err.Error(),
			}).Warn("Closing report sinks failed")
		}
	})
}
