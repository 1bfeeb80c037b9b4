package answer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/metrics"
)

var errStreamClosed = errors.New("event stream already terminated")

var stageOrder = map[domain.Stage]int{
	domain.StagePlanning:       1,
	domain.StageRetrieving:     2,
	domain.StageAnswering:      3,
	domain.StageFinalSynthesis: 4,
	domain.StageDone:           5,
	domain.StageFailed:         5,
}

// emitter is the single writer of one event stream. It enforces stage order,
// stops at the first terminal event and never blocks past cancellation.
type emitter struct {
	ctx     context.Context
	out     chan<- domain.Event
	stage   domain.Stage
	started time.Time
	closed  bool
}

func newEmitter(ctx context.Context, out chan<- domain.Event) *emitter {
	return &emitter{ctx: ctx, out: out}
}

// enter moves the pipeline to stage and records how long the previous one took.
func (e *emitter) enter(stage domain.Stage) error {
	if stageOrder[stage] < stageOrder[e.stage] {
		return fmt.Errorf("stage %s after %s", stage, e.stage)
	}
	now := time.Now()
	if e.stage != "" {
		metrics.AnswerStageDuration.WithLabelValues(string(e.stage)).Observe(now.Sub(e.started).Seconds())
	}
	e.stage, e.started = stage, now
	return nil
}

func (e *emitter) emit(ev domain.Event) error {
	if e.closed {
		return errStreamClosed
	}
	ev.Stage = e.stage
	if ev.Type == domain.EventFinalAnswer || ev.Type == domain.EventError {
		e.closed = true
	}
	select {
	case e.out <- ev:
		return nil
	case <-e.ctx.Done():
		e.closed = true
		return e.ctx.Err()
	}
}

// finish emits the final answer.
func (e *emitter) finish(final *domain.FinalAnswer) error {
	if err := e.enter(domain.StageDone); err != nil {
		return err
	}
	return e.emit(domain.Event{Type: domain.EventFinalAnswer, Final: final})
}

// fail emits the terminal error event unless the caller is gone or the
// stream already ended.
func (e *emitter) fail(err error) {
	if e.closed || e.ctx.Err() != nil {
		return
	}
	_ = e.enter(domain.StageFailed)
	_ = e.emit(domain.Event{Type: domain.EventError, Error: &domain.ErrorPayload{
		Kind:    domain.KindOf(err),
		Message: err.Error(),
	}})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
