package pipeline

import (
	"context"
	"time"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/output"
	"github.com/banshee-data/alphascan/internal/queue"
)

// runStageB matches object locations to tag peaks until the intermediate
// queue is closed and drained or ctx is cancelled, then finalizes the run:
// late peaks are matched with the wide window, leftover objects are cleaned
// up and emitted untagged, and the sink is told the run is over.
func (p *Pipeline) runStageB(ctx context.Context, results *queue.Queue[fusion.TagObjectLocation]) error {
	params := p.cfg.Params
	tags := p.c.Tags

	var (
		objs  []fusion.ObjectLocation
		peaks []fusion.TagPeak
	)

	defer func() {
		results.Close()
		if p.c.Sink != nil {
			p.c.Sink.RunOver()
		}
	}()

	objects, err := p.c.awaitObjects(ctx)
	if err != nil {
		return nil // cancelled before stage A started; nothing to flush
	}

	// fatal is the first fatal save error. Records are still emitted to the
	// output queue and sink after it, and it is returned once the run ends.
	var fatal error
	keep := func(err error) {
		if fatal == nil {
			fatal = err
		}
	}

	for fatal == nil && ctx.Err() == nil && !queue.IsDone[fusion.ObjectLocation](objects) {
		p.waitEither(ctx, objects, tags)

		newObjs := objects.Drain()
		newPeaks := tags.Drain()
		p.metrics.receivedN("tags", len(newPeaks))
		objs = append(objs, newObjs...)
		peaks = append(peaks, newPeaks...)

		out := fusion.CorrelateLocationTags(&objs, &peaks, false, params)
		keep(p.emit(results, out, true))
	}

	// End of run. Runs on cancellation too so drained data is not lost.
	objs = append(objs, objects.Drain()...)
	late := drainUntilDone(tags, p.cfg.TagDrainTimeout)
	p.metrics.receivedN("tags", len(late))
	peaks = append(peaks, late...)
	if len(peaks) > 0 {
		out := fusion.CorrelateLocationTags(&objs, &peaks, true, params)
		keep(p.emit(results, out, true))
		if len(peaks) > 0 {
			p.logf("[pipeline] %s: %d tag peaks matched no object", StageB, len(peaks))
		}
	}

	fusion.CleanupUntagged(p.c.Tagged(), &objs, params)
	keep(p.emit(results, fusion.FinalizeUntagged(&objs), false))
	return fatal
}

// emit pushes records to the output queue, the tagged accumulator (for
// tagged records) and the sink, then persists them. Only fatal output errors
// are returned; nil is returned otherwise.
func (p *Pipeline) emit(results *queue.Queue[fusion.TagObjectLocation], recs []fusion.TagObjectLocation, tagged bool) error {
	if len(recs) == 0 {
		return nil
	}
	_ = results.Push(recs...)
	if tagged {
		p.c.addTagged(recs)
		p.metrics.emittedN("tagged", len(recs))
	} else {
		p.metrics.emittedN("untagged", len(recs))
	}
	if p.c.Sink != nil {
		for _, r := range recs {
			p.c.Sink.Publish(r)
		}
	}

	if p.c.Saver == nil {
		return nil
	}
	rows := make([]output.Writable, len(recs))
	for i, r := range recs {
		rows[i] = r
	}
	if err := p.c.Saver.TrySave(TagLocationDataset, rows); err != nil {
		class := output.Classify(err)
		p.metrics.saveFailed(class.String())
		p.logf("[pipeline] %s: failed to save %d records: %v", StageB, len(recs), err)
		if class == output.ClassFatal {
			return err
		}
	}
	return nil
}

// waitEither blocks until either queue has data, the poll interval passes,
// or ctx is done. Queues that are already finished are not waited on.
func (p *Pipeline) waitEither(ctx context.Context, objects queue.Reader[fusion.ObjectLocation], tags queue.Reader[fusion.TagPeak]) {
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()

	var tagsReady <-chan struct{}
	if !queue.IsDone(tags) {
		tagsReady = tags.Ready()
	}
	select {
	case <-objects.Ready():
	case <-tagsReady:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// drainUntilDone collects everything from r until it is closed and drained
// or timeout elapses.
func drainUntilDone[T any](r queue.Reader[T], timeout time.Duration) []T {
	var out []T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		out = append(out, r.Drain()...)
		if queue.IsDone(r) {
			return out
		}
		select {
		case <-r.Ready():
		case <-timer.C:
			return append(out, r.Drain()...)
		}
	}
}
