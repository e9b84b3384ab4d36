package pipeline

import (
	"context"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/queue"
)

// runStageA correlates radar clusters with GPS bearing fixes until both
// upstream queues are closed and drained or ctx is cancelled. Whatever was
// drained is flushed before the intermediate queue is closed.
func (p *Pipeline) runStageA(ctx context.Context, objects *queue.Queue[fusion.ObjectLocation]) error {
	params := p.cfg.Params
	radar, gps := p.c.Radar, p.c.Gps

	var (
		clusters []fusion.RadarCluster
		fixes    []fusion.GpsFix
		bearings []fusion.GpsBearingFix
	)

	defer objects.Close()
	defer func() {
		bearings = append(bearings, fusion.FlushBearingFixes(&fixes, params.BearingLag)...)
		out := fusion.CorrelateRemaining(&clusters, &bearings, params)
		p.pushObjects(objects, out)
		if len(clusters) > 0 {
			p.metrics.unmatchedN(len(clusters))
			p.logf("[pipeline] %s: %d radar clusters had no GPS fix at end of run", StageA, len(clusters))
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if queue.IsDone(radar) && queue.IsDone(gps) {
			return nil
		}
		if err := queue.Wait(ctx, radar); err != nil {
			return err
		}
		if err := queue.Wait(ctx, gps); err != nil {
			return err
		}

		newClusters := radar.Drain()
		newFixes := gps.Drain()
		p.metrics.receivedN("radar", len(newClusters))
		p.metrics.receivedN("gps", len(newFixes))
		clusters = append(clusters, newClusters...)
		fixes = append(fixes, newFixes...)

		bearings = append(bearings, fusion.DeriveBearingFixes(&fixes, params.BearingLag)...)
		p.pushObjects(objects, fusion.CorrelateRadarGps(&clusters, &bearings, params))
	}
}

func (p *Pipeline) pushObjects(objects *queue.Queue[fusion.ObjectLocation], out []fusion.ObjectLocation) {
	if len(out) == 0 {
		return
	}
	p.metrics.objectsN(len(out))
	if err := objects.Push(out...); err != nil {
		p.logf("[pipeline] %s: dropped %d object locations: %v", StageA, len(out), err)
	}
}
