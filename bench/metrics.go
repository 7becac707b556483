package bench

import (
	"time"
)

// Reduce folds the outcomes of one kind into its statistics.
func Reduce(kind Kind, outcomes []Outcome) Stats {
	stats := Stats{
		Kind:      kind,
		Attempted: len(outcomes),
	}

	var total time.Duration
	for _, o := range outcomes {
		if !o.Success {
			continue
		}
		stats.Successful++
		stats.Bytes += o.Bytes
		total += o.Elapsed
	}

	if stats.Attempted > 0 {
		stats.SuccessRatePct = 100 * float64(stats.Successful) / float64(stats.Attempted)
	}
	if stats.Successful > 0 {
		stats.AverageDuration = total / time.Duration(stats.Successful)
		if total > 0 {
			stats.ThroughputOpsPerSec = float64(stats.Successful) / total.Seconds()
		}
	}

	return stats
}

// CombinedSuccessRate is total successes over total attempts across all
// kinds, in percent. It is zero when nothing was attempted.
func CombinedSuccessRate(stats []Stats) float64 {
	var successes, attempts int
	for _, s := range stats {
		successes += s.Successful
		attempts += s.Attempted
	}
	if attempts == 0 {
		return 0
	}
	return 100 * float64(successes) / float64(attempts)
}

// Classify maps the combined success rate onto an overall status.
func Classify(stats []Stats, th Thresholds) OverallStatus {
	return classifyRate(CombinedSuccessRate(stats), th)
}

func classifyRate(rate float64, th Thresholds) OverallStatus {
	switch {
	case rate >= th.ExcellentPct:
		return StatusExcellent
	case rate >= th.GoodPct:
		return StatusGood
	default:
		return StatusPoor
	}
}

// NewRunReport assembles the final report from per-kind outcomes. Stats are
// ordered by ExecutionOrder; kinds without outcomes are omitted.
func NewRunReport(runID string, startedAt, finishedAt time.Time, outcomes map[Kind][]Outcome, batch BatchResult, th Thresholds) RunReport {
	stats := make([]Stats, 0, len(ExecutionOrder))
	for _, kind := range ExecutionOrder {
		if kind == KindBatch {
			if len(batch.Outcomes) > 0 {
				stats = append(stats, Reduce(KindBatch, batch.Outcomes))
			}
			continue
		}
		if recorded, ok := outcomes[kind]; ok {
			stats = append(stats, Reduce(kind, recorded))
		}
	}

	combined := CombinedSuccessRate(stats)

	return RunReport{
		RunID:                  runID,
		StartedAt:              startedAt,
		FinishedAt:             finishedAt,
		Stats:                  stats,
		Batch:                  batch,
		BatchThroughputMBps:    batch.ThroughputMBps(),
		CombinedSuccessRatePct: combined,
		Status:                 classifyRate(combined, th),
		Thresholds:             th,
	}
}
