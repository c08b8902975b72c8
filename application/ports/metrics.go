package ports

import "time"

// Metrics receives application-level measurements. The prometheus collector
// implements it; NopMetrics discards everything.
type Metrics interface {
	OperationStarted(kind string)
	OperationFinished(kind, outcome string, duration time.Duration)
	HistoryStep(direction string, skipped bool)
	GraphSize(graphID string, nodes, edges int)
	ForgetGraph(graphID string)
}

type NopMetrics struct{}

func (NopMetrics) OperationStarted(string) {}
func (NopMetrics) OperationFinished(string, string, time.Duration) {}
func (NopMetrics) HistoryStep(string, bool) {}
func (NopMetrics) GraphSize(string, int, int) {}
func (NopMetrics) ForgetGraph(string) {}
