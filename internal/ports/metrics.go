package ports

import "time"

// Recorder receives orchestrator measurements.
type Recorder interface {
	ObserveTransition(project string, event string)
	ObserveTick(outcome string, elapsed time.Duration)
	SetActiveSlots(project string, role string, n int)
}

// NopRecorder discards every measurement.
type NopRecorder struct{}

func (NopRecorder) ObserveTransition(string, string)  {}
func (NopRecorder) ObserveTick(string, time.Duration) {}
func (NopRecorder) SetActiveSlots(string, string, int) {}
