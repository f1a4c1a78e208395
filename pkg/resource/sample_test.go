package resource

import "testing"

func TestSampler_Accumulates(t *testing.T) {
	s := NewSampler()

	if got := s.Summary(); got.Samples != 0 {
		t.Fatalf("fresh sampler has %d samples", got.Samples)
	}

	s.Sample()
	s.Sample()

	got := s.Summary()
	if got.Samples != 2 {
		t.Fatalf("samples = %d, want 2", got.Samples)
	}
	// On Linux these come from /proc; anywhere else zero is acceptable.
	if got.PeakRSSBytes < 0 || got.AvgLoad1 < 0 {
		t.Fatalf("negative readings: %+v", got)
	}
}

func TestSampler_SnapshotTakesAReading(t *testing.T) {
	s := NewSampler()
	got := s.Snapshot()
	if got.Samples != 1 {
		t.Fatalf("snapshot samples = %d, want 1", got.Samples)
	}
}
