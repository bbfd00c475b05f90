package es

import "testing"

func TestRecordedEvent_StreamVersion(t *testing.T) {
	tests := []struct {
		name  string
		event RecordedEvent
		want  int64
	}{
		{"first event", RecordedEvent{EventNumber: 1}, 1},
		{"later event", RecordedEvent{EventNumber: 42}, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.StreamVersion(); got != tt.want {
				t.Errorf("StreamVersion() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDeletedState_String(t *testing.T) {
	tests := []struct {
		state DeletedState
		want  string
	}{
		{StreamLive, "live"},
		{StreamSoftDeleted, "soft_deleted"},
		{StreamHardDeletedTombstone, "hard_deleted_tombstone"},
		{DeletedState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStream_IsDeleted(t *testing.T) {
	tests := []struct {
		name  string
		state DeletedState
		want  bool
	}{
		{"live", StreamLive, false},
		{"soft deleted", StreamSoftDeleted, true},
		{"hard deleted", StreamHardDeletedTombstone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Stream{DeletedState: tt.state}
			if got := s.IsDeleted(); got != tt.want {
				t.Errorf("IsDeleted() = %v, want %v", got, tt.want)
			}
		})
	}
}
