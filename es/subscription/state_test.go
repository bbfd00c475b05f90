package subscription

import "testing"

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateInitial, "initial"},
		{StateCatchingUp, "catching_up"},
		{StateSubscribed, "subscribed"},
		{StateDisconnected, "disconnected"},
		{StatePaused, "paused"},
		{State(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
