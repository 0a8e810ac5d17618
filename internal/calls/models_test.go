package calls

import "testing"

func TestTerminalFor(t *testing.T) {
	cases := []struct {
		from   Status
		reason string
		want   Status
	}{
		{StatusActive, ReasonHangup, StatusEnded},
		{StatusActive, ReasonInsufficientBalance, StatusEnded},
		{StatusRinging, ReasonRingTimeout, StatusMissed},
		{StatusRinging, ReasonRejected, StatusRejected},
		{StatusRinging, ReasonHangup, StatusCancelled},
		{StatusConnecting, ReasonConnectTimeout, StatusFailed},
		{StatusConnecting, ReasonCancelled, StatusCancelled},
	}
	for _, tc := range cases {
		if got := terminalFor(tc.from, tc.reason); got != tc.want {
			t.Fatalf("%s/%s: expected %s, got %s", tc.from, tc.reason, tc.want, got)
		}
		if !tc.want.IsTerminal() {
			t.Fatalf("%s must be terminal", tc.want)
		}
	}
}

func TestLiveStatusesAreNotTerminal(t *testing.T) {
	for _, s := range []Status{StatusRinging, StatusConnecting, StatusActive} {
		if s.IsTerminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}

func TestCallParticipants(t *testing.T) {
	c := Call{UserID: "u", ResponderID: "r"}
	if !c.IsParticipant("u") || !c.IsParticipant("r") || c.IsParticipant("x") || c.IsParticipant("") {
		t.Fatalf("participant check wrong")
	}
	if c.Counterpart("u") != "r" || c.Counterpart("r") != "u" {
		t.Fatalf("counterpart wrong")
	}
}
