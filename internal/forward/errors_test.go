package forward

import (
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantWait time.Duration
	}{
		{name: "nil", err: nil, wantKind: ErrNone},
		{name: "floodWait", err: tgerr.New(420, "FLOOD_WAIT_42"), wantKind: ErrFloodWait, wantWait: 42 * time.Second},
		{name: "slowMode", err: tgerr.New(420, "SLOWMODE_WAIT_30"), wantKind: ErrSlowMode, wantWait: 30 * time.Second},
		{name: "channelPrivate", err: tgerr.New(400, "CHANNEL_PRIVATE"), wantKind: ErrAccessDenied},
		{name: "writeForbidden", err: tgerr.New(403, "CHAT_WRITE_FORBIDDEN"), wantKind: ErrWriteForbidden},
		{name: "notParticipant", err: tgerr.New(400, "USER_NOT_PARTICIPANT"), wantKind: ErrNotParticipant},
		{name: "badUsername", err: tgerr.New(400, "USERNAME_NOT_OCCUPIED"), wantKind: ErrInvalidTarget},
		{name: "topicClosed", err: tgerr.New(400, "TOPIC_CLOSED"), wantKind: ErrTopicClosed},
		{name: "topicDeleted", err: tgerr.New(400, "TOPIC_DELETED"), wantKind: ErrTopicClosed},
		{name: "inviteExpired", err: tgerr.New(400, "INVITE_HASH_EXPIRED"), wantKind: ErrInviteInvalid},
		{name: "alreadyParticipant", err: tgerr.New(400, "USER_ALREADY_PARTICIPANT"), wantKind: ErrAlreadyParticipant},
		{name: "unknownRPC", err: tgerr.New(500, "INTERNAL"), wantKind: ErrUnknown},
		{name: "plainError", err: errors.New("dial tcp: timeout"), wantKind: ErrUnknown},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			kind, wait := Classify(tc.err)
			if kind != tc.wantKind || wait != tc.wantWait {
				t.Fatalf("Classify() = (%v, %v), want (%v, %v)", kind, wait, tc.wantKind, tc.wantWait)
			}
		})
	}
}

func TestFailFast(t *testing.T) {
	t.Parallel()

	fast := []ErrorKind{ErrAccessDenied, ErrInvalidTarget, ErrWriteForbidden, ErrInviteInvalid, ErrAlreadyParticipant}
	for _, k := range fast {
		if !k.FailFast() {
			t.Fatalf("FailFast(%v) = false, want true", k)
		}
	}

	slow := []ErrorKind{ErrFloodWait, ErrSlowMode, ErrNotParticipant, ErrTopicClosed, ErrUnknown}
	for _, k := range slow {
		if k.FailFast() {
			t.Fatalf("FailFast(%v) = true, want false", k)
		}
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()

	cases := []struct {
		name       string
		kind       ErrorKind
		attempt    int
		retryAfter time.Duration
		want       Decision
	}{
		{
			// Серверная пауза повторяется бесплатно: лимит попыток не расходуется.
			name:       "floodWaitFreeRetry",
			kind:       ErrFloodWait,
			attempt:    3,
			retryAfter: 42 * time.Second,
			want:       Decision{Retry: true, Sleep: 43 * time.Second},
		},
		{
			name:       "slowModeCountsAttempt",
			kind:       ErrSlowMode,
			attempt:    1,
			retryAfter: 30 * time.Second,
			want:       Decision{Retry: true, Sleep: 30 * time.Second, CountsAttempt: true},
		},
		{
			name:       "slowModeAtLimitStillSleeps",
			kind:       ErrSlowMode,
			attempt:    3,
			retryAfter: 30 * time.Second,
			want:       Decision{Sleep: 30 * time.Second},
		},
		{
			name:    "unknownFirstAttempt",
			kind:    ErrUnknown,
			attempt: 1,
			want:    Decision{Retry: true, Sleep: 30 * time.Second, CountsAttempt: true},
		},
		{
			name:    "unknownSecondAttemptDoublesBackoff",
			kind:    ErrUnknown,
			attempt: 2,
			want:    Decision{Retry: true, Sleep: 60 * time.Second, CountsAttempt: true},
		},
		{
			name:    "unknownExhausted",
			kind:    ErrUnknown,
			attempt: 3,
			want:    Decision{},
		},
		{name: "accessDenied", kind: ErrAccessDenied, attempt: 1, want: Decision{}},
		{name: "invalidTarget", kind: ErrInvalidTarget, attempt: 1, want: Decision{}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := policy.Decide(tc.kind, tc.attempt, tc.retryAfter)
			if got != tc.want {
				t.Fatalf("Decide(%v, %d) = %+v, want %+v", tc.kind, tc.attempt, got, tc.want)
			}
		})
	}
}

func TestDecideFloodWaitDisabled(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 3, Base: 30 * time.Second}
	got := policy.Decide(ErrFloodWait, 1, 10*time.Second)
	if got.Retry {
		t.Fatalf("Decide() = %+v, want no retry with flood wait disabled", got)
	}
	// Серверная пауза соблюдается и без повтора.
	if got.Sleep != 10*time.Second {
		t.Fatalf("Decide().Sleep = %v, want 10s", got.Sleep)
	}
}

func TestIsTopicFallback(t *testing.T) {
	t.Parallel()

	if !isTopicFallback(tgerr.New(400, "TOPIC_CLOSED")) {
		t.Fatal("TOPIC_CLOSED must fall back to main chat")
	}
	if !isTopicFallback(tgerr.New(400, "MSG_ID_INVALID")) {
		t.Fatal("MSG_ID_INVALID must fall back to main chat")
	}
	if isTopicFallback(tgerr.New(400, "CHANNEL_PRIVATE")) {
		t.Fatal("CHANNEL_PRIVATE is not a topic error")
	}
}
