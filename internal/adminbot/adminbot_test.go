package adminbot

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gotgbot "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"telegram-forwarder/internal/store"
)

// sentReplies перехватывает исходящие ответы бота вместо Bot API.
type sentReplies struct {
	mu   sync.Mutex
	msgs []string
}

func (s *sentReplies) SendMessage(_ int64, text string, _ *gotgbot.SendMessageOpts) (*gotgbot.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, text)
	return &gotgbot.Message{}, nil
}

func (s *sentReplies) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return ""
	}
	return s.msgs[len(s.msgs)-1]
}

func (s *sentReplies) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// newTestBot собирает бота на временном хранилище с оператором 7.
func newTestBot(t *testing.T) (*Bot, *sentReplies, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	st := store.New(store.Paths{
		Credentials:  filepath.Join(dir, "credentials.json"),
		Targets:      filepath.Join(dir, "targets.json"),
		Operators:    filepath.Join(dir, "admins.json"),
		GlobalPolicy: filepath.Join(dir, "policy.json"),
	})
	if err := st.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults() error: %v", err)
	}
	if err := st.SaveOperators(store.Operators{Primary: 7, AdminLimit: 5, Secondary: []int64{}}); err != nil {
		t.Fatalf("SaveOperators() error: %v", err)
	}

	out := &sentReplies{}
	b := &Bot{st: st, out: out, pending: map[int64]*enrolment{}}
	return b, out, st
}

// textContext строит контекст обновления с текстовым сообщением от userID.
func textContext(userID int64, text string) *ext.Context {
	msg := &gotgbot.Message{
		Text: text,
		From: &gotgbot.User{Id: userID},
		Chat: gotgbot.Chat{Id: userID},
	}
	return &ext.Context{
		Update:           &gotgbot.Update{Message: msg},
		EffectiveMessage: msg,
		EffectiveUser:    &gotgbot.User{Id: userID},
	}
}

func TestSetDelayRejectsMalformedValue(t *testing.T) {
	t.Parallel()

	b, out, st := newTestBot(t)
	if err := st.UpsertAccount(store.Account{ID: "111", Delay: 2 * time.Minute}); err != nil {
		t.Fatalf("UpsertAccount() error: %v", err)
	}

	if err := b.setDelay(nil, textContext(7, "/delay 111 5x")); err != nil {
		t.Fatalf("setDelay() error: %v", err)
	}
	if got := out.last(); !strings.Contains(got, "Cannot parse delay") {
		t.Fatalf("reply = %q, want a parse rejection", got)
	}

	accounts, err := st.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts() error: %v", err)
	}
	if accounts["111"].Delay != 2*time.Minute {
		t.Fatalf("delay changed to %v on rejected input", accounts["111"].Delay)
	}
}

func TestSetDelayReportsMissingAccount(t *testing.T) {
	t.Parallel()

	b, out, _ := newTestBot(t)
	if err := b.setDelay(nil, textContext(7, "/delay 404 45s")); err != nil {
		t.Fatalf("setDelay() error: %v", err)
	}
	if got := out.last(); got != "Account not found: 404" {
		t.Fatalf("reply = %q, want account-not-found", got)
	}
}

func TestOnTextDeliversLoginCode(t *testing.T) {
	t.Parallel()

	b, _, _ := newTestBot(t)
	flow := &enrolment{stage: stageCode, codeCh: make(chan string, 1), cancel: func() {}}
	b.pending[7] = flow

	if err := b.onText(nil, textContext(7, "12-345")); err != nil {
		t.Fatalf("onText() error: %v", err)
	}

	select {
	case code := <-flow.codeCh:
		if code != "12345" {
			t.Fatalf("code = %q, want %q", code, "12345")
		}
	default:
		t.Fatal("code was not delivered to the enrolment")
	}
}

func TestOnTextIgnoresMessagesWithoutEnrolment(t *testing.T) {
	t.Parallel()

	b, out, _ := newTestBot(t)
	if err := b.onText(nil, textContext(7, "hello")); err != nil {
		t.Fatalf("onText() error: %v", err)
	}
	if n := out.count(); n != 0 {
		t.Fatalf("replies = %d, want none", n)
	}
}

func TestOnTextConcurrentMessages(t *testing.T) {
	t.Parallel()

	// Диспетчер гоняет обработчики на пуле горутин: параллельные сообщения
	// не должны гонять поля flow.
	b, _, _ := newTestBot(t)
	flow := &enrolment{stage: stageCode, codeCh: make(chan string, 1), cancel: func() {}}
	b.pending[7] = flow

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.onText(nil, textContext(7, "12345"))
		}()
	}
	wg.Wait()

	select {
	case code := <-flow.codeCh:
		if code != "12345" {
			t.Fatalf("code = %q, want %q", code, "12345")
		}
	default:
		t.Fatal("no code delivered")
	}
}

func TestParseCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		apiID   int
		apiHash string
		phone   string
		wantErr bool
	}{
		{
			name:    "spaceSeparated",
			input:   "25910392 9e32cad6393a8598cc3a693ddfc2d66e +919098769260",
			apiID:   25910392,
			apiHash: "9e32cad6393a8598cc3a693ddfc2d66e",
			phone:   "+919098769260",
		},
		{
			name:    "pipeSeparated",
			input:   "25910392|9e32cad6393a8598cc3a693ddfc2d66e|+919098769260",
			apiID:   25910392,
			apiHash: "9e32cad6393a8598cc3a693ddfc2d66e",
			phone:   "+919098769260",
		},
		{
			name:    "multiline",
			input:   "25910392\n9e32cad6393a8598cc3a693ddfc2d66e\n+919098769260",
			apiID:   25910392,
			apiHash: "9e32cad6393a8598cc3a693ddfc2d66e",
			phone:   "+919098769260",
		},
		{name: "tooFewParts", input: "25910392 abc", wantErr: true},
		{name: "nonNumericID", input: "abc 9e32cad6393a8598cc3a693ddfc2d66e +919098769260", wantErr: true},
		{name: "shortHash", input: "25910392 deadbeef +919098769260", wantErr: true},
		{name: "phoneWithoutPlus", input: "25910392 9e32cad6393a8598cc3a693ddfc2d66e 919098769260", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			apiID, apiHash, phone, err := parseCredentials(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseCredentials(%q) expected error, got %d/%s/%s", tc.input, apiID, apiHash, phone)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCredentials(%q) error: %v", tc.input, err)
			}
			if apiID != tc.apiID || apiHash != tc.apiHash || phone != tc.phone {
				t.Fatalf("parseCredentials(%q) = %d/%s/%s, want %d/%s/%s",
					tc.input, apiID, apiHash, phone, tc.apiID, tc.apiHash, tc.phone)
			}
		})
	}
}

func TestParseIndices(t *testing.T) {
	t.Parallel()

	got, err := parseIndices([]string{"3,", "1", "2"})
	if err != nil {
		t.Fatalf("parseIndices() error: %v", err)
	}
	want := []int{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("parseIndices() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parseIndices() = %v, want %v", got, want)
		}
	}

	if _, err := parseIndices([]string{"1", "two"}); err == nil {
		t.Fatal("parseIndices() expected error for non-numeric input")
	}
}

func TestExpiryFromArg(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)

	tests := []struct {
		arg  string
		want time.Time
	}{
		{"unlimited", time.Time{}},
		{"+1m", now.AddDate(0, 1, 0)},
		{"+3m", now.AddDate(0, 3, 0)},
		{"+6m", now.AddDate(0, 6, 0)},
		{"+1y", now.AddDate(1, 0, 0)},
		{"2025-12-31-23:59:59", time.Date(2025, 12, 31, 23, 59, 59, 0, time.Local)},
	}
	for _, tc := range tests {
		got, err := expiryFromArg(tc.arg, now)
		if err != nil {
			t.Fatalf("expiryFromArg(%q) error: %v", tc.arg, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("expiryFromArg(%q) = %v, want %v", tc.arg, got, tc.want)
		}
	}

	if _, err := expiryFromArg("tomorrow", now); err == nil {
		t.Fatal("expiryFromArg() expected error for unparseable input")
	}
}
