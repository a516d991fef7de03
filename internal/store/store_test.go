package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"telegram-forwarder/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	return store.New(store.Paths{
		Credentials:  filepath.Join(dir, "credentials.json"),
		Targets:      filepath.Join(dir, "target_chats.json"),
		Operators:    filepath.Join(dir, "admins.json"),
		GlobalPolicy: filepath.Join(dir, "global_settings.json"),
	})
}

func TestParseForwardMode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code string
		want store.ForwardMode
	}{
		{code: "1", want: store.ModePreserveOriginal},
		{code: "2", want: store.ModeSilent},
		{code: "3", want: store.ModeAsCopy},
		{code: "", want: store.ModePreserveOriginal},
		{code: "7", want: store.ModePreserveOriginal},
		{code: "silent", want: store.ModePreserveOriginal},
	}
	for _, tc := range cases {
		if got := store.ParseForwardMode(tc.code); got != tc.want {
			t.Fatalf("ParseForwardMode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestAccountRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	expiry := time.Date(2026, 10, 1, 12, 0, 0, 0, time.Local)
	acc := store.Account{
		ID:          "25910392",
		APIID:       25910392,
		APIHash:     "9e32cad6393a8598cc3a693ddfc2d66e",
		Phone:       "+919098769260",
		SessionFile: "sessions/919098769260.session",
		Start:       true,
		AutoStart:   true,
		Delay:       time.Minute,
		Mode:        store.ModeSilent,
		ModeSet:     true,
		Expiry:      expiry,
	}
	if err := s.UpsertAccount(acc); err != nil {
		t.Fatalf("UpsertAccount() error: %v", err)
	}

	accounts, err := s.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts() error: %v", err)
	}
	got, ok := accounts["25910392"]
	if !ok {
		t.Fatal("account missing after upsert")
	}
	if got.APIID != acc.APIID || got.APIHash != acc.APIHash || got.Phone != acc.Phone {
		t.Fatalf("credentials mismatch: %+v", got)
	}
	if got.Delay != time.Minute || got.Mode != store.ModeSilent || !got.ModeSet {
		t.Fatalf("parameters mismatch: %+v", got)
	}
	if !got.Expiry.Equal(expiry) {
		t.Fatalf("expiry = %v, want %v", got.Expiry, expiry)
	}
	if got.LastUpdated.IsZero() {
		t.Fatal("last_updated not set on upsert")
	}
}

func TestLoadAccountsToleratesTrailingComma(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	body := `{
  "123456": {
    "api_id": "123456",
    "api_hash": "0123456789abcdef0123456789abcdef",
    "phone": "+10000000000",
    "delay": "1m",
    "forward_mode": "1",
    "mode_set": true,
    "start": false,
    "auto_start_forwarding": true,
    "expiry_date": null,
    "last_updated": "2026-08-24T10:00:00Z",
  },
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	s := store.New(store.Paths{Credentials: path})

	accounts, err := s.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts() error: %v", err)
	}
	acc, ok := accounts["123456"]
	if !ok {
		t.Fatal("account not loaded from forgiving document")
	}
	if acc.APIID != 123456 || acc.Delay != time.Minute {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if !acc.Expiry.IsZero() {
		t.Fatalf("null expiry should be unlimited, got %v", acc.Expiry)
	}
}

func TestTargetsSimpleStringCompat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "target_chats.json")
	body := `{
  "123": [
    "https://t.me/somechannel",
    {"url": "@other", "active": false, "added_date": "2026-01-02T03:04:05Z"}
  ]
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	s := store.New(store.Paths{Targets: path})

	list, err := s.TargetsFor("123")
	if err != nil {
		t.Fatalf("TargetsFor() error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(targets) = %d, want 2", len(list))
	}
	if list[0].URL != "https://t.me/somechannel" || !list[0].Active {
		t.Fatalf("string entry parsed wrong: %+v", list[0])
	}
	if list[1].URL != "@other" || list[1].Active {
		t.Fatalf("object entry parsed wrong: %+v", list[1])
	}
	if list[1].AddedAt.IsZero() {
		t.Fatal("added_date not parsed")
	}
}

func TestMutateMissingAccountIsTyped(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if err := s.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults() error: %v", err)
	}

	err := s.MutateAccount("404", func(a *store.Account) { a.Start = true })
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("MutateAccount() error = %v, want ErrAccountNotFound", err)
	}

	if _, err := s.DeleteAccount("404"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("DeleteAccount() error = %v, want ErrAccountNotFound", err)
	}
}

func TestDeleteTargetsByIndices(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if err := s.AddTargets("42", []string{"a", "b", "c", "d", "e"}); err != nil {
		t.Fatalf("AddTargets() error: %v", err)
	}

	removed, err := s.DeleteTargetsByIndices("42", []int{1, 3, 5})
	if err != nil {
		t.Fatalf("DeleteTargetsByIndices() error: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}

	list, err := s.TargetsFor("42")
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, 0, len(list))
	for _, tgt := range list {
		got = append(got, tgt.URL)
	}
	want := []string{"b", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("remaining = %v, want %v", got, want)
	}
}

func TestDeleteTargetsIgnoresBadIndices(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if err := s.AddTargets("42", []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.DeleteTargetsByIndices("42", []int{0, 2, 2, 99})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	list, err := s.TargetsFor("42")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].URL != "a" {
		t.Fatalf("remaining = %+v, want [a]", list)
	}
}

func TestOperatorsInvariants(t *testing.T) {
	t.Parallel()

	ops := store.Operators{Primary: 100, AdminLimit: 2, Secondary: []int64{}}

	if err := ops.AddSecondary(101); err != nil {
		t.Fatalf("AddSecondary(101) error: %v", err)
	}
	if err := ops.AddSecondary(101); err == nil {
		t.Fatal("duplicate secondary accepted")
	}
	if err := ops.AddSecondary(100); err == nil {
		t.Fatal("primary accepted as secondary")
	}
	if err := ops.AddSecondary(102); err != nil {
		t.Fatalf("AddSecondary(102) error: %v", err)
	}
	if err := ops.AddSecondary(103); err == nil {
		t.Fatal("limit exceeded")
	}

	if err := ops.SetAdminLimit(1); err == nil {
		t.Fatal("limit below current count accepted")
	}
	if err := ops.SetAdminLimit(-1); err == nil {
		t.Fatal("negative limit accepted")
	}
	if err := ops.SetAdminLimit(5); err != nil {
		t.Fatalf("SetAdminLimit(5) error: %v", err)
	}

	if err := ops.RemoveSecondary(101); err != nil {
		t.Fatalf("RemoveSecondary() error: %v", err)
	}
	if err := ops.RemoveSecondary(101); err == nil {
		t.Fatal("removing absent operator accepted")
	}

	if !ops.IsOperator(100) || !ops.IsOperator(102) || ops.IsOperator(999) {
		t.Fatal("IsOperator gating wrong")
	}
	if !ops.IsPrimary(100) || ops.IsPrimary(102) {
		t.Fatal("IsPrimary gating wrong")
	}
}

func TestPolicyDefaultsWhenMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	policy, err := s.LoadPolicy()
	if err != nil {
		t.Fatalf("LoadPolicy() error: %v", err)
	}
	if !reflect.DeepEqual(policy, store.DefaultGlobalPolicy()) {
		t.Fatalf("policy = %+v, want defaults", policy)
	}
}

func TestEnsureDefaultsCreatesDocuments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	paths := store.Paths{
		Credentials:  filepath.Join(dir, "db", "credentials.json"),
		Targets:      filepath.Join(dir, "db", "target_chats.json"),
		Operators:    filepath.Join(dir, "db", "admins.json"),
		GlobalPolicy: filepath.Join(dir, "db", "global_settings.json"),
	}
	s := store.New(paths)
	if err := s.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults() error: %v", err)
	}

	for _, p := range []string{paths.Credentials, paths.Targets, paths.Operators, paths.GlobalPolicy} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("document %s not created: %v", p, err)
		}
	}

	ops, err := s.LoadOperators()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ops, store.DefaultOperators()) {
		t.Fatalf("operators = %+v, want defaults", ops)
	}

	// Повторный вызов не перетирает существующие документы.
	if err := s.MutateOperators(func(o *store.Operators) error { o.Primary = 7; return nil }); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureDefaults(); err != nil {
		t.Fatal(err)
	}
	ops, err = s.LoadOperators()
	if err != nil {
		t.Fatal(err)
	}
	if ops.Primary != 7 {
		t.Fatal("EnsureDefaults() overwrote an existing document")
	}
}

func TestEffectiveParameters(t *testing.T) {
	t.Parallel()

	policy := store.GlobalPolicy{DefaultDelay: 90 * time.Second, DefaultMode: store.ModeAsCopy}

	pinned := store.Account{ModeSet: true, Mode: store.ModeSilent, Delay: 10 * time.Second}
	if pinned.EffectiveMode(policy) != store.ModeSilent {
		t.Fatal("pinned account must keep its own mode")
	}
	if pinned.EffectiveDelay(policy) != 10*time.Second {
		t.Fatal("pinned account must keep its own delay")
	}

	floating := store.Account{ModeSet: false, Mode: store.ModePreserveOriginal, Delay: 10 * time.Second}
	if floating.EffectiveMode(policy) != store.ModeAsCopy {
		t.Fatal("floating account must use the policy mode")
	}
	if floating.EffectiveDelay(policy) != 90*time.Second {
		t.Fatal("floating account must use the policy delay")
	}
}

func TestAccountEligibility(t *testing.T) {
	t.Parallel()

	now := time.Now()
	acc := store.Account{Start: true}
	if !acc.Eligible(now) {
		t.Fatal("started unlimited account must be eligible")
	}
	acc.Expiry = now.Add(-time.Second)
	if acc.Eligible(now) {
		t.Fatal("expired account must not be eligible")
	}
	acc = store.Account{Start: false}
	if acc.Eligible(now) {
		t.Fatal("stopped account must not be eligible")
	}
}
