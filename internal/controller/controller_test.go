package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/npratt/hopctl/internal/config"
	"github.com/npratt/hopctl/internal/events"
	"github.com/npratt/hopctl/internal/history"
	"github.com/npratt/hopctl/internal/roster"
	"github.com/npratt/hopctl/internal/runner"
	"github.com/npratt/hopctl/internal/testutil"
)

const waitFor = 2 * time.Second

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Directory.Command = "dir"
	cfg.Directory.PollInterval = 0
	cfg.Relay.Command = "relay {instance} {index}"
	cfg.Relay.Count = 2
	cfg.Client.FetchCommand = "fetch {resource}"
	cfg.ReadyTimeout = 5 * time.Second
	return cfg
}

// script answers every start. By default the directory reports r1 and r2,
// relays hold, and fetches print a 200 response.
type script struct {
	dir   func(attempt int) (testutil.Script, error)
	fetch func(attempt int, spec runner.Spec) (testutil.Script, error)
}

func (s script) start(attempt int, spec runner.Spec) (testutil.Script, error) {
	switch spec.Name {
	case "dir":
		if s.dir != nil {
			return s.dir(attempt)
		}
		return testutil.Script{Stdout: []string{"r1", "r2"}}, nil
	case "fetch":
		if s.fetch != nil {
			return s.fetch(attempt, spec)
		}
		return testutil.Script{Stdout: []string{`{"content":"hi","status code":200}`}}, nil
	default:
		return testutil.Script{Hold: true}, nil
	}
}

type harness struct {
	t      *testing.T
	cfg    *config.Config
	ctrl   *Controller
	runner *testutil.FakeProcessRunner
	events <-chan events.Event
}

func newHarness(t *testing.T, cfg *config.Config, s script, opts ...Option) *harness {
	t.Helper()

	r := testutil.NewFakeProcessRunner()
	r.OnStart(s.start)
	router := events.NewRouter(1000)
	sub := router.Subscribe()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithTickInterval(time.Hour)}, opts...)
	ctrl, err := New(cfg, r, router, logger, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- ctrl.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(waitFor):
			t.Error("Run did not return")
		}
		router.Close()
	})

	return &harness{t: t, cfg: cfg, ctrl: ctrl, runner: r, events: sub}
}

func (h *harness) waitSnapshot(msg string, cond func(Snapshot) bool) Snapshot {
	h.t.Helper()
	testutil.Eventually(h.t, waitFor, func() bool { return cond(h.ctrl.Snapshot()) }, msg)
	return h.ctrl.Snapshot()
}

func (h *harness) waitState(s State) Snapshot {
	h.t.Helper()
	return h.waitSnapshot("state "+string(s), func(snap Snapshot) bool { return snap.State == s })
}

// relays waits for n relays from the latest attempt and returns them.
func (h *harness) relays(n int) []*testutil.FakeProcess {
	h.t.Helper()
	var procs []*testutil.FakeProcess
	testutil.Eventually(h.t, waitFor, func() bool {
		procs = h.runner.Processes("relay")
		return len(procs) >= n
	}, "relays started")
	return procs[len(procs)-n:]
}

func (h *harness) connect() {
	h.t.Helper()
	if err := h.ctrl.StartProxy(); err != nil {
		h.t.Fatalf("StartProxy: %v", err)
	}
	for _, p := range h.relays(h.cfg.Relay.Count) {
		p.Stdout("ready")
	}
	h.waitState(StateConnected)
}

func (h *harness) load(resource string) Snapshot {
	h.t.Helper()
	url, err := h.ctrl.Load(resource)
	if err != nil {
		h.t.Fatalf("Load(%q): %v", resource, err)
	}
	return h.waitSnapshot("page "+url, func(s Snapshot) bool {
		return s.Loading == "" && s.Page != nil && s.Page.URL == url
	})
}

// waitEvent returns the first event of type T that satisfies match.
func waitEvent[T events.Event](t *testing.T, ch <-chan events.Event, match func(T) bool) T {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case ev := <-ch:
			if e, ok := ev.(T); ok && (match == nil || match(e)) {
				return e
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestNew_InitialSnapshot(t *testing.T) {
	h := newHarness(t, testConfig(), script{})

	s := h.ctrl.Snapshot()
	if s.State != StateNotConnected {
		t.Errorf("State = %s", s.State)
	}
	if s.Message != "You are not connected to the network." {
		t.Errorf("Message = %q", s.Message)
	}
	if s.HistoryIndex != -1 || len(s.History) != 0 || len(s.Roster) != 0 {
		t.Errorf("unexpected initial snapshot: %+v", s)
	}
	if s.NodeCount != 2 {
		t.Errorf("NodeCount = %d", s.NodeCount)
	}
}

func TestNew_InvalidCommand(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.Command = `relay "a`
	if _, err := New(cfg, testutil.NewFakeProcessRunner(), nil, nil); err == nil {
		t.Error("expected error for unparsable relay command")
	}
}

func TestStartProxy_ConnectsWhenRelaysReady(t *testing.T) {
	h := newHarness(t, testConfig(), script{})

	if err := h.ctrl.StartProxy(); err != nil {
		t.Fatalf("StartProxy: %v", err)
	}
	relays := h.relays(2)

	s := h.waitSnapshot("roster seeded", func(s Snapshot) bool { return len(s.Roster) == 2 })
	if s.State != StateConnecting || s.Message != "Connecting.." {
		t.Errorf("before ready: state %s message %q", s.State, s.Message)
	}
	if got := relays[0].Spec.Args; !reflect.DeepEqual(got, []string{"a", "0"}) {
		t.Errorf("relay a args = %q", got)
	}
	if got := relays[1].Spec.Args; !reflect.DeepEqual(got, []string{"b", "1"}) {
		t.Errorf("relay b args = %q", got)
	}

	relays[0].Stdout("ready")
	h.waitSnapshot("relay a ready", func(s Snapshot) bool {
		return len(s.Participants) == 2 && s.Participants[0].Ready
	})
	if h.ctrl.State() != StateConnecting {
		t.Fatal("connected before every relay was ready")
	}

	relays[1].Stdout("ready")
	s = h.waitState(StateConnected)

	if s.Message != "Connected to network." {
		t.Errorf("Message = %q", s.Message)
	}
	for _, addr := range []string{"r1", "r2"} {
		if r, ok := s.Roster.Get(addr); !ok || r.Status != roster.StatusOnline {
			t.Errorf("relay %s = %+v, %v", addr, r, ok)
		}
	}
}

func TestStartProxy_Refused(t *testing.T) {
	h := newHarness(t, testConfig(), script{})

	if err := h.ctrl.StartProxy(); err != nil {
		t.Fatalf("StartProxy: %v", err)
	}
	if err := h.ctrl.StartProxy(); !errors.Is(err, ErrAlreadyConnecting) {
		t.Errorf("second StartProxy = %v, want ErrAlreadyConnecting", err)
	}

	for _, p := range h.relays(2) {
		p.Stdout("ready")
	}
	h.waitState(StateConnected)

	if err := h.ctrl.StartProxy(); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("StartProxy while connected = %v, want ErrAlreadyConnected", err)
	}
	if n := h.runner.StartCount("dir"); n != 1 {
		t.Errorf("directory queried %d times, want 1", n)
	}
}

func TestDirectoryFailure_StatusAndEvent(t *testing.T) {
	h := newHarness(t, testConfig(), script{
		dir: func(int) (testutil.Script, error) {
			return testutil.Script{Stderr: []string{"Directory offline."}, ExitCode: 1}, nil
		},
	})

	if err := h.ctrl.StartProxy(); err != nil {
		t.Fatalf("StartProxy: %v", err)
	}

	ev := waitEvent(t, h.events, func(e *events.DirectoryFailedEvent) bool { return !e.Poll })
	if ev.Reason != "Directory offline." || ev.Failures != 1 || ev.RetryIn != 2*time.Second {
		t.Errorf("event = %+v", ev)
	}

	s := h.waitState(StateNotConnected)
	if s.LastFailure != "Directory offline." {
		t.Errorf("LastFailure = %q", s.LastFailure)
	}
	if s.Message != "Failed to connect to Directory: Directory offline. Retry in 2s.." {
		t.Errorf("Message = %q", s.Message)
	}
	if s.RetryDelay != 2*time.Second || s.RetryIn != 2*time.Second {
		t.Errorf("RetryDelay = %v, RetryIn = %v", s.RetryDelay, s.RetryIn)
	}
	if n := h.runner.StartCount("relay"); n != 0 {
		t.Errorf("%d relays started after a failed query", n)
	}
}

func TestDirectoryFailure_TrailingSpace(t *testing.T) {
	h := newHarness(t, testConfig(), script{
		dir: func(int) (testutil.Script, error) {
			return testutil.Script{Stderr: []string{"Directory offline. "}, ExitCode: 1}, nil
		},
	})

	if err := h.ctrl.StartProxy(); err != nil {
		t.Fatalf("StartProxy: %v", err)
	}

	s := h.waitSnapshot("failure", func(s Snapshot) bool { return s.LastFailure != "" && s.State == StateNotConnected })
	if s.Message != "Failed to connect to Directory: Directory offline. Retry in 2s.." {
		t.Errorf("Message = %q", s.Message)
	}
}

func TestDirectoryFailure_StderrKillsQuery(t *testing.T) {
	h := newHarness(t, testConfig(), script{
		dir: func(int) (testutil.Script, error) {
			return testutil.Script{Stdout: []string{"r1"}, Stderr: []string{"Directory offline."}, Hold: true}, nil
		},
	})

	if err := h.ctrl.StartProxy(); err != nil {
		t.Fatalf("StartProxy: %v", err)
	}
	h.waitState(StateNotConnected)

	dir := h.runner.Last("dir")
	testutil.Eventually(t, waitFor, dir.Killed, "query killed")
	if len(h.ctrl.Snapshot().Roster) != 0 {
		t.Error("partial report must not reach the roster")
	}
}

func TestDirectoryFailure_RetriesWithDoublingDelay(t *testing.T) {
	h := newHarness(t, testConfig(), script{
		dir: func(attempt int) (testutil.Script, error) {
			if attempt <= 3 {
				return testutil.Script{Stderr: []string{"Directory offline."}}, nil
			}
			return testutil.Script{Stdout: []string{"r1"}}, nil
		},
	}, WithTickInterval(time.Millisecond))

	if err := h.ctrl.StartProxy(); err != nil {
		t.Fatalf("StartProxy: %v", err)
	}

	for i, want := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		ev := waitEvent[*events.DirectoryFailedEvent](t, h.events, nil)
		if ev.Failures != i+1 || ev.RetryIn != want {
			t.Errorf("failure %d: failures %d retry in %v, want %v", i+1, ev.Failures, ev.RetryIn, want)
		}
	}

	for _, p := range h.relays(2) {
		p.Stdout("ready")
	}
	s := h.waitState(StateConnected)

	if n := h.runner.StartCount("dir"); n != 4 {
		t.Errorf("directory queried %d times, want 4", n)
	}
	if s.Failures != 0 || s.RetryDelay != time.Second || s.LastFailure != "" {
		t.Errorf("backoff not reset after connecting: %+v", s)
	}
}

func TestStartProxy_SpawnFailure(t *testing.T) {
	h := newHarness(t, testConfig(), script{
		dir: func(int) (testutil.Script, error) { return testutil.Script{}, testutil.ErrStartRefused },
	})

	err := h.ctrl.StartProxy()
	if !errors.Is(err, ErrDirectoryUnavailable) || !errors.Is(err, ErrProcessSpawn) {
		t.Fatalf("StartProxy = %v, want ErrDirectoryUnavailable and ErrProcessSpawn", err)
	}

	s := h.ctrl.Snapshot()
	if s.State != StateNotConnected || s.Failures != 1 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestParticipantExitBeforeReady(t *testing.T) {
	h := newHarness(t, testConfig(), script{})

	if err := h.ctrl.StartProxy(); err != nil {
		t.Fatalf("StartProxy: %v", err)
	}
	relays := h.relays(2)
	relays[0].Stdout("ready")
	relays[1].Exit(1)

	s := h.waitState(StateNotConnected)
	if s.LastFailure != "relay b exited before ready (code 1)" {
		t.Errorf("LastFailure = %q", s.LastFailure)
	}
	if !relays[0].Killed() {
		t.Error("surviving relay was not stopped")
	}
	if len(s.Participants) != 0 {
		t.Errorf("participants = %+v", s.Participants)
	}

	exit := waitEvent[*events.ParticipantExitEvent](t, h.events, nil)
	if exit.Instance != "b" || exit.Code != 1 || exit.Ready {
		t.Errorf("exit event = %+v", exit)
	}
}

func TestReadyTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ReadyTimeout = 100 * time.Millisecond
	h := newHarness(t, cfg, script{})

	if err := h.ctrl.StartProxy(); err != nil {
		t.Fatalf("StartProxy: %v", err)
	}
	relays := h.relays(2)
	relays[0].Stdout("ready")

	s := h.waitState(StateNotConnected)
	if s.LastFailure != "1 of 2 participants not ready after 100ms" {
		t.Errorf("LastFailure = %q", s.LastFailure)
	}
	for _, p := range relays {
		if !p.Killed() {
			t.Error("relay not stopped after timeout")
		}
	}
}

func TestReadyPattern(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.Count = 1
	cfg.Relay.ReadyPattern = `^listening on \d+`
	cfg.Client.Command = "client --serve"
	cfg.Client.ReadyPattern = "^client up"
	h := newHarness(t, cfg, script{})

	if err := h.ctrl.StartProxy(); err != nil {
		t.Fatalf("StartProxy: %v", err)
	}
	relay := h.relays(1)[0]
	var client *testutil.FakeProcess
	testutil.Eventually(t, waitFor, func() bool {
		client = h.runner.Last("client")
		return client != nil
	}, "client started")

	relay.Stdout("booting")
	relay.Stdout("listening on 45000")
	client.Stdout("client up")

	s := h.waitState(StateConnected)
	if len(s.Participants) != 2 || s.Participants[1].Role != events.SourceClient {
		t.Errorf("participants = %+v", s.Participants)
	}
}

func TestParticipantExitWhileConnected(t *testing.T) {
	h := newHarness(t, testConfig(), script{})
	h.connect()

	relays := h.relays(2)
	relays[0].Exit(0)

	s := h.waitState(StateNotConnected)
	if s.LastFailure != "relay a exited (code 0)" {
		t.Errorf("LastFailure = %q", s.LastFailure)
	}
	if !relays[1].Killed() {
		t.Error("remaining relay not stopped")
	}
	if s.RetryIn != 2*time.Second {
		t.Errorf("RetryIn = %v, want a retry scheduled", s.RetryIn)
	}
}

func TestRosterPoll_MarksMissingRelaysOffline(t *testing.T) {
	cfg := testConfig()
	cfg.Directory.PollInterval = 10 * time.Millisecond
	h := newHarness(t, cfg, script{
		dir: func(attempt int) (testutil.Script, error) {
			if attempt == 1 {
				return testutil.Script{Stdout: []string{"r1", "r2"}}, nil
			}
			return testutil.Script{Stdout: []string{"r2"}}, nil
		},
	})
	h.connect()

	s := h.waitSnapshot("r1 offline", func(s Snapshot) bool {
		r, ok := s.Roster.Get("r1")
		return ok && r.Status == roster.StatusOffline
	})

	if s.State != StateConnected {
		t.Errorf("State = %s", s.State)
	}
	if r, _ := s.Roster.Get("r2"); r.Status != roster.StatusOnline {
		t.Errorf("r2 = %+v", r)
	}
	if got := s.Roster.Addresses(); !reflect.DeepEqual(got, []string{"r1", "r2"}) {
		t.Errorf("roster order = %q", got)
	}

	change := waitEvent(t, h.events, func(e *events.RelayChangedEvent) bool { return e.Change == "offline" })
	if change.Address != "r1" {
		t.Errorf("offline event for %q", change.Address)
	}
}

func TestRosterPoll_FailureKeepsConnection(t *testing.T) {
	cfg := testConfig()
	cfg.Directory.PollInterval = 10 * time.Millisecond
	h := newHarness(t, cfg, script{
		dir: func(attempt int) (testutil.Script, error) {
			if attempt == 1 {
				return testutil.Script{Stdout: []string{"r1", "r2"}}, nil
			}
			return testutil.Script{Stderr: []string{"Directory offline."}, ExitCode: 1}, nil
		},
	})
	h.connect()

	ev := waitEvent(t, h.events, func(e *events.DirectoryFailedEvent) bool { return e.Poll })
	if ev.Reason != "Directory offline." {
		t.Errorf("Reason = %q", ev.Reason)
	}

	s := h.ctrl.Snapshot()
	if s.State != StateConnected || s.LastFailure != "" {
		t.Errorf("poll failure changed the connection: %+v", s)
	}
	if len(s.Roster.Online()) != 2 {
		t.Errorf("roster changed: %+v", s.Roster)
	}
}

func TestLoad_NotConnectedIsNoOp(t *testing.T) {
	h := newHarness(t, testConfig(), script{})

	_, err := h.ctrl.Load("example.com")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Load = %v, want ErrNotConnected", err)
	}

	s := h.ctrl.Snapshot()
	if len(s.History) != 0 || s.HistoryIndex != -1 || s.State != StateNotConnected {
		t.Errorf("snapshot changed: %+v", s)
	}
	if n := h.runner.StartCount("fetch"); n != 0 {
		t.Errorf("fetch started %d times", n)
	}
}

func TestLoad_FetchesThroughClient(t *testing.T) {
	h := newHarness(t, testConfig(), script{})
	h.connect()

	s := h.load("  example.com/path ")

	if s.Page.Content != "hi" || s.Page.StatusCode != 200 || s.Page.RequestID == "" {
		t.Errorf("page = %+v", s.Page)
	}
	if !reflect.DeepEqual(s.History, []string{"http://example.com/path"}) || s.HistoryIndex != 0 {
		t.Errorf("history = %q @ %d", s.History, s.HistoryIndex)
	}
	if got := h.runner.Last("fetch").Spec.Args; !reflect.DeepEqual(got, []string{"http://example.com/path"}) {
		t.Errorf("fetch args = %q", got)
	}
	if s.Message != "Connected to network." {
		t.Errorf("Message = %q", s.Message)
	}

	done := waitEvent[*events.LoadDoneEvent](t, h.events, nil)
	if done.RequestID != s.Page.RequestID || done.StatusCode != 200 {
		t.Errorf("load event = %+v", done)
	}
}

func TestLoad_InvalidResource(t *testing.T) {
	h := newHarness(t, testConfig(), script{})
	h.connect()

	if _, err := h.ctrl.Load("   "); !errors.Is(err, history.ErrEmptyResource) {
		t.Errorf("Load(blank) = %v", err)
	}
	if len(h.ctrl.Snapshot().History) != 0 {
		t.Error("invalid resource recorded in history")
	}
}

func TestLoad_LoadingStatus(t *testing.T) {
	h := newHarness(t, testConfig(), script{
		fetch: func(int, runner.Spec) (testutil.Script, error) { return testutil.Script{Hold: true}, nil },
	})
	h.connect()

	url, err := h.ctrl.Load("example.com")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := h.ctrl.Snapshot()
	if s.Loading != url || s.Message != "Loading http://example.com.." {
		t.Errorf("loading = %q, message = %q", s.Loading, s.Message)
	}

	fetch := h.runner.Last("fetch")
	fetch.Stdout("raw page")
	fetch.Exit(0)

	s = h.waitSnapshot("page", func(s Snapshot) bool { return s.Page != nil })
	if s.Page.Content != "raw page" || s.Page.StatusCode != 0 {
		t.Errorf("page = %+v", s.Page)
	}
	if s.Message != "Connected to network." {
		t.Errorf("Message = %q", s.Message)
	}
}

func TestLoad_Failure(t *testing.T) {
	tests := []struct {
		name   string
		script testutil.Script
		want   string
	}{
		{"stderr", testutil.Script{Stdout: []string{"partial"}, Stderr: []string{"circuit failed"}}, "circuit failed"},
		{"exit code", testutil.Script{ExitCode: 3}, "client exited with code 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), script{
				fetch: func(int, runner.Spec) (testutil.Script, error) { return tt.script, nil },
			})
			h.connect()

			if _, err := h.ctrl.Load("example.com"); err != nil {
				t.Fatalf("Load: %v", err)
			}
			s := h.waitSnapshot("load error", func(s Snapshot) bool { return s.LoadError != "" })

			if s.LoadError != tt.want || s.Page != nil {
				t.Errorf("LoadError = %q, page = %+v", s.LoadError, s.Page)
			}
			if s.State != StateConnected {
				t.Errorf("State = %s", s.State)
			}
			if len(s.History) != 1 {
				t.Errorf("history = %q", s.History)
			}
		})
	}
}

func TestLoad_NewerFetchSupersedes(t *testing.T) {
	h := newHarness(t, testConfig(), script{
		fetch: func(int, runner.Spec) (testutil.Script, error) { return testutil.Script{Hold: true}, nil },
	})
	h.connect()

	if _, err := h.ctrl.Load("a.com"); err != nil {
		t.Fatal(err)
	}
	first := h.runner.Last("fetch")
	if _, err := h.ctrl.Load("b.com"); err != nil {
		t.Fatal(err)
	}
	second := h.runner.Last("fetch")

	if !first.Killed() {
		t.Error("superseded fetch not killed")
	}
	second.Stdout(`{"content":"b","status code":200}`)
	second.Exit(0)

	s := h.waitSnapshot("page b", func(s Snapshot) bool { return s.Page != nil })
	if s.Page.URL != "http://b.com" || s.Page.Content != "b" {
		t.Errorf("page = %+v", s.Page)
	}
}

func TestLoad_TruncatesResponse(t *testing.T) {
	cfg := testConfig()
	cfg.Client.MaxResponseBytes = 8
	h := newHarness(t, cfg, script{
		fetch: func(int, runner.Spec) (testutil.Script, error) {
			return testutil.Script{Stdout: []string{"hello", "world"}}, nil
		},
	})
	h.connect()

	s := h.load("example.com")
	if s.Page.Content != "hello\nwo" || !s.Page.Truncated {
		t.Errorf("page = %+v", s.Page)
	}
}

func TestNavigateHistory(t *testing.T) {
	h := newHarness(t, testConfig(), script{})
	h.connect()

	for _, r := range []string{"a.com", "b.com", "c.com"} {
		h.load(r)
	}

	url, err := h.ctrl.NavigateHistory(-1)
	if err != nil || url != "http://b.com" {
		t.Fatalf("NavigateHistory(-1) = %q, %v", url, err)
	}
	s := h.waitSnapshot("index 1", func(s Snapshot) bool { return s.HistoryIndex == 1 && s.Page != nil })
	if s.Page.URL != "http://b.com" || !s.CanBack() || !s.CanForward() {
		t.Errorf("after back: %+v", s)
	}

	if _, err := h.ctrl.NavigateHistory(5); !errors.Is(err, history.ErrInvalidNavigation) {
		t.Errorf("NavigateHistory(5) = %v", err)
	}

	s = h.load("d.com")
	want := []string{"http://a.com", "http://b.com", "http://d.com"}
	if !reflect.DeepEqual(s.History, want) || s.HistoryIndex != 2 {
		t.Errorf("history = %q @ %d, want %q @ 2", s.History, s.HistoryIndex, want)
	}
}

func TestNavigateHistory_StacksPendingMoves(t *testing.T) {
	h := newHarness(t, testConfig(), script{
		fetch: func(attempt int, spec runner.Spec) (testutil.Script, error) {
			if attempt > 3 {
				return testutil.Script{Hold: true}, nil
			}
			return testutil.Script{Stdout: []string{`{"content":"hi","status code":200}`}}, nil
		},
	})
	h.connect()
	for _, r := range []string{"a.com", "b.com", "c.com"} {
		h.load(r)
	}

	if url, err := h.ctrl.NavigateHistory(-1); err != nil || url != "http://b.com" {
		t.Fatalf("first back = %q, %v", url, err)
	}
	first := h.runner.Last("fetch")
	url, err := h.ctrl.NavigateHistory(-1)
	if err != nil || url != "http://a.com" {
		t.Fatalf("second back = %q, %v", url, err)
	}
	second := h.runner.Last("fetch")
	if !first.Killed() {
		t.Error("first move's fetch not killed")
	}

	if _, err := h.ctrl.NavigateHistory(-1); !errors.Is(err, history.ErrInvalidNavigation) {
		t.Errorf("third back = %v, want ErrInvalidNavigation", err)
	}

	second.Stdout(`{"content":"a","status code":200}`)
	second.Exit(0)

	s := h.waitSnapshot("page a", func(s Snapshot) bool { return s.Page != nil && s.Loading == "" })
	if s.HistoryIndex != 0 || s.Page.URL != "http://a.com" {
		t.Errorf("index = %d, page = %+v", s.HistoryIndex, s.Page)
	}
}

func TestNavigateHistory_FailedFetchKeepsIndex(t *testing.T) {
	h := newHarness(t, testConfig(), script{
		fetch: func(attempt int, _ runner.Spec) (testutil.Script, error) {
			if attempt == 3 {
				return testutil.Script{Stderr: []string{"circuit failed"}}, nil
			}
			return testutil.Script{Stdout: []string{"ok"}}, nil
		},
	})
	h.connect()
	h.load("a.com")
	h.load("b.com")

	if _, err := h.ctrl.NavigateHistory(-1); err != nil {
		t.Fatal(err)
	}
	s := h.waitSnapshot("load error", func(s Snapshot) bool { return s.LoadError != "" })
	if s.HistoryIndex != 1 {
		t.Errorf("HistoryIndex = %d, want 1", s.HistoryIndex)
	}
}

func TestStartProxy_PassesEnv(t *testing.T) {
	cfg := testConfig()
	cfg.Env = []string{"PYTHONUNBUFFERED=1"}
	h := newHarness(t, cfg, script{})
	h.connect()
	h.load("a.com")

	for _, name := range []string{"dir", "relay", "fetch"} {
		p := h.runner.Last(name)
		if !reflect.DeepEqual(p.Spec.Env, cfg.Env) {
			t.Errorf("%s env = %q", name, p.Spec.Env)
		}
	}
}

func TestNavigateHistory_RangeCheckedFirst(t *testing.T) {
	h := newHarness(t, testConfig(), script{})

	if _, err := h.ctrl.NavigateHistory(1); !errors.Is(err, history.ErrInvalidNavigation) {
		t.Errorf("NavigateHistory on empty history = %v", err)
	}

	h.connect()
	h.load("a.com")
	if _, err := h.ctrl.NavigateHistory(1); !errors.Is(err, history.ErrInvalidNavigation) {
		t.Errorf("NavigateHistory(1) on [A] = %v", err)
	}
	if s := h.ctrl.Snapshot(); s.HistoryIndex != 0 {
		t.Errorf("HistoryIndex = %d", s.HistoryIndex)
	}
}

func TestSetNodeCount(t *testing.T) {
	h := newHarness(t, testConfig(), script{})

	if err := h.ctrl.SetNodeCount(0); !errors.Is(err, ErrInvalidNodeCount) {
		t.Errorf("SetNodeCount(0) = %v", err)
	}
	if err := h.ctrl.SetNodeCount(3); err != nil {
		t.Fatalf("SetNodeCount(3) = %v", err)
	}
	if err := h.ctrl.StartProxy(); err != nil {
		t.Fatal(err)
	}

	relays := h.relays(3)
	var names []string
	for _, p := range relays {
		names = append(names, p.Spec.Args[0])
	}
	if !reflect.DeepEqual(names, []string{"a", "b", "c"}) {
		t.Errorf("instances = %q", names)
	}
	if h.ctrl.Snapshot().NodeCount != 3 {
		t.Error("NodeCount not published")
	}
}

func TestStop(t *testing.T) {
	r := testutil.NewFakeProcessRunner()
	r.OnStart(script{}.start)
	ctrl, err := New(testConfig(), r, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), WithTickInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- ctrl.Run(context.Background()) }()

	if err := ctrl.StartProxy(); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, waitFor, func() bool { return r.StartCount("relay") == 2 }, "relays started")

	ctrl.Stop()
	ctrl.Stop()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Stop")
	}

	for _, p := range r.Processes("relay") {
		if !p.Killed() {
			t.Error("relay left running after Stop")
		}
	}
	if ctrl.State() != StateNotConnected {
		t.Errorf("State = %s", ctrl.State())
	}
	if err := ctrl.StartProxy(); !errors.Is(err, ErrStopped) {
		t.Errorf("StartProxy after stop = %v", err)
	}
	if err := ctrl.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		failure string
		retryIn time.Duration
		loading string
		want    string
	}{
		{"idle", StateNotConnected, "", 0, "", "You are not connected to the network."},
		{"connecting", StateConnecting, "old", 0, "", "Connecting.."},
		{"failed", StateNotConnected, "Directory offline.", 3 * time.Second, "", "Failed to connect to Directory: Directory offline. Retry in 3s.."},
		{"failed console output", StateNotConnected, "Directory offline. \n", 2 * time.Second, "", "Failed to connect to Directory: Directory offline. Retry in 2s.."},
		{"failed no period", StateNotConnected, "exit 1", time.Second, "", "Failed to connect to Directory: exit 1. Retry in 1s.."},
		{"connected", StateConnected, "", 0, "", "Connected to network."},
		{"loading", StateConnected, "", 0, "http://a.com", "Loading http://a.com.."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusMessage(tt.state, tt.failure, tt.retryIn, tt.loading); got != tt.want {
				t.Errorf("StatusMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		body     string
		wantBody string
		wantCode int
	}{
		{`{"content":"<html></html>","status code":200}`, "<html></html>", 200},
		{`{"content":"","status code":404}`, "", 404},
		{`{"other":1}`, `{"other":1}`, 0},
		{"plain text", "plain text", 0},
	}
	for _, tt := range tests {
		body, code := parseResponse(tt.body)
		if body != tt.wantBody || code != tt.wantCode {
			t.Errorf("parseResponse(%q) = %q, %d", tt.body, body, code)
		}
	}
}

func TestSnapshotHelpers(t *testing.T) {
	s := Snapshot{History: []string{"a", "b"}, HistoryIndex: 1, State: StateConnected}
	if !s.Connected() || s.CurrentURL() != "b" || !s.CanBack() || s.CanForward() {
		t.Errorf("helpers wrong for %+v", s)
	}
	empty := Snapshot{HistoryIndex: -1}
	if empty.CurrentURL() != "" || empty.CanBack() || empty.CanForward() {
		t.Error("helpers wrong for empty history")
	}
}
