package ledger_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/dreamworks2050/dvd-archiver/internal/ledger"
)

func pipeline() []ledger.StepDef {
	return []ledger.StepDef{
		{Name: "detect", Label: "Detect device"},
		{Name: "acquire", Label: "Image disc"},
		{Name: "checksum", Label: "Compute SHA-256"},
		{Name: "parity", Label: "Create parity", Optional: true},
		{Name: "eject", Label: "Eject disc", Cleanup: true},
	}
}

func TestStepsExecuteInDeclaredOrder(t *testing.T) {
	l := ledger.New(pipeline())

	if err := l.Begin("acquire"); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("out-of-order Begin = %v, want ErrInvalidTransition", err)
	}

	if err := l.Begin("detect"); err != nil {
		t.Fatalf("Begin detect failed: %v", err)
	}
	if err := l.Begin("acquire"); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("Begin while prior running = %v, want ErrInvalidTransition", err)
	}
	if err := l.Complete("detect", "/dev/sr0"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := l.Begin("acquire"); err != nil {
		t.Fatalf("Begin acquire failed: %v", err)
	}
	if err := l.Begin("acquire"); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("double Begin = %v, want ErrInvalidTransition", err)
	}
}

func TestFailureBlocksPrimaryStepsButAllowsCleanup(t *testing.T) {
	l := ledger.New(pipeline())
	mustBegin(t, l, "detect")
	mustComplete(t, l, "detect")
	mustBegin(t, l, "acquire")

	if err := l.Fail("acquire", "no artifact produced"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if !l.Failed() {
		t.Fatal("ledger should be marked failed")
	}
	if err := l.Begin("checksum"); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("primary step after failure = %v, want ErrInvalidTransition", err)
	}
	if err := l.Begin("eject"); err != nil {
		t.Fatalf("cleanup step after failure should begin: %v", err)
	}
	if l.Succeeded() {
		t.Fatal("failed ledger must not report success")
	}
}

func TestOptionalSkipStillSucceeds(t *testing.T) {
	l := ledger.New(pipeline())
	for _, name := range []string{"detect", "acquire", "checksum"} {
		mustBegin(t, l, name)
		mustComplete(t, l, name)
	}
	if err := l.Skip("parity", "dvdisaster not available"); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	mustBegin(t, l, "eject")
	mustComplete(t, l, "eject")

	if !l.Succeeded() {
		t.Fatal("ledger with optional skip should succeed")
	}
}

func TestRequiredSkipDoesNotCountAsSuccess(t *testing.T) {
	l := ledger.New(pipeline())
	mustBegin(t, l, "detect")
	if err := l.Skip("detect", "skipping required step"); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	for _, name := range []string{"acquire", "checksum"} {
		mustBegin(t, l, name)
		mustComplete(t, l, name)
	}
	if err := l.Skip("parity", "unavailable"); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	mustBegin(t, l, "eject")
	mustComplete(t, l, "eject")

	if l.Succeeded() {
		t.Fatal("skipping a required step must not report success")
	}
}

func TestInitializeResetsBetweenUnits(t *testing.T) {
	l := ledger.New(pipeline())
	mustBegin(t, l, "detect")
	if err := l.Fail("detect", "boom"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	l.Initialize(pipeline())
	if l.Failed() {
		t.Fatal("Initialize should clear the failure flag")
	}
	for _, step := range l.Snapshot() {
		if step.Status != ledger.StatusPending {
			t.Fatalf("step %q = %s after reset, want pending", step.Name, step.Status)
		}
	}
}

func TestSnapshotIsSafeDuringMutation(t *testing.T) {
	l := ledger.New(pipeline())
	mustBegin(t, l, "detect")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				snap := l.Snapshot()
				if len(snap) != 5 {
					t.Errorf("snapshot length = %d", len(snap))
					return
				}
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		l.SetMessage("detect", "probing")
	}
	close(stop)
	wg.Wait()
}

func mustBegin(t *testing.T, l *ledger.Ledger, name string) {
	t.Helper()
	if err := l.Begin(name); err != nil {
		t.Fatalf("Begin %q failed: %v", name, err)
	}
}

func mustComplete(t *testing.T, l *ledger.Ledger, name string) {
	t.Helper()
	if err := l.Complete(name, "ok"); err != nil {
		t.Fatalf("Complete %q failed: %v", name, err)
	}
}
