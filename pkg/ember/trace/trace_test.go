package trace

import "testing"

func TestEmitInvokesInstalledHandler(t *testing.T) {
	var got Event
	called := false
	Set(func(ev Event) {
		called = true
		got = ev
	})
	defer Set(nil)

	Emit(Event{Name: "pager.spill", Pgno: 7, Detail: "test"})
	if !called {
		t.Fatal("handler was not invoked")
	}
	if got.Name != "pager.spill" || got.Pgno != 7 {
		t.Fatalf("got event %+v, want Name=pager.spill Pgno=7", got)
	}
}

func TestEmitWithNoHandlerIsNoop(t *testing.T) {
	Set(nil)
	Emit(Event{Name: "noop"}) // must not panic
}
