package system

import (
	"context"
	"errors"
	"testing"
)

type recorder struct {
	name    string
	failing bool
	log     *[]string
}

func (r recorder) Name() string { return r.name }

func (r recorder) Start(context.Context) error {
	if r.failing {
		return errors.New("boom")
	}
	*r.log = append(*r.log, "start:"+r.name)
	return nil
}

func (r recorder) Stop(context.Context) error {
	*r.log = append(*r.log, "stop:"+r.name)
	return nil
}

func TestManagerOrdering(t *testing.T) {
	var log []string
	m := NewManager()
	for _, name := range []string{"a", "b"} {
		if err := m.Register(recorder{name: name, log: &log}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if err := m.Register(recorder{name: "a", log: &log}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "late"}); err == nil {
		t.Fatalf("expected error registering after start")
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
}

func TestManagerStartFailureStopsStarted(t *testing.T) {
	var log []string
	m := NewManager()
	_ = m.Register(recorder{name: "a", log: &log})
	_ = m.Register(recorder{name: "b", failing: true, log: &log})

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	if len(log) != 2 || log[0] != "start:a" || log[1] != "stop:a" {
		t.Fatalf("unexpected log %v", log)
	}
}
