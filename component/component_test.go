package component

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// mockComponent implements Component for testing.
type mockComponent struct {
	name       string
	startErr   error
	stopErr    error
	health     Health
	startOrder *[]string
	stopOrder  *[]string
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.startOrder != nil {
		*m.startOrder = append(*m.startOrder, m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health {
	return m.health
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry(nil)
	if r == nil {
		t.Fatal("expected non-nil registry")
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry(nil)
	c := &mockComponent{name: "database", health: Health{Name: "database", Status: StatusHealthy}}

	if err := r.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	c := &mockComponent{name: "database"}
	r.Register(c)

	err := r.Register(&mockComponent{name: "database"})
	if err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestGet(t *testing.T) {
	r := NewRegistry(nil)
	c := &mockComponent{name: "database"}
	r.Register(c)

	got := r.Get("database")
	if got == nil {
		t.Fatal("expected to get registered component")
	}
	if got.Name() != "database" {
		t.Errorf("expected 'database', got %q", got.Name())
	}
}

func TestGetNotFound(t *testing.T) {
	r := NewRegistry(nil)
	got := r.Get("missing")
	if got != nil {
		t.Error("expected nil for unregistered component")
	}
}

func TestStartAll(t *testing.T) {
	r := NewRegistry(nil)
	order := []string{}

	r.Register(&mockComponent{
		name: "database", startOrder: &order,
		health: Health{Name: "database", Status: StatusHealthy},
	})
	r.Register(&mockComponent{
		name: "redis", startOrder: &order,
		health: Health{Name: "redis", Status: StatusHealthy},
	})

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	if len(order) != 2 {
		t.Fatalf("expected 2 starts, got %d", len(order))
	}
	if order[0] != "database" || order[1] != "redis" {
		t.Errorf("expected start order [database, redis], got %v", order)
	}
}

func TestStartAllError(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&mockComponent{name: "database", startErr: fmt.Errorf("connection refused")})

	err := r.StartAll(context.Background())
	if err == nil {
		t.Error("expected error from StartAll")
	}
}

func TestStopAllReverseOrder(t *testing.T) {
	r := NewRegistry(nil)
	order := []string{}

	r.Register(&mockComponent{name: "database", stopOrder: &order, health: Health{Name: "database", Status: StatusHealthy}})
	r.Register(&mockComponent{name: "redis", stopOrder: &order, health: Health{Name: "redis", Status: StatusHealthy}})
	r.Register(&mockComponent{name: "storage", stopOrder: &order, health: Health{Name: "storage", Status: StatusHealthy}})

	r.StartAll(context.Background())
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	if len(order) != 3 {
		t.Fatalf("expected 3 stops, got %d", len(order))
	}
	if order[0] != "storage" || order[1] != "redis" || order[2] != "database" {
		t.Errorf("expected reverse stop order [storage, redis, database], got %v", order)
	}
}

func TestStopAllSkipsUnstarted(t *testing.T) {
	r := NewRegistry(nil)
	order := []string{}
	r.Register(&mockComponent{name: "database", stopOrder: &order})

	// Don't start, then stop
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("expected 0 stops for unstarted components, got %d", len(order))
	}
}

func TestStopAllWithErrors(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&mockComponent{
		name: "database", stopErr: fmt.Errorf("stop failed"),
		health: Health{Name: "database", Status: StatusHealthy},
	})
	r.StartAll(context.Background())

	err := r.StopAll(context.Background())
	if err == nil {
		t.Error("expected error from StopAll")
	}
}

func TestHealthAll(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&mockComponent{
		name:   "database",
		health: Health{Name: "database", Status: StatusHealthy, Message: "connected"},
	})
	r.Register(&mockComponent{
		name:   "redis",
		health: Health{Name: "redis", Status: StatusUnhealthy, Message: "timeout"},
	})

	results := r.HealthAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != StatusHealthy {
		t.Errorf("expected database healthy, got %s", results[0].Status)
	}
	if results[1].Status != StatusUnhealthy {
		t.Errorf("expected redis unhealthy, got %s", results[1].Status)
	}
}

func TestHealthConstructors(t *testing.T) {
	tests := []struct {
		got    Health
		status HealthStatus
		msg    string
	}{
		{Healthy("db", "open=1"), StatusHealthy, "open=1"},
		{Disabled("redis"), StatusHealthy, "disabled"},
		{Unhealthy("storage", "not started"), StatusUnhealthy, "not started"},
	}
	for _, tt := range tests {
		if tt.got.Status != tt.status || tt.got.Message != tt.msg || tt.got.Name == "" {
			t.Errorf("%+v, want %s %q", tt.got, tt.status, tt.msg)
		}
	}
}

func TestLazy(t *testing.T) {
	count := 0
	lc := NewLazy("model-registry", func(ctx context.Context) error {
		count++
		return nil
	})
	if lc.Name() != "model-registry" || lc.Ready() {
		t.Fatalf("fresh lazy component: name=%q ready=%v", lc.Name(), lc.Ready())
	}
	if err := lc.Check(context.Background()); err == nil {
		t.Error("expected check to fail before initialization")
	}

	for i := 0; i < 2; i++ {
		if err := lc.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	if count != 1 || !lc.Ready() {
		t.Errorf("initializer calls = %d, ready = %v", count, lc.Ready())
	}
	if err := lc.Check(context.Background()); err != nil {
		t.Errorf("Check after init: %v", err)
	}
}

func TestLazyOptions(t *testing.T) {
	closed := false
	lc := NewLazy("svc", func(ctx context.Context) error { return nil },
		WithCheck(func(ctx context.Context) error { return fmt.Errorf("degraded") }),
		WithClose(func() error {
			closed = true
			return nil
		}),
	)

	if err := lc.Close(); err != nil || closed {
		t.Fatalf("closing an uninitialized component must not call the closer: %v %v", err, closed)
	}
	_ = lc.Initialize(context.Background())
	if err := lc.Check(context.Background()); err == nil {
		t.Error("expected custom check error")
	}
	if err := lc.Close(); err != nil || !closed {
		t.Fatalf("Close: %v, closed = %v", err, closed)
	}
	if lc.Ready() {
		t.Error("expected not ready after close")
	}
}

func TestStopAllJoinsErrors(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&mockComponent{name: "database", stopErr: fmt.Errorf("db stop failed")})
	r.Register(&mockComponent{name: "redis", stopErr: fmt.Errorf("redis stop failed")})
	r.StartAll(context.Background())

	err := r.StopAll(context.Background())
	if err == nil {
		t.Fatal("expected error from StopAll")
	}
	msg := err.Error()
	if !strings.Contains(msg, "db stop failed") || !strings.Contains(msg, "redis stop failed") {
		t.Errorf("expected both stop errors, got %q", msg)
	}
}

func TestLazyRetriesAfterFailure(t *testing.T) {
	calls := 0
	lc := NewLazy("model-registry", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("connection refused")
		}
		return nil
	})

	if err := lc.Initialize(context.Background()); err == nil {
		t.Fatal("expected first initialization to fail")
	}
	if lc.Ready() {
		t.Fatal("failed initialization must not mark the component ready")
	}
	if err := lc.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("initializer calls = %d, want 2", calls)
	}
}

func TestStartAllFailureStopsStartedOnly(t *testing.T) {
	r := NewRegistry(nil)
	var stopped []string
	r.Register(&mockComponent{name: "storage", stopOrder: &stopped})
	r.Register(&mockComponent{name: "warehouse", startErr: fmt.Errorf("locked"), stopOrder: &stopped})
	r.Register(&mockComponent{name: "history", stopOrder: &stopped})

	if err := r.StartAll(context.Background()); err == nil || !strings.Contains(err.Error(), "start warehouse") {
		t.Fatalf("StartAll = %v", err)
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(stopped) != 1 || stopped[0] != "storage" {
		t.Errorf("stopped = %v", stopped)
	}
}
