package substrate

import "testing"

type fakeCloser struct {
	closed int
	err    error
}

func (f *fakeCloser) Close() error {
	f.closed++
	return f.err
}

func TestLifecycleReverseOrder(t *testing.T) {
	var order []string
	lc := NewLifecycle(nil)

	for _, name := range []string{"relay", "mesh", "pulse"} {
		name := name
		lc.Register(name, closerFunc(func() error {
			order = append(order, name)
			return nil
		}))
	}

	if err := lc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{"pulse", "mesh", "relay"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestLifecycleCloseIdempotent(t *testing.T) {
	fc := &fakeCloser{}
	lc := NewLifecycle(nil)
	lc.Register("thing", fc)

	if err := lc.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := lc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if fc.closed != 1 {
		t.Fatalf("closed = %d, want 1", fc.closed)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
