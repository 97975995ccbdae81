package undostack

import "testing"

func TestPushPopOrder(t *testing.T) {
	s := New[int](128)
	s.Push(1)
	s.Push(2)
	s.Push(3)

	for _, want := range []int{3, 2, 1} {
		got, ok := s.Pop()
		if !ok {
			t.Fatalf("Pop returned ok=false, wanted %d", want)
		}
		if got != want {
			t.Errorf("Pop = %d, want %d", got, want)
		}
	}

	if _, ok := s.Pop(); ok {
		t.Error("Pop on an empty stack should return ok=false")
	}
}

func TestPushDropsOldestWhenOverCapacity(t *testing.T) {
	s := New[int](3)
	s.Push(1)
	s.Push(2)
	s.Push(3)
	s.Push(4) // should drop 1

	if got := s.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	var popped []int
	for {
		v, ok := s.Pop()
		if !ok {
			break
		}
		popped = append(popped, v)
	}
	want := []int{4, 3, 2}
	if len(popped) != len(want) {
		t.Fatalf("popped %v, want %v", popped, want)
	}
	for i := range want {
		if popped[i] != want[i] {
			t.Errorf("popped[%d] = %d, want %d", i, popped[i], want[i])
		}
	}
}

func TestClearEmptiesStack(t *testing.T) {
	s := New[string](128)
	s.Push("a")
	s.Push("b")
	s.Clear()
	if got := s.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
	if _, ok := s.Pop(); ok {
		t.Error("Pop after Clear should return ok=false")
	}
}

func TestNewDefaultsCapacityWhenNonPositive(t *testing.T) {
	s := New[int](0)
	for i := 0; i < 200; i++ {
		s.Push(i)
	}
	if got := s.Len(); got != 128 {
		t.Errorf("Len() = %d, want default cap 128", got)
	}
}
