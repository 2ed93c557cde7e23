package novelty

import (
	"sync"
	"testing"
)

func TestFilter_Accept(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		texts []string
		want  []bool
	}{
		{
			name:  "blank is rejected",
			texts: []string{"", "   "},
			want:  []bool{false, false},
		},
		{
			name:  "first text is new",
			texts: []string{"good morning"},
			want:  []bool{true},
		},
		{
			name:  "exact repeat ignoring case and spacing",
			texts: []string{"Good morning everyone", "good  MORNING everyone"},
			want:  []bool{true, false},
		},
		{
			name:  "near repeat",
			texts: []string{"the train leaves at nine", "the train leaves at nine."},
			want:  []bool{true, false},
		},
		{
			name:  "reordered words add nothing",
			texts: []string{"leaves the train now", "now the train leaves"},
			want:  []bool{true, false},
		},
		{
			name:  "different sentence",
			texts: []string{"good morning", "where is the station"},
			want:  []bool{true, true},
		},
		{
			name:  "rejected text does not replace the reference",
			texts: []string{"hello there", "hello there", "completely unrelated words"},
			want:  []bool{true, false, true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := New(DefaultThreshold)
			for i, text := range tt.texts {
				if got := f.Accept(text); got != tt.want[i] {
					t.Errorf("Accept(%q) = %v, want %v", text, got, tt.want[i])
				}
			}
		})
	}
}

func TestFilter_Reset(t *testing.T) {
	t.Parallel()

	f := New(0)
	if !f.Accept("bonjour") {
		t.Fatal("first Accept rejected")
	}
	f.Reset()
	if !f.Accept("bonjour") {
		t.Error("Accept after Reset rejected a previously seen text")
	}
}

func TestNew_InvalidThreshold(t *testing.T) {
	t.Parallel()

	for _, th := range []float64{0, -1, 1.5} {
		if got := New(th).threshold; got != DefaultThreshold {
			t.Errorf("New(%v).threshold = %v, want default", th, got)
		}
	}
}

func TestFilter_ConcurrentAccept(t *testing.T) {
	t.Parallel()

	f := New(DefaultThreshold)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Accept("same sentence every time") {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Errorf("accepted %d identical texts, want 1", accepted)
	}
}
