package progress

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu       sync.Mutex
	started  uint64
	advances []uint64
	final    uint64
	finished bool
}

func (r *recordingObserver) Start(total uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = total
}

func (r *recordingObserver) Advance(pos, _ uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advances = append(r.advances, pos)
}

func (r *recordingObserver) Finish(pos, _ uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = pos
	r.finished = true
}

func TestTotal(t *testing.T) {
	tests := []struct {
		units  int
		weight uint64
		want   uint64
	}{
		{2, 1, 5},
		{0, 1, 1},
		{10, 3, 63},
	}
	for _, tt := range tests {
		if got := Total(tt.units, tt.weight); got != tt.want {
			t.Errorf("Total(%d, %d) = %d, want %d", tt.units, tt.weight, got, tt.want)
		}
	}
}

func TestAggregator_SumsConcurrentProducers(t *testing.T) {
	const workers, perWorker = 4, 25
	obs := &recordingObserver{}
	agg := NewAggregator(Total(workers*perWorker/2, 1), workers, obs)

	ctx := context.Background()
	result := make(chan uint64, 1)
	go func() { result <- agg.Run(ctx) }()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				if err := Send(ctx, agg.Events(), 1, false); err != nil {
					t.Errorf("send: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	// Persistence step, then terminal.
	_ = Send(ctx, agg.Events(), 1, false)
	agg.Finish(ctx)

	pos := <-result
	if pos != agg.Total() {
		t.Errorf("final position = %d, want %d", pos, agg.Total())
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.started != agg.Total() || !obs.finished || obs.final != pos {
		t.Errorf("observer saw start=%d finished=%v final=%d", obs.started, obs.finished, obs.final)
	}
	for i := 1; i < len(obs.advances); i++ {
		if obs.advances[i] <= obs.advances[i-1] {
			t.Fatalf("position not increasing at %d: %v", i, obs.advances)
		}
	}
}

func TestAggregator_ClampsAtTotal(t *testing.T) {
	agg := NewAggregator(3, 1, nil)
	ctx := context.Background()
	go agg.Run(ctx)

	for range 5 {
		_ = Send(ctx, agg.Events(), 1, false)
	}
	agg.Finish(ctx)

	if agg.Position() != 3 {
		t.Errorf("position = %d, want 3", agg.Position())
	}
}

func TestAggregator_StopsOnCancel(t *testing.T) {
	agg := NewAggregator(10, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go agg.Run(ctx)
	cancel()

	select {
	case <-agg.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("aggregator did not stop on cancel")
	}

	// A producer must not block forever once the consumer is gone.
	for range 10 {
		_ = Send(ctx, agg.Events(), 1, false)
	}
}

func TestReporter_Output(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(Options{Output: &buf, Label: "EURUSD 2001-2002", Workers: 2, MinInterval: time.Nanosecond})

	r.Start(5)
	r.Advance(3, 5)
	r.Finish(5, 5)

	out := buf.String()
	for _, want := range []string{
		"[histdata] EURUSD 2001-2002 | Workers: 2 | Steps: 5",
		"Progress:  60% | 3/5",
		"Progress: 100% | 5/5 | Complete!",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m 30s"},
		{3723 * time.Second, "1h 2m 3s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
