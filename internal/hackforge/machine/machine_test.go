package machine

import (
	"regexp"
	"sync"
	"testing"

	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
)

func TestNewIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-f]{16}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID failed: %v", err)
		}
		if !re.MatchString(id) {
			t.Fatalf("malformed machine id: %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate machine id: %s", id)
		}
		seen[id] = true
	}
}

func TestNewFlagFormat(t *testing.T) {
	re := regexp.MustCompile(`^HKF\{[0-9a-f]{32}\}$`)

	flag, err := NewFlag("HKF")
	if err != nil {
		t.Fatalf("NewFlag failed: %v", err)
	}
	if !re.MatchString(flag) {
		t.Errorf("malformed flag: %s", flag)
	}

	other, err := NewFlag("HKF")
	if err != nil {
		t.Fatalf("NewFlag failed: %v", err)
	}
	if flag == other {
		t.Error("two generated flags are identical")
	}
}

func TestNewDatabasePassword(t *testing.T) {
	pass, err := NewDatabasePassword()
	if err != nil {
		t.Fatalf("NewDatabasePassword failed: %v", err)
	}
	if len(pass) != 24 {
		t.Errorf("expected 24-character password, got %d", len(pass))
	}
}

func TestPortAllocatorSequential(t *testing.T) {
	alloc := NewPortAllocator(30000, 30002)

	for _, want := range []int{30000, 30001, 30002} {
		got, err := alloc.Reserve()
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if got != want {
			t.Errorf("Reserve: got %d, want %d", got, want)
		}
	}

	if _, err := alloc.Reserve(); !hferrors.Is(err, hferrors.ErrNoFreePorts) {
		t.Errorf("expected ErrNoFreePorts, got %v", err)
	}

	alloc.Release(30001)
	got, err := alloc.Reserve()
	if err != nil {
		t.Fatalf("Reserve after release failed: %v", err)
	}
	if got != 30001 {
		t.Errorf("expected released port 30001, got %d", got)
	}
}

func TestPortAllocatorMarkUsed(t *testing.T) {
	alloc := NewPortAllocator(30000, 30001)
	alloc.MarkUsed(30000)
	alloc.MarkUsed(99999) // out of range, ignored

	got, err := alloc.Reserve()
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if got != 30001 {
		t.Errorf("expected 30001, got %d", got)
	}
}

func TestPortAllocatorConcurrentUnique(t *testing.T) {
	const workers = 50
	alloc := NewPortAllocator(30000, 30000+workers-1)

	var (
		mu    sync.Mutex
		ports = make(map[int]bool)
		wg    sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := alloc.Reserve()
			if err != nil {
				t.Errorf("Reserve failed: %v", err)
				return
			}
			mu.Lock()
			if ports[port] {
				t.Errorf("port %d allocated twice", port)
			}
			ports[port] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ports) != workers {
		t.Errorf("expected %d distinct ports, got %d", workers, len(ports))
	}
}
