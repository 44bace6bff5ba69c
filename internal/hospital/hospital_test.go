package hospital

import (
	"sync"
	"testing"
)

func TestAdmitRejectsWhenFull(t *testing.T) {
	h := New(1, "London", 1, 0)
	if got := h.Admit(10, false); got != Admitted {
		t.Fatalf("expected admitted, got %v", got)
	}
	if got := h.Admit(11, false); got != Rejected {
		t.Fatalf("expected rejected at full capacity, got %v", got)
	}
	if !h.Overloaded() {
		t.Fatal("expected hospital to report overloaded")
	}
	if got := h.Admit(10, false); got != AlreadyAdmitted {
		t.Fatalf("expected already admitted, got %v", got)
	}

	h.Release(10)
	if got := h.Admit(11, false); got != Admitted {
		t.Fatalf("expected admission after release, got %v", got)
	}
}

func TestICUTransferKeepsWardBedWhenFull(t *testing.T) {
	h := New(1, "London", 2, 1)
	h.Admit(1, true)
	h.Admit(2, false)

	if got := h.Admit(2, true); got != Rejected {
		t.Fatalf("expected ICU transfer rejected, got %v", got)
	}
	if ward, icu := h.Occupancy(); ward != 1 || icu != 1 {
		t.Fatalf("expected ward=1 icu=1, got ward=%d icu=%d", ward, icu)
	}

	h.Release(1)
	if got := h.Admit(2, true); got != Transferred {
		t.Fatalf("expected transfer once ICU frees, got %v", got)
	}
	if got := h.Admit(2, false); got != Transferred {
		t.Fatalf("expected step-down to ward, got %v", got)
	}
}

func TestSetCapacityClampsAndNeverEvicts(t *testing.T) {
	h := New(1, "London", 3, 0)
	h.Admit(1, false)
	h.Admit(2, false)
	h.SetCapacity(-4, -1)

	if beds, icu := h.Capacity(); beds != 0 || icu != 0 {
		t.Fatalf("expected clamped capacity 0/0, got %d/%d", beds, icu)
	}
	if ward, _ := h.Occupancy(); ward != 2 {
		t.Fatalf("expected existing patients kept, got %d", ward)
	}
}

func TestAllocatePrefersRegionThenFallsBack(t *testing.T) {
	north := New(1, "North East", 1, 0)
	london := New(2, "London", 1, 0)
	hs := NewHospitals(london, north)

	h, out := hs.Allocate(100, "London", false)
	if out != Admitted || h != london {
		t.Fatalf("expected London admission, got %v at %v", out, h)
	}
	h, out = hs.Allocate(101, "London", false)
	if out != Admitted || h != north {
		t.Fatalf("expected overflow to North East, got %v at %v", out, h)
	}
	if h, out = hs.Allocate(102, "London", false); out != Rejected || h != nil {
		t.Fatalf("expected rejection when all full, got %v", out)
	}

	if h, ok := hs.Release(100); !ok || h != london {
		t.Fatal("expected release from London")
	}
	if ward, _ := hs.Occupancy(); ward != 1 {
		t.Fatalf("expected 1 occupied ward bed, got %d", ward)
	}
}

func TestConcurrentAdmissionsNeverExceedCapacity(t *testing.T) {
	h := New(1, "London", 25, 0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if h.Admit(id, false) == Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if admitted != 25 {
		t.Fatalf("expected exactly 25 admissions, got %d", admitted)
	}
}
