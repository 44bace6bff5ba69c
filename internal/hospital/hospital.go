// Package hospital tracks ward and ICU bed capacity. Beds are a shared finite
// resource: admission is a compare-and-set against remaining capacity and a
// full hospital rejects rather than queues.
package hospital

import (
	"sort"
	"sync"
)

// Outcome is the result of an admission request.
type Outcome int

const (
	Admitted Outcome = iota
	AlreadyAdmitted
	Transferred
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case AlreadyAdmitted:
		return "already_admitted"
	case Transferred:
		return "transferred"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Hospital is one facility with ward and ICU beds.
type Hospital struct {
	ID     int
	Region string

	mu      sync.Mutex
	beds    int
	icuBeds int
	ward    map[int]struct{}
	icu     map[int]struct{}
}

// New creates a hospital. Negative capacities are clamped to zero.
func New(id int, region string, beds, icuBeds int) *Hospital {
	h := &Hospital{
		ID:     id,
		Region: region,
		ward:   make(map[int]struct{}),
		icu:    make(map[int]struct{}),
	}
	h.SetCapacity(beds, icuBeds)
	return h
}

// SetCapacity changes bed counts. Shrinking never evicts current patients;
// it only blocks new admissions until occupancy falls.
func (h *Hospital) SetCapacity(beds, icuBeds int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if beds < 0 {
		beds = 0
	}
	if icuBeds < 0 {
		icuBeds = 0
	}
	h.beds, h.icuBeds = beds, icuBeds
}

// Capacity returns the configured ward and ICU bed counts.
func (h *Hospital) Capacity() (beds, icuBeds int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beds, h.icuBeds
}

// Occupancy returns the number of occupied ward and ICU beds.
func (h *Hospital) Occupancy() (ward, icu int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ward), len(h.icu)
}

// Overloaded reports whether every ward bed is taken.
func (h *Hospital) Overloaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ward) >= h.beds
}

// Admit requests a ward or ICU bed for a person. A patient moving up to ICU
// keeps their ward bed when ICU is full; a patient stepping down from ICU
// keeps the ICU bed when the ward is full.
func (h *Hospital) Admit(personID int, intensive bool) Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, inWard := h.ward[personID]
	_, inICU := h.icu[personID]

	switch {
	case intensive && inICU, !intensive && inWard:
		return AlreadyAdmitted
	case intensive && inWard:
		if len(h.icu) >= h.icuBeds {
			return Rejected
		}
		delete(h.ward, personID)
		h.icu[personID] = struct{}{}
		return Transferred
	case !intensive && inICU:
		if len(h.ward) >= h.beds {
			return AlreadyAdmitted
		}
		delete(h.icu, personID)
		h.ward[personID] = struct{}{}
		return Transferred
	case intensive:
		if len(h.icu) >= h.icuBeds {
			return Rejected
		}
		h.icu[personID] = struct{}{}
		return Admitted
	default:
		if len(h.ward) >= h.beds {
			return Rejected
		}
		h.ward[personID] = struct{}{}
		return Admitted
	}
}

// Release frees whatever bed the person holds. It reports whether one was held.
func (h *Hospital) Release(personID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, inWard := h.ward[personID]
	_, inICU := h.icu[personID]
	delete(h.ward, personID)
	delete(h.icu, personID)
	return inWard || inICU
}

// Hospitals allocates patients across facilities, preferring the patient's
// own region.
type Hospitals struct {
	list     []*Hospital
	byRegion map[string][]*Hospital

	mu       sync.Mutex
	patients map[int]*Hospital
}

// NewHospitals indexes hs by region, keeping ID order within each region.
func NewHospitals(hs ...*Hospital) *Hospitals {
	list := append([]*Hospital(nil), hs...)
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	out := &Hospitals{
		list:     list,
		byRegion: make(map[string][]*Hospital),
		patients: make(map[int]*Hospital),
	}
	for _, h := range list {
		out.byRegion[h.Region] = append(out.byRegion[h.Region], h)
	}
	return out
}

// All returns the hospitals in ID order.
func (hs *Hospitals) All() []*Hospital { return hs.list }

// Get returns the hospital with id.
func (hs *Hospitals) Get(id int) (*Hospital, bool) {
	for _, h := range hs.list {
		if h.ID == id {
			return h, true
		}
	}
	return nil, false
}

// Allocate admits a person to a ward or ICU bed. A patient already in a
// hospital is handled by that hospital; otherwise regional hospitals are
// tried first, then the rest. The returned hospital is nil on rejection
// of a new patient.
func (hs *Hospitals) Allocate(personID int, region string, intensive bool) (*Hospital, Outcome) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if h, ok := hs.patients[personID]; ok {
		return h, h.Admit(personID, intensive)
	}
	tried := make(map[*Hospital]bool)
	candidates := append(append([]*Hospital(nil), hs.byRegion[region]...), hs.list...)
	for _, h := range candidates {
		if tried[h] {
			continue
		}
		tried[h] = true
		if out := h.Admit(personID, intensive); out == Admitted {
			hs.patients[personID] = h
			return h, out
		}
	}
	return nil, Rejected
}

// Release discharges a person from whichever hospital holds them.
func (hs *Hospitals) Release(personID int) (*Hospital, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	h, ok := hs.patients[personID]
	if !ok {
		return nil, false
	}
	delete(hs.patients, personID)
	h.Release(personID)
	return h, true
}

// SetCapacity applies the same bed counts to every hospital.
func (hs *Hospitals) SetCapacity(beds, icuBeds int) {
	for _, h := range hs.list {
		h.SetCapacity(beds, icuBeds)
	}
}

// Occupancy sums ward and ICU occupancy.
func (hs *Hospitals) Occupancy() (ward, icu int) {
	for _, h := range hs.list {
		w, i := h.Occupancy()
		ward += w
		icu += i
	}
	return ward, icu
}
