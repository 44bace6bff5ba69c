package world

import (
	"fmt"
	"math/rand/v2"

	"epicore/internal/rates"
)

// Subgroup indices of the group specs built here.
const (
	HouseholdKids        = 0
	HouseholdYoungAdults = 1
	HouseholdAdults      = 2
	HouseholdOldAdults   = 3

	SchoolTeachers = 0
	SchoolStudents = 1

	CareHomeWorkers   = 0
	CareHomeResidents = 1

	HospitalWorkers     = 0
	HospitalPatients    = 1
	HospitalICUPatients = 2
)

// SubgroupCounts is the number of subgroups per group spec.
var SubgroupCounts = map[string]int{
	SpecHousehold: 4,
	SpecCareHome:  2,
	SpecSchool:    2,
	SpecCompany:   1,
	SpecHospital:  3,
	SpecPub:       1,
	SpecCinema:    1,
	SpecGym:       1,
	SpecGrocery:   1,
}

var sectors = []string{"office", "retail", "manufacturing", "hospitality", "construction"}

// SyntheticOptions sizes a generated demo population.
type SyntheticOptions struct {
	Regions                 []string
	SuperAreasPerRegion     int
	HouseholdsPerSuperArea  int
	MaxHouseholdSize        int
	CareHomesPerSuperArea   int
	CareHomeResidents       int
	SchoolsPerSuperArea     int
	CompaniesPerSuperArea   int
	VenuesPerSuperArea      int
	HospitalsPerRegion      int
	EmploymentRate          float64
}

// DefaultSyntheticOptions is a small two-region world.
func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{
		Regions:                []string{"North East", "London"},
		SuperAreasPerRegion:    3,
		HouseholdsPerSuperArea: 120,
		MaxHouseholdSize:       5,
		CareHomesPerSuperArea:  1,
		CareHomeResidents:      20,
		SchoolsPerSuperArea:    1,
		CompaniesPerSuperArea:  6,
		VenuesPerSuperArea:     2,
		HospitalsPerRegion:     1,
		EmploymentRate:         0.75,
	}
}

type builder struct {
	r       *rand.Rand
	people  []*Person
	groups  []*Group
	nextPID int
}

func (b *builder) group(spec, region, superArea string) *Group {
	g := NewGroup(len(b.groups), spec, region, superArea, SubgroupCounts[spec])
	b.groups = append(b.groups, g)
	return g
}

func (b *builder) person(age int, region, superArea string) *Person {
	sex := rates.Male
	if b.r.IntN(2) == 1 {
		sex = rates.Female
	}
	p := &Person{
		ID:             b.nextPID,
		Age:            age,
		Sex:            sex,
		Region:         region,
		SuperArea:      superArea,
		Susceptibility: 1,
		HospitalID:     -1,
	}
	b.nextPID++
	b.people = append(b.people, p)
	return p
}

func householdSubgroup(age int) int {
	switch {
	case age < 18:
		return HouseholdKids
	case age < 26:
		return HouseholdYoungAdults
	case age < 65:
		return HouseholdAdults
	}
	return HouseholdOldAdults
}

// Synthetic generates a reproducible demo world from opts.
func Synthetic(opts SyntheticOptions, r *rand.Rand) (*World, error) {
	if len(opts.Regions) == 0 || opts.SuperAreasPerRegion <= 0 || opts.HouseholdsPerSuperArea <= 0 {
		return nil, fmt.Errorf("synthetic world needs regions, super areas and households")
	}
	if opts.MaxHouseholdSize <= 0 {
		opts.MaxHouseholdSize = 1
	}
	b := &builder{r: r}

	for _, region := range opts.Regions {
		var hospitals []*Group
		for i := 0; i < opts.HospitalsPerRegion; i++ {
			hospitals = append(hospitals, b.group(SpecHospital, region, ""))
		}

		for sa := 0; sa < opts.SuperAreasPerRegion; sa++ {
			superArea := fmt.Sprintf("%s/%d", region, sa)

			var schools, companies, careHomes []*Group
			for i := 0; i < opts.SchoolsPerSuperArea; i++ {
				schools = append(schools, b.group(SpecSchool, region, superArea))
			}
			for i := 0; i < opts.CompaniesPerSuperArea; i++ {
				companies = append(companies, b.group(SpecCompany, region, superArea))
			}
			for i := 0; i < opts.CareHomesPerSuperArea; i++ {
				careHomes = append(careHomes, b.group(SpecCareHome, region, superArea))
			}
			for _, spec := range []string{SpecPub, SpecCinema, SpecGym, SpecGrocery} {
				for i := 0; i < opts.VenuesPerSuperArea; i++ {
					b.group(spec, region, superArea)
				}
			}

			for h := 0; h < opts.HouseholdsPerSuperArea; h++ {
				hh := b.group(SpecHousehold, region, superArea)
				size := 1 + r.IntN(opts.MaxHouseholdSize)
				for k := 0; k < size; k++ {
					age := 18 + r.IntN(72)
					if k > 0 && r.Float64() < 0.5 {
						age = r.IntN(18)
					}
					p := b.person(age, region, superArea)
					p.Residence = hh.Subgroups[householdSubgroup(age)]
					p.Residence.Add(p)
				}
			}

			for _, ch := range careHomes {
				for k := 0; k < opts.CareHomeResidents; k++ {
					p := b.person(65+r.IntN(36), region, superArea)
					p.Residence = ch.Subgroups[CareHomeResidents]
					p.Residence.Add(p)
				}
			}
		}

		b.assignPrimary(region, hospitals, opts)
	}
	return New(b.people, b.groups), nil
}

// assignPrimary routes the region's residents to schools, care-home and
// hospital jobs, and companies.
func (b *builder) assignPrimary(region string, hospitals []*Group, opts SyntheticOptions) {
	bySuperArea := make(map[string]map[string][]*Group)
	for _, g := range b.groups {
		if g.Region != region || g.SuperArea == "" {
			continue
		}
		if bySuperArea[g.SuperArea] == nil {
			bySuperArea[g.SuperArea] = make(map[string][]*Group)
		}
		bySuperArea[g.SuperArea][g.Spec] = append(bySuperArea[g.SuperArea][g.Spec], g)
	}

	for _, p := range b.people {
		if p.Region != region || p.Primary != nil || p.CareHomeResident() {
			continue
		}
		local := bySuperArea[p.SuperArea]
		switch {
		case p.Age >= 4 && p.Age < 18 && len(local[SpecSchool]) > 0:
			school := local[SpecSchool][b.r.IntN(len(local[SpecSchool]))]
			p.Primary = school.Subgroups[SchoolStudents]
		case p.Age >= 18 && p.Age < 65 && b.r.Float64() < opts.EmploymentRate:
			p.Primary = b.job(p, local, hospitals)
		}
		if p.Primary != nil {
			p.Primary.Add(p)
		}
	}
}

func (b *builder) job(p *Person, local map[string][]*Group, hospitals []*Group) *Subgroup {
	u := b.r.Float64()
	switch {
	case u < 0.05 && len(local[SpecSchool]) > 0:
		p.Sector = "education"
		return local[SpecSchool][b.r.IntN(len(local[SpecSchool]))].Subgroups[SchoolTeachers]
	case u < 0.08 && len(local[SpecCareHome]) > 0:
		p.Sector = "healthcare"
		return local[SpecCareHome][b.r.IntN(len(local[SpecCareHome]))].Subgroups[CareHomeWorkers]
	case u < 0.12 && len(hospitals) > 0:
		p.Sector = "healthcare"
		return hospitals[b.r.IntN(len(hospitals))].Subgroups[HospitalWorkers]
	case len(local[SpecCompany]) > 0:
		p.Sector = sectors[b.r.IntN(len(sectors))]
		return local[SpecCompany][b.r.IntN(len(local[SpecCompany]))].Subgroups[0]
	}
	return nil
}

// Hospitals returns the hospital groups in ID order.
func (w *World) Hospitals() []*Group {
	var out []*Group
	for _, g := range w.Groups {
		if g.Spec == SpecHospital {
			out = append(out, g)
		}
	}
	return out
}
