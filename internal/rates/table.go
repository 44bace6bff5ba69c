// Package rates holds the age/sex-stratified infection outcome rates and the
// per-profile health index derived from them.
package rates

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"epicore/internal/simerr"
)

type Sex string

const (
	Male   Sex = "male"
	Female Sex = "female"
)

// ParseSex accepts "m", "f", "male" and "female" in any case.
func ParseSex(s string) (Sex, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male":
		return Male, nil
	case "f", "female":
		return Female, nil
	}
	return "", fmt.Errorf("unknown sex %q", s)
}

// Population selects which rate family applies to a person.
type Population string

const (
	General  Population = "gp"
	CareHome Population = "ch"
)

type ageBin struct{ lo, hi int }

type column struct {
	pop   Population
	param string
	sex   Sex
}

// Table is a piecewise-constant rate table over inclusive age bins.
type Table struct {
	bins []ageBin
	cols map[column][]float64
}

// LoadFile reads a rate table from a CSV file.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rates: %w", err)
	}
	defer f.Close()

	t, err := LoadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadCSV parses a rate table. The first column holds age bins written as
// "[lo,hi]" or "lo-hi"; every other column is named
// <population>_<parameter>_<sex>, e.g. gp_hospital_ifr_female.
func LoadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, simerr.Configf("rates.header", err, "a CSV header row")
	}
	if len(header) < 2 || strings.TrimSpace(header[0]) != "age" {
		return nil, simerr.Config("rates.header", "first column 'age'", strings.Join(header, ","))
	}

	t := &Table{cols: make(map[column][]float64)}
	keys := make([]column, len(header))
	for i, name := range header[1:] {
		c, err := parseColumn(name)
		if err != nil {
			return nil, err
		}
		if _, dup := t.cols[c]; dup {
			return nil, simerr.Config("rates.header."+name, "unique column", "duplicate")
		}
		t.cols[c] = nil
		keys[i+1] = c
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, simerr.Configf(fmt.Sprintf("rates.line%d", line), err, "a well-formed CSV row")
		}
		bin, err := parseBin(rec[0])
		if err != nil {
			return nil, simerr.Configf(fmt.Sprintf("rates.line%d.age", line), err, "an age bin [lo,hi]")
		}
		if n := len(t.bins); n > 0 && bin.lo <= t.bins[n-1].hi {
			return nil, simerr.Config(fmt.Sprintf("rates.line%d.age", line), "ascending non-overlapping bins",
				fmt.Sprintf("[%d,%d] after [%d,%d]", bin.lo, bin.hi, t.bins[n-1].lo, t.bins[n-1].hi))
		}
		t.bins = append(t.bins, bin)
		for i := 1; i < len(rec); i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, simerr.Configf(fmt.Sprintf("rates.line%d.%s", line, header[i]), err, "a number")
			}
			if v < 0 || v > 1 {
				return nil, simerr.Config(fmt.Sprintf("rates.line%d.%s", line, header[i]), "a probability in [0,1]", rec[i])
			}
			t.cols[keys[i]] = append(t.cols[keys[i]], v)
		}
	}
	if len(t.bins) == 0 {
		return nil, simerr.Config("rates", "at least one age bin", "none")
	}
	return t, nil
}

func parseColumn(name string) (column, error) {
	name = strings.TrimSpace(name)
	first := strings.IndexByte(name, '_')
	last := strings.LastIndexByte(name, '_')
	if first <= 0 || last <= first {
		return column{}, simerr.Config("rates.header."+name, "<population>_<parameter>_<sex>", name)
	}
	pop := Population(name[:first])
	if pop != General && pop != CareHome {
		return column{}, simerr.Config("rates.header."+name, "population gp or ch", string(pop))
	}
	sex, err := ParseSex(name[last+1:])
	if err != nil {
		return column{}, simerr.Configf("rates.header."+name, err, "sex male or female")
	}
	return column{pop: pop, param: name[first+1 : last], sex: sex}, nil
}

func parseBin(s string) (ageBin, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	sep := ","
	if !strings.Contains(s, sep) {
		sep = "-"
	}
	lo, hi, ok := strings.Cut(s, sep)
	if !ok {
		return ageBin{}, fmt.Errorf("malformed bin %q", s)
	}
	l, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return ageBin{}, err
	}
	h, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return ageBin{}, err
	}
	if h < l {
		return ageBin{}, fmt.Errorf("bin upper bound %d below lower bound %d", h, l)
	}
	return ageBin{lo: l, hi: h}, nil
}

// binIndex clamps ages outside the table to the first or last bin.
func (t *Table) binIndex(age int) int {
	i := sort.Search(len(t.bins), func(i int) bool { return t.bins[i].hi >= age })
	if i == len(t.bins) {
		return len(t.bins) - 1
	}
	return i
}

// MaxAge is the upper bound of the last bin.
func (t *Table) MaxAge() int { return t.bins[len(t.bins)-1].hi }

// Has reports whether the table carries param for pop and both sexes.
func (t *Table) Has(pop Population, param string) bool {
	_, m := t.cols[column{pop, param, Male}]
	_, f := t.cols[column{pop, param, Female}]
	return m && f
}

// Rate returns the general-population rate of param for age and sex.
func (t *Table) Rate(param string, age int, sex Sex) (float64, error) {
	return t.RateFor(General, param, age, sex)
}

// RateFor returns the rate of param for a population, age and sex.
func (t *Table) RateFor(pop Population, param string, age int, sex Sex) (float64, error) {
	vals, ok := t.cols[column{pop, param, sex}]
	if !ok {
		return 0, simerr.Config(fmt.Sprintf("rates.%s_%s_%s", pop, param, sex), "a rate column", "none")
	}
	return vals[t.binIndex(age)], nil
}
