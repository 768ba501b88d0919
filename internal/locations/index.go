package locations

import (
	"meldung/internal"
	"meldung/internal/util"
)

// Index answers lookups by id and by normalized name.
type Index struct {
	ByID   map[int]internal.LocationRecord
	ByName map[string][]internal.LocationRecord
	ByCity map[string][]internal.LocationRecord
}

func BuildIndex(records []internal.LocationRecord) *Index {
	idx := &Index{
		ByID:   map[int]internal.LocationRecord{},
		ByName: map[string][]internal.LocationRecord{},
		ByCity: map[string][]internal.LocationRecord{},
	}
	for _, rec := range records {
		idx.ByID[rec.ID] = rec
		if name := util.NormalizeName(rec.Name); name != "" {
			idx.ByName[name] = append(idx.ByName[name], rec)
		}
		if city := util.NormalizeName(rec.City); city != "" {
			idx.ByCity[city] = append(idx.ByCity[city], rec)
		}
	}
	return idx
}

func (idx *Index) Get(id int) (internal.LocationRecord, bool) {
	rec, ok := idx.ByID[id]
	return rec, ok
}

// FindByName returns the single location whose normalized name equals name.
// Ambiguous names report false.
func (idx *Index) FindByName(name string) (internal.LocationRecord, bool) {
	hits := idx.ByName[util.NormalizeName(name)]
	if len(hits) != 1 {
		return internal.LocationRecord{}, false
	}
	return hits[0], true
}

func (idx *Index) InCity(city string) []internal.LocationRecord {
	return idx.ByCity[util.NormalizeName(city)]
}
