// Package locations supplies the registry of known incident locations: the
// directory sources, an explicit in-process cache and a lookup index.
package locations

import (
	"context"
	"slices"

	"meldung/internal"
	"meldung/internal/util"
)

// Directory is any source of location records.
type Directory interface {
	ListLocations(ctx context.Context) ([]internal.LocationRecord, error)
}

// DirectoryFunc adapts a plain function to Directory.
type DirectoryFunc func(ctx context.Context) ([]internal.LocationRecord, error)

func (f DirectoryFunc) ListLocations(ctx context.Context) ([]internal.LocationRecord, error) {
	return f(ctx)
}

type StaticDirectory struct {
	records []internal.LocationRecord
}

func NewStaticDirectory(records []internal.LocationRecord) *StaticDirectory {
	return &StaticDirectory{records: slices.Clone(records)}
}

func (d *StaticDirectory) ListLocations(ctx context.Context) ([]internal.LocationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(d.records), nil
}

// DefaultSeed is the starter registry shipped with the application.
func DefaultSeed() []internal.LocationRecord {
	const bw = "Baden-Württemberg"
	seed := func(id int, name, city, postal, address string) internal.LocationRecord {
		return internal.LocationRecord{
			ID: id, Name: name, City: city, State: bw,
			PostalCode: util.StringPtr(postal), Address: util.StringPtr(address),
		}
	}
	return []internal.LocationRecord{
		seed(1, "Hessental", "Schwäbisch Hall", "74523", "Hessentaler Str. 25"),
		seed(2, "Heilbronn", "Heilbronn", "74072", "Karlstraße 108"),
		seed(3, "Stuttgart Mitte", "Stuttgart", "70173", "Hauptstätter Str. 70"),
		seed(4, "Stuttgart Nord", "Stuttgart", "70191", "Wolframstraße 54"),
		seed(5, "Stuttgart West", "Stuttgart", "70197", "Bebelstraße 22"),
		seed(6, "Stuttgart Ost", "Stuttgart", "70188", "Landhausstraße 110"),
		seed(7, "Stuttgart Süd", "Stuttgart", "70178", "Hohenheimer Str. 10"),
		seed(8, "Mannheim", "Mannheim", "68161", "L4, 16"),
		seed(9, "Karlsruhe", "Karlsruhe", "76133", "Beiertheimer Allee 16"),
		seed(10, "Freiburg", "Freiburg", "79098", "Heinrich-von-Stephan-Str. 4"),
	}
}
