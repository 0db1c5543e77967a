package model

import (
	"math"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rascheck/internal/rastext"
)

// Derived attributes recover the values rules actually cite from the raw
// tables: the three standard Manning's n zones, bridge low-chord and
// opening figures, pier blockage. A derived value whose inputs include an
// unparsable token is recorded as null so rules on it surface an error
// instead of silently passing.

func nullable(n rastext.NullableNumber) cty.Value {
	if !n.Valid {
		return cty.NullVal(cty.Number)
	}
	return cty.NumberFloatVal(n.Value)
}

func (b *builder) deriveCrossSection(e *Entity, r *rastext.RawRecord, file string) error {
	set := func(name string, v cty.Value) error { return b.setText(e, name, v, file) }

	if ec := r.Numbers("exp_cntr"); len(ec) >= 2 {
		if err := set("expansion", nullable(ec[0])); err != nil {
			return err
		}
		if err := set("contraction", nullable(ec[1])); err != nil {
			return err
		}
	}

	banks := r.Numbers("bank_stations")
	if len(banks) >= 2 {
		if err := set("bank_left", nullable(banks[0])); err != nil {
			return err
		}
		if err := set("bank_right", nullable(banks[1])); err != nil {
			return err
		}
	}

	// Manning regions are (n, start station, flag) triples. Left overbank
	// is the first region, right overbank the last, and the channel the
	// first region starting at or past the left bank station.
	regions := r.Numbers("manning_regions")
	if len(regions) >= 3 {
		count := len(regions) / 3
		if err := set("manning_n_left", nullable(regions[0])); err != nil {
			return err
		}
		if err := set("manning_n_right", nullable(regions[(count-1)*3])); err != nil {
			return err
		}
		channel := regions[(count-1)*3]
		if len(banks) >= 2 && banks[0].Valid {
			for i := 0; i < count; i++ {
				sta := regions[i*3+1]
				if sta.Valid && sta.Value >= banks[0].Value {
					channel = regions[i*3]
					break
				}
			}
		}
		if err := set("manning_n_channel", nullable(channel)); err != nil {
			return err
		}
	}

	if se := r.Numbers("station_elevation"); len(se) >= 2 {
		min := rastext.NullableNumber{}
		for i := 1; i < len(se); i += 2 {
			if !se[i].Valid {
				continue
			}
			if !min.Valid || se[i].Value < min.Value {
				min = se[i]
			}
		}
		if min.Valid {
			if err := set("min_elevation", cty.NumberFloatVal(min.Value)); err != nil {
				return err
			}
		}
	}

	if lv := r.Numbers("levee_table"); len(lv) >= 2 {
		if err := set("has_levee", cty.True); err != nil {
			return err
		}
	} else if lv := r.Numbers("levee"); len(lv) >= 2 {
		if err := set("has_levee", cty.True); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) deriveBridge(e *Entity, r *rastext.RawRecord, file string) error {
	set := func(name string, v cty.Value) error { return b.setText(e, name, v, file) }

	// Deck points are (station, high chord, low chord) triples.
	deck := r.Numbers("deck_roadway")
	lowChord := rastext.NullableNumber{}
	sawLow := false
	for i := 2; i < len(deck); i += 3 {
		sawLow = true
		if !deck[i].Valid {
			lowChord = rastext.NullableNumber{}
			break
		}
		if !lowChord.Valid || deck[i].Value < lowChord.Value {
			lowChord = deck[i]
		}
	}
	if sawLow {
		if err := set("min_low_chord", nullable(lowChord)); err != nil {
			return err
		}
	}

	if us := r.Numbers("us_boundary_sta"); len(us) >= 2 {
		if us[0].Valid && us[1].Valid {
			if err := set("opening_width", cty.NumberFloatVal(math.Abs(us[1].Value-us[0].Value))); err != nil {
				return err
			}
		} else {
			if err := set("opening_width", cty.NullVal(cty.Number)); err != nil {
				return err
			}
		}
	}

	if wc := r.Numbers("weir_coef"); len(wc) >= 2 {
		if err := set("us_weir_coef", nullable(wc[0])); err != nil {
			return err
		}
		if err := set("ds_weir_coef", nullable(wc[1])); err != nil {
			return err
		}
	}
	if dd := r.Numbers("deck_dist"); len(dd) >= 2 {
		if err := set("us_dist", nullable(dd[0])); err != nil {
			return err
		}
		if err := set("ds_dist", nullable(dd[1])); err != nil {
			return err
		}
	}

	piers := pierGroups(r)
	if err := set("pier_count_actual", cty.NumberIntVal(int64(len(piers)))); err != nil {
		return err
	}
	if sawLow && lowChord.Valid {
		total := 0.0
		for _, p := range piers {
			total += p.widthAt(lowChord.Value)
		}
		if err := set("total_pier_width", cty.NumberFloatVal(total)); err != nil {
			return err
		}
	}
	return nil
}

// pier collects the per-pier keyword group that repeats inside a bridge
// block. A "Pier Skew" line starts a new pier; the center stations and the
// elevation/width table that follow belong to it.
type pier struct {
	elevations []float64 // (elevation, width) pairs, invalid pairs dropped
}

func (p pier) widthAt(elevation float64) float64 {
	pts := p.elevations
	if len(pts) < 2 {
		return 0
	}
	if elevation <= pts[0] {
		return pts[1]
	}
	last := len(pts) - 2
	if elevation >= pts[last] {
		return pts[last+1]
	}
	for i := 0; i+3 < len(pts); i += 2 {
		lo, loW := pts[i], pts[i+1]
		hi, hiW := pts[i+2], pts[i+3]
		if lo <= elevation && elevation <= hi && hi > lo {
			frac := (elevation - lo) / (hi - lo)
			return loW + frac*(hiW-loW)
		}
	}
	return pts[last+1]
}

func pierGroups(r *rastext.RawRecord) []pier {
	var piers []pier
	var cur *pier
	for _, f := range r.Fields {
		switch f.Name {
		case "pier_skew":
			piers = append(piers, pier{})
			cur = &piers[len(piers)-1]
		case "pier_elev":
			if cur == nil || f.Value.IsNull() || !f.Value.Type().IsListType() {
				continue
			}
			var flat []float64
			valid := true
			for it := f.Value.ElementIterator(); it.Next(); {
				_, ev := it.Element()
				if ev.IsNull() {
					valid = false
					break
				}
				v, _ := ev.AsBigFloat().Float64()
				flat = append(flat, v)
			}
			if valid && len(flat) >= 2 {
				cur.elevations = append(cur.elevations, flat...)
			}
		}
	}
	return piers
}
