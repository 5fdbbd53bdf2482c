package decoders

import "time"

// MessageTime derives the report time of m. Types 4 and 11 carry a full UTC
// stamp; position reports carry only the second within the minute, which
// replaces the second of arrival. A stamp that would land after arrival is
// taken to belong to the previous minute. Everything else uses arrival.
func MessageTime(m Message, arrival time.Time) time.Time {
	arrival = arrival.UTC()
	if bs, ok := m.(BaseStationReport); ok {
		if t, ok := bs.UTC(); ok {
			return t
		}
		return arrival
	}
	fix, ok := PositionOf(m)
	if !ok || fix.Second < 0 || fix.Second >= secondNA {
		return arrival
	}
	t := arrival.Truncate(time.Minute).Add(time.Duration(fix.Second) * time.Second)
	if t.After(arrival) {
		t = t.Add(-time.Minute)
	}
	return t
}
