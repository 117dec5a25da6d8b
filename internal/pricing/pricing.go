package pricing

import "math"

// Service quotes a fare from distance using a fixed tariff. Deliveries add a
// per-kilogram surcharge.
type Service struct {
	BaseFareVND int64
	PerKMVND    int64
	PerKGVND    int64
}

func (s Service) Quote(distanceKM, weightKG float64) int64 {
	if distanceKM < 0 {
		distanceKM = 0
	}
	if weightKG < 0 {
		weightKG = 0
	}
	fare := float64(s.BaseFareVND) + distanceKM*float64(s.PerKMVND) + weightKG*float64(s.PerKGVND)
	return int64(math.Ceil(fare))
}
