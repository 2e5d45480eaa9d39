package matcher

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/pkg/ticketing"
)

const earthRadiusM = 6_371_000.0

func point(lat, lng float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326)
}

// haversineM returns the great-circle distance between two lon/lat points.
func haversineM(a, b *geom.Point) float64 {
	lat1 := a.Y() * math.Pi / 180
	lat2 := b.Y() * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.X() - a.X()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// rankCandidates drops tickets outside radiusM, orders the rest nearest
// first (ticket ID breaks ties) and keeps at most limit. Tickets without
// coordinates are kept at the radius so they rank last.
func rankCandidates(origin *geom.Point, tickets []ticketing.Ticket, radiusM float64, limit int) []model.Candidate {
	out := make([]model.Candidate, 0, len(tickets))
	for _, t := range tickets {
		dist := radiusM
		if t.Lat != 0 || t.Lng != 0 {
			dist = haversineM(origin, point(t.Lat, t.Lng))
			if dist > radiusM {
				continue
			}
		}
		out = append(out, model.Candidate{
			TicketID:    t.ID,
			Summary:     t.Summary,
			Description: truncate(t.Description, 300),
			Address:     t.Address,
			Status:      t.Status,
			CreatedAt:   t.CreatedAt,
			DistanceM:   math.Round(dist),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceM != out[j].DistanceM {
			return out[i].DistanceM < out[j].DistanceM
		}
		return out[i].TicketID < out[j].TicketID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
