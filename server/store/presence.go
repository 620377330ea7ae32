package store

import (
	"errors"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	"nearchat/server/model"
)

const earthRadiusKm = 6371.0

func (s *Store) UpdateLocation(userID string, lat, lon float64, now time.Time) error {
	return s.db.Save(&Location{UserID: userID, Latitude: lat, Longitude: lon, UpdatedAt: now}).Error
}

// Nearby lists users other than userID whose last position is newer than
// since and within radiusKm of userID's own last position, closest first.
// A caller that never reported a position sees nobody.
func (s *Store) Nearby(userID string, since time.Time, radiusKm float64) ([]model.User, error) {
	var me Location
	err := s.db.First(&me, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []model.User{}, nil
	}
	if err != nil {
		return nil, err
	}

	var locs []Location
	if err := s.db.Where("user_id <> ? AND updated_at >= ?", userID, since).Find(&locs).Error; err != nil {
		return nil, err
	}

	dist := make(map[string]float64)
	ids := make([]string, 0, len(locs))
	for _, l := range locs {
		d := Distance(me.Latitude, me.Longitude, l.Latitude, l.Longitude)
		if d <= radiusKm {
			dist[l.UserID] = d
			ids = append(ids, l.UserID)
		}
	}
	if len(ids) == 0 {
		return []model.User{}, nil
	}

	var users []User
	if err := s.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		return dist[users[i].ID] < dist[users[j].ID]
	})
	out := make([]model.User, 0, len(users))
	for i := range users {
		out = append(out, users[i].View().Public())
	}
	return out, nil
}

// Distance is the great-circle distance in kilometers.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
