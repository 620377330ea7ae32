package presence

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nearchat/client/model"
)

// Repeat emits c every interval until ctx is done. The server forgets
// positions that are not refreshed, so a fixed position has to be resent.
func Repeat(ctx context.Context, c model.Coordinates, interval time.Duration) <-chan model.Coordinates {
	out := make(chan model.Coordinates)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ReadLocations emits one position per "lat,lon" line of r. Unparsable lines
// are logged and skipped. The channel closes at EOF or when ctx is done.
func ReadLocations(ctx context.Context, r io.Reader, log *logrus.Entry) <-chan model.Coordinates {
	if log == nil {
		log = logrus.WithField("component", "presence")
	}
	out := make(chan model.Coordinates)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			c, err := ParseCoordinates(line)
			if err != nil {
				log.WithError(err).WithField("line", line).Warn("skipping location")
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			log.WithError(err).Warn("location stream failed")
		}
	}()
	return out
}

// ParseCoordinates parses "lat,lon" and checks both ranges.
func ParseCoordinates(s string) (model.Coordinates, error) {
	latText, lonText, ok := strings.Cut(s, ",")
	if !ok {
		return model.Coordinates{}, fmt.Errorf("expected lat,lon: %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonText), 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("invalid longitude: %w", err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return model.Coordinates{}, fmt.Errorf("coordinates out of range: %v,%v", lat, lon)
	}
	return model.Coordinates{Latitude: lat, Longitude: lon}, nil
}

// Once returns a closed channel holding only c.
func Once(c model.Coordinates) <-chan model.Coordinates {
	out := make(chan model.Coordinates, 1)
	out <- c
	close(out)
	return out
}
