package usecase

import (
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/pkg/util"
)

// DefaultFetchBuffer is added on top of the largest window so the first hours
// of a training window are never at the edge of the fetched range.
const DefaultFetchBuffer = 3 * time.Hour

// TotalFetchInterval is how far back the once-per-tick fetch reaches. It is
// zero when no models are configured.
func TotalFetchInterval(descs []models.ModelDescriptor, buffer time.Duration) time.Duration {
	if len(descs) == 0 {
		return 0
	}
	hours := 0
	for _, d := range descs {
		if d.TrainingSize > hours {
			hours = d.TrainingSize
		}
		if d.ForecastInputSize > hours {
			hours = d.ForecastInputSize
		}
	}
	return util.Hours(hours) + buffer
}

// ExtendedStart is the first hour of the tick's fetch window.
func ExtendedStart(now time.Time, interval time.Duration) time.Time {
	return util.FloorHour(now.Add(-interval))
}

// hourWindow is the inclusive range of n hours ending at floor_hour(now).
func hourWindow(now time.Time, n int) (time.Time, time.Time) {
	end := util.FloorHour(now)
	if n <= 0 {
		return end, end
	}
	return end.Add(-util.Hours(n - 1)), end
}

func TrainingWindow(now time.Time, d models.ModelDescriptor) (time.Time, time.Time) {
	return hourWindow(now, d.TrainingSize)
}

func ForecastInputWindow(now time.Time, d models.ModelDescriptor) (time.Time, time.Time) {
	return hourWindow(now, d.ForecastInputSize)
}

// RetrainDue reports whether the pair has never been trained or its update interval elapsed.
func RetrainDue(state models.ModelState, d models.ModelDescriptor, now time.Time) bool {
	return due(state.LastRetrain, d.UpdateInterval, now)
}

// ForecastDue is RetrainDue for the forecast frequency.
func ForecastDue(state models.ModelState, d models.ModelDescriptor, now time.Time) bool {
	return due(state.LastForecast, d.ForecastFrequency, now)
}

func due(last *time.Time, every time.Duration, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= every
}
