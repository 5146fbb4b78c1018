package usecase

import (
	"testing"
	"time"

	"ForeCrypt/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

func TestTotalFetchInterval(t *testing.T) {
	descs := []models.ModelDescriptor{
		{Name: "a", TrainingSize: 240, ForecastInputSize: 48},
		{Name: "b", TrainingSize: 100, ForecastInputSize: 300},
	}
	assert.Equal(t, 303*time.Hour, TotalFetchInterval(descs, DefaultFetchBuffer))
	assert.Equal(t, 300*time.Hour, TotalFetchInterval(descs, 0))
	assert.Zero(t, TotalFetchInterval(nil, DefaultFetchBuffer))
}

func TestExtendedStartFloorsToHour(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 40, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), ExtendedStart(now, 3*time.Hour))
}

func TestWindowsEndAtCurrentHour(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 40, 0, 0, time.UTC)
	d := models.ModelDescriptor{TrainingSize: 24, ForecastInputSize: 1}

	from, to := TrainingWindow(now, d)
	assert.Equal(t, time.Date(2024, 3, 9, 13, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), to)

	from, to = ForecastInputWindow(now, d)
	assert.Equal(t, to, from)
}

func TestDueBoundaries(t *testing.T) {
	d := models.ModelDescriptor{UpdateInterval: 24 * time.Hour, ForecastFrequency: time.Hour}
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, RetrainDue(models.ModelState{}, d, now), "never trained")
	assert.True(t, ForecastDue(models.ModelState{}, d, now), "never forecast")

	last := now.Add(-24 * time.Hour)
	assert.True(t, RetrainDue(models.ModelState{LastRetrain: &last}, d, now), "exactly one interval")

	recent := now.Add(-23 * time.Hour)
	assert.False(t, RetrainDue(models.ModelState{LastRetrain: &recent}, d, now))

	same := now
	assert.False(t, ForecastDue(models.ModelState{LastForecast: &same}, d, now))
	assert.True(t, ForecastDue(models.ModelState{LastForecast: &same}, d, now.Add(time.Hour)))
}
