package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ForeCrypt/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
series: [btc, ETH]
models:
  arima:
    training_dataset_size: 240
    model_update_interval: 48
    forecast_dataset_size: 48
    forecast_frequency: 1
    forecast_hours: 24
    specific_parameters:
      order: [2, 1, 1]
  daily:
    algorithm: naive
    training_dataset_size: 24
    model_update_interval: 24
    forecast_dataset_size: 24
    forecast_frequency: 2
    forecast_hours: 12
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "0 * * * *", c.Scheduler.TickCron)
	assert.Equal(t, 3*time.Hour, c.FetchBuffer())
	assert.Equal(t, "cryptocompare", c.PriceSource.Provider)
	assert.Equal(t, "postgres", c.Storage.Backend)
	assert.Equal(t, 15*time.Second, c.Server.ReadTimeout)
	assert.Equal(t, []string{"*"}, c.Server.CORSOrigins)
	assert.Equal(t, []models.SeriesID{"BTC", "ETH"}, c.SeriesIDs())
}

func TestDescriptorsSortedWithHourUnits(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	descs := c.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "arima", descs[0].Name)
	assert.Equal(t, "arima", descs[0].AlgorithmID())
	assert.Equal(t, 48*time.Hour, descs[0].UpdateInterval)
	assert.Equal(t, []any{2, 1, 1}, descs[0].Params["order"])

	assert.Equal(t, "daily", descs[1].Name)
	assert.Equal(t, "naive", descs[1].AlgorithmID())
	assert.Equal(t, 2*time.Hour, descs[1].ForecastFrequency)
	assert.Equal(t, 12, descs[1].HorizonHours)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no series":       "models:\n  a: {training_dataset_size: 1, model_update_interval: 1, forecast_dataset_size: 1, forecast_frequency: 1, forecast_hours: 1}\n",
		"no models":       "series: [BTC]\n",
		"zero horizon":    "series: [BTC]\nmodels:\n  a: {training_dataset_size: 1, model_update_interval: 1, forecast_dataset_size: 1, forecast_frequency: 1, forecast_hours: 0}\n",
		"bad name":        "series: [BTC]\nmodels:\n  a__b: {training_dataset_size: 1, model_update_interval: 1, forecast_dataset_size: 1, forecast_frequency: 1, forecast_hours: 1}\n",
		"duplicate":       "series: [BTC, BTC]\nmodels:\n  a: {training_dataset_size: 1, model_update_interval: 1, forecast_dataset_size: 1, forecast_frequency: 1, forecast_hours: 1}\n",
		"bad provider":    minimal + "price_source:\n  provider: binance\n",
		"s3 needs bucket": minimal + "artifacts:\n  backend: s3\n",
		"kafka brokers":   minimal + "kafka:\n  enabled: true\n  brokers: []\n",
		"remote url":      "series: [BTC]\nmodels:\n  r: {algorithm: remote, training_dataset_size: 1, model_update_interval: 1, forecast_dataset_size: 1, forecast_frequency: 1, forecast_hours: 1}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))

	t.Setenv("FORECRYPT_API_KEY", "secret")
	t.Setenv("FORECRYPT_CRYPTO_LIST", "SOL, ADA")
	t.Setenv("FORECRYPT_PG_DB_HOST", "db.internal")
	t.Setenv("FORECRYPT_PG_DB_PORT", "6543")
	t.Setenv("FORECRYPT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FORECRYPT_CORS_ORIGINS", "https://dash.example")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", c.PriceSource.APIKey)
	assert.Equal(t, []string{"SOL", "ADA"}, c.Series)
	assert.Equal(t, "db.internal", c.Postgres.Host)
	assert.Equal(t, 6543, c.Postgres.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, []string{"https://dash.example"}, c.Server.CORSOrigins)
}

func TestSampleConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Len(t, c.Descriptors(), 4)
}
