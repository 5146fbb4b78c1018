package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ForeCrypt/internal/domain/models"
	domrepo "ForeCrypt/internal/domain/repository"
	applogger "ForeCrypt/pkg/logger"
	pkgpg "ForeCrypt/pkg/postgres"
	"ForeCrypt/pkg/util"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	labelHistorical = "historical"
	insertChunk     = 1000
)

// PostgresSchema is the idempotent DDL for the relational store.
func PostgresSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS historical_data (
            id               UUID PRIMARY KEY,
            timestamp        TIMESTAMPTZ NOT NULL,
            currency         TEXT NOT NULL,
            historical_value DOUBLE PRECISION NOT NULL,
            data_label       TEXT NOT NULL DEFAULT 'historical',
            uploaded_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (timestamp, currency, data_label)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_historical_data_timestamp_currency ON historical_data (timestamp, currency)`,
		`CREATE TABLE IF NOT EXISTS training_data (
            id            UUID PRIMARY KEY,
            currency      TEXT NOT NULL,
            model         TEXT NOT NULL,
            fit_timestamp TIMESTAMPTZ NOT NULL,
            window_start  TIMESTAMPTZ NOT NULL,
            window_end    TIMESTAMPTZ NOT NULL,
            points        INTEGER NOT NULL,
            uploaded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE TABLE IF NOT EXISTS forecast_data (
            id                    UUID PRIMARY KEY,
            batch_id              UUID NOT NULL,
            timestamp             TIMESTAMPTZ NOT NULL,
            currency              TEXT NOT NULL,
            forecast_step         INTEGER NOT NULL,
            forecast_value        DOUBLE PRECISION NOT NULL,
            model                 TEXT NOT NULL,
            model_name_ext        TEXT NOT NULL,
            external_model_params TEXT NOT NULL,
            inner_model_params    TEXT NOT NULL,
            zero_step_ts          TIMESTAMPTZ NOT NULL,
            config_start          TIMESTAMPTZ,
            config_end            TIMESTAMPTZ,
            uploaded_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (timestamp, currency, model, forecast_step)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_forecast_data_timestamp ON forecast_data (timestamp, currency)`,
		`CREATE INDEX IF NOT EXISTS idx_forecast_data_timestamp_currency_model ON forecast_data (timestamp, currency, model)`,
		`CREATE TABLE IF NOT EXISTS model_state (
            currency      TEXT NOT NULL,
            model         TEXT NOT NULL,
            last_retrain  TIMESTAMPTZ,
            last_forecast TIMESTAMPTZ,
            updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (currency, model)
        )`,
		`CREATE MATERIALIZED VIEW IF NOT EXISTS backtest_data_mv AS
        SELECT
            f.id,
            f.timestamp,
            f.currency,
            f.forecast_step,
            f.forecast_value,
            h.historical_value,
            f.model,
            f.model_name_ext,
            f.external_model_params,
            f.inner_model_params,
            h.uploaded_at AS h_uploaded_at,
            f.uploaded_at AS f_uploaded_at,
            f.zero_step_ts,
            f.config_start,
            f.config_end
        FROM forecast_data f
        LEFT JOIN historical_data h
            ON f.timestamp = h.timestamp AND f.currency = h.currency AND h.data_label = 'historical'
        WITH NO DATA`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_backtest_data_mv_id ON backtest_data_mv (id)`,
	}
}

type historicalRow struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Timestamp       time.Time `gorm:"column:timestamp"`
	Currency        string    `gorm:"column:currency"`
	HistoricalValue float64   `gorm:"column:historical_value"`
	DataLabel       string    `gorm:"column:data_label"`
	UploadedAt      time.Time `gorm:"column:uploaded_at"`
}

func (historicalRow) TableName() string { return "historical_data" }

type trainingRow struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Currency     string    `gorm:"column:currency"`
	Model        string    `gorm:"column:model"`
	FitTimestamp time.Time `gorm:"column:fit_timestamp"`
	WindowStart  time.Time `gorm:"column:window_start"`
	WindowEnd    time.Time `gorm:"column:window_end"`
	Points       int       `gorm:"column:points"`
	UploadedAt   time.Time `gorm:"column:uploaded_at"`
}

func (trainingRow) TableName() string { return "training_data" }

type forecastRow struct {
	ID                  uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	BatchID             uuid.UUID  `gorm:"column:batch_id;type:uuid"`
	Timestamp           time.Time  `gorm:"column:timestamp"`
	Currency            string     `gorm:"column:currency"`
	ForecastStep        int        `gorm:"column:forecast_step"`
	ForecastValue       float64    `gorm:"column:forecast_value"`
	Model               string     `gorm:"column:model"`
	ModelNameExt        string     `gorm:"column:model_name_ext"`
	ExternalModelParams string     `gorm:"column:external_model_params"`
	InnerModelParams    string     `gorm:"column:inner_model_params"`
	ZeroStepTS          time.Time  `gorm:"column:zero_step_ts"`
	ConfigStart         *time.Time `gorm:"column:config_start"`
	ConfigEnd           *time.Time `gorm:"column:config_end"`
	UploadedAt          time.Time  `gorm:"column:uploaded_at"`
}

func (forecastRow) TableName() string { return "forecast_data" }

type stateRow struct {
	Currency     string     `gorm:"column:currency;primaryKey"`
	Model        string     `gorm:"column:model;primaryKey"`
	LastRetrain  *time.Time `gorm:"column:last_retrain"`
	LastForecast *time.Time `gorm:"column:last_forecast"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (stateRow) TableName() string { return "model_state" }

func (r stateRow) toModel() models.ModelState {
	st := models.ModelState{Series: models.SeriesID(r.Currency), Model: r.Model}
	if r.LastRetrain != nil {
		t := r.LastRetrain.UTC()
		st.LastRetrain = &t
	}
	if r.LastForecast != nil {
		t := r.LastForecast.UTC()
		st.LastForecast = &t
	}
	return st
}

// PostgresStore implements the relational stores on one gorm pool.
type PostgresStore struct {
	db *gorm.DB
	l  *applogger.Logger
}

func NewPostgresStore(pg *pkgpg.Client, l *applogger.Logger) *PostgresStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &PostgresStore{db: pg.DB(), l: l}
}

// UpsertHistorical inserts points and ignores (timestamp, currency) pairs already present.
func (s *PostgresStore) UpsertHistorical(ctx context.Context, points []models.PricePoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]historicalRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, historicalRow{
			ID:              uuid.New(),
			Timestamp:       util.FloorHour(p.Timestamp),
			Currency:        string(p.Series),
			HistoricalValue: p.Price,
			DataLabel:       labelHistorical,
			UploadedAt:      now,
		})
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, insertChunk)
	if res.Error != nil {
		return 0, fmt.Errorf("upsert historical: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *PostgresStore) HistoricalRange(ctx context.Context, series models.SeriesID, from, to time.Time) ([]models.PricePoint, error) {
	var rows []historicalRow
	err := s.db.WithContext(ctx).
		Where("currency = ? AND data_label = ? AND timestamp BETWEEN ? AND ?", string(series), labelHistorical, from, to).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("historical range: %w", err)
	}
	out := make([]models.PricePoint, len(rows))
	for i, r := range rows {
		out[i] = models.PricePoint{Series: series, Timestamp: r.Timestamp.UTC(), Price: r.HistoricalValue}
	}
	return out, nil
}

func (s *PostgresStore) ExistingHours(ctx context.Context, series models.SeriesID, from, to time.Time) ([]time.Time, error) {
	var hours []time.Time
	err := s.db.WithContext(ctx).Model(&historicalRow{}).
		Where("currency = ? AND data_label = ? AND timestamp BETWEEN ? AND ?", string(series), labelHistorical, from, to).
		Order("timestamp ASC").
		Pluck("timestamp", &hours).Error
	if err != nil {
		return nil, fmt.Errorf("existing hours: %w", err)
	}
	for i := range hours {
		hours[i] = hours[i].UTC()
	}
	return hours, nil
}

// MissingHours computes the gap in the database with generate_series.
func (s *PostgresStore) MissingHours(ctx context.Context, series models.SeriesID, from, to time.Time) ([]time.Time, error) {
	const q = `
        SELECT ts FROM generate_series(?::timestamptz, ?::timestamptz, interval '1 hour') AS ts
        WHERE NOT EXISTS (
            SELECT 1 FROM historical_data h
            WHERE h.currency = ? AND h.data_label = ? AND h.timestamp = ts
        )
        ORDER BY ts`
	var hours []time.Time
	if err := s.db.WithContext(ctx).Raw(q, from, to, string(series), labelHistorical).Scan(&hours).Error; err != nil {
		return nil, fmt.Errorf("missing hours: %w", err)
	}
	for i := range hours {
		hours[i] = hours[i].UTC()
	}
	return hours, nil
}

func (s *PostgresStore) SaveForecasts(ctx context.Context, batch models.ForecastBatch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	batchID, err := uuid.Parse(batch.ID)
	if err != nil {
		batchID = uuid.New()
	}
	uploaded := batch.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now().UTC()
	}
	var cfgStart, cfgEnd *time.Time
	if !batch.InputStart.IsZero() {
		cfgStart, cfgEnd = &batch.InputStart, &batch.InputEnd
	}
	inner := util.BracketParams(batch.InnerParams)
	rows := make([]forecastRow, 0, len(batch.Records))
	for _, r := range batch.Records {
		rows = append(rows, forecastRow{
			ID:                  uuid.New(),
			BatchID:             batchID,
			Timestamp:           r.PredictedTimestamp,
			Currency:            string(r.Series),
			ForecastStep:        r.Step,
			ForecastValue:       r.Value,
			Model:               r.Model,
			ModelNameExt:        batch.Descriptor.ExtendedName(),
			ExternalModelParams: batch.Descriptor.ExternalParams(),
			InnerModelParams:    inner,
			ZeroStepTS:          r.IssueTimestamp,
			ConfigStart:         cfgStart,
			ConfigEnd:           cfgEnd,
			UploadedAt:          uploaded,
		})
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, insertChunk)
	if res.Error != nil {
		return fmt.Errorf("save forecasts: %w", res.Error)
	}
	if int(res.RowsAffected) < len(rows) {
		s.l.Warn("forecast rows already present",
			applogger.String("batch_id", batchID.String()),
			applogger.Int("rows", len(rows)),
			applogger.Int64("inserted", res.RowsAffected),
		)
	}
	return nil
}

func (s *PostgresStore) LatestForecast(ctx context.Context, series models.SeriesID, model string) ([]models.ForecastRecord, error) {
	latest := s.db.Model(&forecastRow{}).
		Select("MAX(zero_step_ts)").
		Where("currency = ? AND model = ?", string(series), model)
	var rows []forecastRow
	err := s.db.WithContext(ctx).
		Where("currency = ? AND model = ? AND zero_step_ts = (?)", string(series), model, latest).
		Order("forecast_step ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest forecast: %w", err)
	}
	out := make([]models.ForecastRecord, len(rows))
	for i, r := range rows {
		out[i] = models.ForecastRecord{
			Series:             series,
			Model:              r.Model,
			IssueTimestamp:     r.ZeroStepTS.UTC(),
			PredictedTimestamp: r.Timestamp.UTC(),
			Step:               r.ForecastStep,
			Value:              r.ForecastValue,
		}
	}
	return out, nil
}

func (s *PostgresStore) DeleteForecastsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("zero_step_ts < ?", cutoff).Delete(&forecastRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete forecasts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// RefreshCombinedView rebuilds backtest_data_mv. The first refresh cannot be
// concurrent because the view is created WITH NO DATA.
func (s *PostgresStore) RefreshCombinedView(ctx context.Context) error {
	err := s.db.WithContext(ctx).Exec("REFRESH MATERIALIZED VIEW CONCURRENTLY backtest_data_mv").Error
	if err == nil {
		return nil
	}
	if err2 := s.db.WithContext(ctx).Exec("REFRESH MATERIALIZED VIEW backtest_data_mv").Error; err2 != nil {
		return fmt.Errorf("refresh backtest_data_mv: %w", errors.Join(err, err2))
	}
	return nil
}

func (s *PostgresStore) RecordTraining(ctx context.Context, run models.TrainingRun) error {
	row := trainingRow{
		ID:           uuid.New(),
		Currency:     string(run.Series),
		Model:        run.Model,
		FitTimestamp: run.FitTimestamp,
		WindowStart:  run.WindowStart,
		WindowEnd:    run.WindowEnd,
		Points:       run.Points,
		UploadedAt:   time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record training: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key models.PairKey) (models.ModelState, bool, error) {
	var row stateRow
	err := s.db.WithContext(ctx).
		Where("currency = ? AND model = ?", string(key.Series), key.Model).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ModelState{}, false, nil
	}
	if err != nil {
		return models.ModelState{}, false, fmt.Errorf("get state %s: %w", key, err)
	}
	return row.toModel(), true, nil
}

// Init inserts an empty state unless one exists and returns the stored state.
func (s *PostgresStore) Init(ctx context.Context, key models.PairKey) (models.ModelState, error) {
	row := stateRow{Currency: string(key.Series), Model: key.Model, UpdatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return models.ModelState{}, fmt.Errorf("init state %s: %w", key, err)
	}
	st, _, err := s.Get(ctx, key)
	return st, err
}

func (s *PostgresStore) MarkRetrained(ctx context.Context, key models.PairKey, at time.Time) error {
	return s.markState(ctx, key, stateRow{LastRetrain: &at}, "last_retrain")
}

func (s *PostgresStore) MarkForecasted(ctx context.Context, key models.PairKey, at time.Time) error {
	return s.markState(ctx, key, stateRow{LastForecast: &at}, "last_forecast")
}

func (s *PostgresStore) markState(ctx context.Context, key models.PairKey, row stateRow, column string) error {
	row.Currency, row.Model, row.UpdatedAt = string(key.Series), key.Model, time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "currency"}, {Name: "model"}},
		DoUpdates: clause.AssignmentColumns([]string{column, "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", column, key, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.ModelState, error) {
	var rows []stateRow
	if err := s.db.WithContext(ctx).Order("currency, model").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	out := make([]models.ModelState, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

var (
	_ domrepo.HistoricalStore = (*PostgresStore)(nil)
	_ domrepo.GapFinder       = (*PostgresStore)(nil)
	_ domrepo.ForecastStore   = (*PostgresStore)(nil)
	_ domrepo.TrainingLog     = (*PostgresStore)(nil)
	_ domrepo.StateStore      = (*PostgresStore)(nil)
)
