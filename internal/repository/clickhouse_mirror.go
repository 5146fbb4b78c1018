package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ForeCrypt/internal/domain/models"
	domrepo "ForeCrypt/internal/domain/repository"
	pkgch "ForeCrypt/pkg/clickhouse"
	applogger "ForeCrypt/pkg/logger"
)

// ClickHouseSchema creates the mirror tables in database.
func ClickHouseSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.forecast_data (
            batch_id              String,
            timestamp             DateTime('UTC'),
            currency              LowCardinality(String),
            forecast_step         UInt16,
            forecast_value        Float64,
            model                 LowCardinality(String),
            model_name_ext        String,
            external_model_params String,
            inner_model_params    String,
            zero_step_ts          DateTime('UTC'),
            uploaded_at           DateTime('UTC')
        ) ENGINE = ReplacingMergeTree(uploaded_at)
        ORDER BY (currency, model, timestamp, forecast_step)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.historical_data (
            timestamp        DateTime('UTC'),
            currency         LowCardinality(String),
            historical_value Float64,
            uploaded_at      DateTime('UTC')
        ) ENGINE = ReplacingMergeTree(uploaded_at)
        ORDER BY (currency, timestamp)`, database),
	}
}

// ClickHouseMirror keeps an analytics copy of forecasts and actuals and
// computes forecast error statistics from it.
type ClickHouseMirror struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewClickHouseMirror(ch *pkgch.Client, database string, l *applogger.Logger) *ClickHouseMirror {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseMirror{db: ch.DB(), database: database, l: l}
}

func (m *ClickHouseMirror) table(name string) string {
	if m.database == "" {
		return name
	}
	return m.database + "." + name
}

func (m *ClickHouseMirror) InsertForecasts(ctx context.Context, rows []models.ForecastRow) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*11)
	for _, r := range rows {
		uploaded := r.UploadedAt
		if uploaded.IsZero() {
			uploaded = time.Now().UTC()
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.BatchID,
			r.PredictedTimestamp,
			string(r.Series),
			uint16(r.Step),
			r.Value,
			r.Model,
			r.ModelNameExt,
			r.ExternalModelParams,
			r.InnerModelParams,
			r.IssueTimestamp,
			uploaded,
		)
	}
	q := fmt.Sprintf(`INSERT INTO %s (batch_id, timestamp, currency, forecast_step, forecast_value, model,
        model_name_ext, external_model_params, inner_model_params, zero_step_ts, uploaded_at) VALUES %s`,
		m.table("forecast_data"), strings.Join(values, ","))
	start := time.Now()
	if _, err := m.db.ExecContext(ctx, q, args...); err != nil {
		m.l.Error("clickhouse insert_forecasts error",
			applogger.String("batch_id", rows[0].BatchID),
			applogger.Error(err),
		)
		return fmt.Errorf("insert forecasts: %w", err)
	}
	m.l.Debug("clickhouse insert_forecasts ok",
		applogger.String("batch_id", rows[0].BatchID),
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func (m *ClickHouseMirror) InsertHistorical(ctx context.Context, points []models.PricePoint) error {
	const chunkSize = 2000
	now := time.Now().UTC()
	for start := 0; start < len(points); start += chunkSize {
		end := start + chunkSize
		if end > len(points) {
			end = len(points)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*4)
		for _, p := range points[start:end] {
			values = append(values, "(?, ?, ?, ?)")
			args = append(args, p.Timestamp, string(p.Series), p.Price, now)
		}
		q := fmt.Sprintf("INSERT INTO %s (timestamp, currency, historical_value, uploaded_at) VALUES %s",
			m.table("historical_data"), strings.Join(values, ","))
		if _, err := m.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert historical: %w", err)
		}
	}
	return nil
}

// ErrorStats compares every mirrored forecast for series issued since `since`
// with the realised price at its predicted hour.
func (m *ClickHouseMirror) ErrorStats(ctx context.Context, series models.SeriesID, since time.Time) ([]models.ForecastErrorStats, error) {
	q := fmt.Sprintf(`
        SELECT
            f.model,
            count() AS samples,
            avg(abs(f.forecast_value - h.historical_value)) AS mae,
            avg(abs(f.forecast_value - h.historical_value) / nullIf(abs(h.historical_value), 0)) * 100 AS mape,
            sqrt(avg(pow(f.forecast_value - h.historical_value, 2))) AS rmse
        FROM %s AS f FINAL
        INNER JOIN (
            SELECT timestamp, currency, argMax(historical_value, uploaded_at) AS historical_value
            FROM %s
            WHERE currency = ?
            GROUP BY timestamp, currency
        ) AS h ON f.timestamp = h.timestamp AND f.currency = h.currency
        WHERE f.currency = ? AND f.zero_step_ts >= ?
        GROUP BY f.model
        ORDER BY f.model`, m.table("forecast_data"), m.table("historical_data"))

	rows, err := m.db.QueryContext(ctx, q, string(series), string(series), since)
	if err != nil {
		m.l.Error("clickhouse error_stats query error",
			applogger.String("series", string(series)),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("error stats: %w", err)
	}
	defer rows.Close()

	var out []models.ForecastErrorStats
	for rows.Next() {
		st := models.ForecastErrorStats{Series: series}
		var mape sql.NullFloat64
		if err := rows.Scan(&st.Model, &st.Samples, &st.MAE, &mape, &st.RMSE); err != nil {
			return nil, fmt.Errorf("scan error stats: %w", err)
		}
		st.MAPE = mape.Float64
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

var _ domrepo.ForecastMirror = (*ClickHouseMirror)(nil)
