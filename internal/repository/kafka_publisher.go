package repository

import (
	"context"

	"ForeCrypt/internal/domain/models"
	domrepo "ForeCrypt/internal/domain/repository"
	applogger "ForeCrypt/pkg/logger"
	pkgkafka "ForeCrypt/pkg/kafka"
)

// HistoricalMessage is the wire form of one stored price point.
type HistoricalMessage struct {
	Series string  `json:"series"`
	TS     int64   `json:"t"`
	Price  float64 `json:"c"`
}

// KafkaForecastPublisher streams forecasts and newly stored prices. Messages
// are keyed by series so one series stays on one partition.
type KafkaForecastPublisher struct {
	producer        *pkgkafka.Producer
	forecastTopic   string
	historicalTopic string
}

func NewKafkaForecastPublisher(producer *pkgkafka.Producer, forecastTopic, historicalTopic string) *KafkaForecastPublisher {
	return &KafkaForecastPublisher{producer: producer, forecastTopic: forecastTopic, historicalTopic: historicalTopic}
}

func (p *KafkaForecastPublisher) PublishForecasts(ctx context.Context, batch models.ForecastBatch) error {
	rows := batch.Rows()
	if len(rows) == 0 {
		return nil
	}
	out := make([]pkgkafka.Message, len(rows))
	for i, r := range rows {
		out[i] = pkgkafka.Message{Key: []byte(r.Series), Value: r}
	}
	return p.producer.PublishBatch(ctx, p.forecastTopic, out)
}

func (p *KafkaForecastPublisher) PublishHistorical(ctx context.Context, series models.SeriesID, points []models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	out := make([]pkgkafka.Message, len(points))
	for i, pt := range points {
		out[i] = pkgkafka.Message{
			Key:   []byte(series),
			Value: HistoricalMessage{Series: string(series), TS: pt.Timestamp.Unix(), Price: pt.Price},
		}
	}
	return p.producer.PublishBatch(ctx, p.historicalTopic, out)
}

// PublishDigest lets the log collector ship warn/error digests through the same producer.
func (p *KafkaForecastPublisher) PublishDigest(ctx context.Context, topic string, entries []applogger.DigestEntry) error {
	if len(entries) == 0 {
		return nil
	}
	out := make([]pkgkafka.Message, len(entries))
	for i, e := range entries {
		out[i] = pkgkafka.Message{Key: []byte(e.Level), Value: e}
	}
	return p.producer.PublishBatch(ctx, topic, out)
}

func (p *KafkaForecastPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var (
	_ domrepo.ForecastPublisher = (*KafkaForecastPublisher)(nil)
	_ applogger.Publisher       = (*KafkaForecastPublisher)(nil)
)
