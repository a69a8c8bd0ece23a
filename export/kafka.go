package export

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"feedscroll/oops"
	"feedscroll/scraper"
)

const publishBatchSize = 100

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{ //nolint:exhaustruct
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, //nolint:exhaustruct
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// PublishPosts sends one message per post, keyed by post id so that rescrapes of the same post
// land on the same partition.
func PublishPosts(ctx context.Context, writer MessageWriter, result *scraper.Result) (int, error) {
	headers := []kafka.Header{
		{Key: "target", Value: []byte(result.Summary.Target.String())},
		{Key: "run_id", Value: []byte(result.Summary.RunId)},
	}
	published := 0
	batch := make([]kafka.Message, 0, publishBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := writer.WriteMessages(ctx, batch...); err != nil {
			return oops.Wrapf(err, "publishing %d posts", len(batch))
		}
		published += len(batch)
		batch = batch[:0]
		return nil
	}

	for i := range result.Posts {
		post := &result.Posts[i]
		value, err := json.Marshal(post)
		if err != nil {
			return published, oops.Wrap(err)
		}
		batch = append(batch, kafka.Message{ //nolint:exhaustruct
			Key:     []byte(post.Id),
			Value:   value,
			Headers: headers,
			Time:    post.ScrapedAt,
		})
		if len(batch) == publishBatchSize {
			if err := flush(); err != nil {
				return published, err
			}
		}
	}
	if err := flush(); err != nil {
		return published, err
	}
	return published, nil
}
