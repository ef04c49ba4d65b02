package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"epochbook/infra/metrics"
	"epochbook/infra/outbox"
)

// Publisher delivers one message synchronously; a nil error means the
// broker acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

type Options struct {
	Interval      time.Duration
	RatePerSecond float64
	MaxRetries    uint32
	BatchSize     int
}

type Broadcaster struct {
	outbox  *outbox.Outbox
	pub     Publisher
	limiter *rate.Limiter
	opts    Options
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(ob *outbox.Outbox, pub Publisher, opts Options, log *logrus.Entry, m *metrics.Metrics) *Broadcaster {
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	return &Broadcaster{
		outbox:  ob,
		pub:     pub,
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
		log:     log,
		metrics: m,
	}
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run drains the outbox every Interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.WithField("interval", b.opts.Interval).Info("broadcaster started")

	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("broadcaster stopped")
			return nil

		case <-ticker.C:
			if _, err := b.DrainOnce(ctx); err != nil && ctx.Err() == nil {
				b.log.WithError(err).Error("outbox drain failed")
			}
		}
	}
}

// DrainOnce publishes one batch of pending entries and reports how many
// were acknowledged. Publish failures are recorded on the entry, not
// returned; entries past MaxRetries are left FAILED and skipped.
func (b *Broadcaster) DrainOnce(ctx context.Context) (int, error) {
	pending, err := b.outbox.Pending(b.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, e := range pending {
		if e.State == outbox.StateFailed && b.opts.MaxRetries > 0 && e.Retries >= b.opts.MaxRetries {
			continue
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return acked, err
		}

		ok, err := b.publish(ctx, e)
		if err != nil {
			return acked, err
		}
		if ok {
			acked++
		}
	}
	return acked, nil
}

func (b *Broadcaster) publish(ctx context.Context, e outbox.Entry) (bool, error) {
	// 1. SENT before the broker sees it.
	if err := b.outbox.UpdateState(e.Seq, outbox.StateSent, e.Retries); err != nil {
		return false, err
	}

	payload, err := outbox.Payload(e.Change)
	if err != nil {
		return false, err
	}

	// 2. Publish.
	if perr := b.pub.Publish(ctx, []byte(e.Change.Symbol), payload); perr != nil {
		b.metrics.Published(false)
		retries := e.Retries + 1
		fields := logrus.Fields{"seq": e.Seq, "retries": retries}
		if b.opts.MaxRetries > 0 && retries >= b.opts.MaxRetries {
			b.log.WithError(perr).WithFields(fields).Error("change publish gave up")
		} else {
			b.log.WithError(perr).WithFields(fields).Warn("change publish failed")
		}
		return false, b.outbox.UpdateState(e.Seq, outbox.StateFailed, retries)
	}
	b.metrics.Published(true)

	// 3. ACKED, then gone.
	if err := b.outbox.UpdateState(e.Seq, outbox.StateAcked, e.Retries); err != nil {
		return true, err
	}
	return true, b.outbox.Delete(e.Seq)
}

// ------------------------------------------------
// SARAMA PUBLISHER
// ------------------------------------------------

// SaramaPublisher publishes through a sarama SyncProducer.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaPublisher(brokers []string, topic string) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "sarama producer")
	}
	return WrapSyncProducer(producer, topic), nil
}

// WrapSyncProducer adapts an existing producer, such as a mock.
func WrapSyncProducer(p sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: p, topic: topic}
}

func (s *SaramaPublisher) Publish(_ context.Context, key, value []byte) error {
	_, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (s *SaramaPublisher) Close() error {
	return s.producer.Close()
}
