package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/metrics"
	"github.com/shpitdev/docfetch/internal/util"
)

// Config configures the JetStream connection, streams and consumer.
type Config struct {
	URL   string
	Name  string
	Token string

	// Stream holds inbound jobs with work-queue retention.
	Stream string
	// ResultsStream keeps result events for downstream consumers.
	ResultsStream string
	ResultsMaxAge time.Duration

	Consumer      string
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
	NakDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "docfetch",
		Stream:        "DOCFETCH",
		ResultsStream: "DOCFETCH_RESULTS",
		ResultsMaxAge: 7 * 24 * time.Hour,
		Consumer:      "docfetch-workers",
		AckWait:       5 * time.Minute,
		MaxDeliver:    3,
		MaxAckPending: 16,
		NakDelay:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Stream == "" {
		c.Stream = d.Stream
	}
	if c.ResultsStream == "" {
		c.ResultsStream = d.ResultsStream
	}
	if c.ResultsMaxAge <= 0 {
		c.ResultsMaxAge = d.ResultsMaxAge
	}
	if c.Consumer == "" {
		c.Consumer = d.Consumer
	}
	if c.AckWait <= 0 {
		c.AckWait = d.AckWait
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = d.MaxDeliver
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = d.MaxAckPending
	}
	if c.NakDelay <= 0 {
		c.NakDelay = d.NakDelay
	}
	return c
}

// JetStream implements Publisher and consumes jobs.
type JetStream struct {
	cfg    Config
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *zap.Logger
}

// Connect dials NATS and creates or updates both streams.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*JetStream, error) {
	cfg = cfg.withDefaults()
	logger = logging.OrNop(logger)

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) { logger.Info("nats reconnected") }),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "connect to nats")
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "create jetstream context")
	}

	q := &JetStream{cfg: cfg, conn: conn, js: js, logger: logger}
	if err := q.ensureStreams(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *JetStream) ensureStreams(ctx context.Context) error {
	_, err := q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       q.cfg.Stream,
		Subjects:   []string{SubjectInbound},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return eris.Wrapf(err, "create stream %s", q.cfg.Stream)
	}
	_, err = q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      q.cfg.ResultsStream,
		Subjects:  []string{subjectResults + ".>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    q.cfg.ResultsMaxAge,
	})
	if err != nil {
		return eris.Wrapf(err, "create stream %s", q.cfg.ResultsStream)
	}
	return nil
}

// PublishJob enqueues a job. The message id doubles as the JetStream de-duplication id.
func (q *JetStream) PublishJob(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "encode job")
	}
	if _, err := q.js.Publish(ctx, SubjectInbound, data, jetstream.WithMsgID(job.Email.MessageID)); err != nil {
		return eris.Wrap(err, "publish job")
	}
	return nil
}

func (q *JetStream) PublishResult(ctx context.Context, ev ResultEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "encode result")
	}
	if _, err := q.js.Publish(ctx, ResultSubject(ev.Success), data); err != nil {
		return eris.Wrap(err, "publish result")
	}
	return nil
}

// Consume runs handler for every job until ctx is done. Jobs are acknowledged after the
// handler returns nil, redelivered after NakDelay on error, and terminated when they
// cannot be decoded, fail permanently, or exhaust MaxDeliver.
func (q *JetStream) Consume(ctx context.Context, handler Handler) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.cfg.Stream, jetstream.ConsumerConfig{
		Name:          q.cfg.Consumer,
		Durable:       q.cfg.Consumer,
		FilterSubject: SubjectInbound,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.cfg.MaxDeliver,
		MaxAckPending: q.cfg.MaxAckPending,
	})
	if err != nil {
		return eris.Wrapf(err, "create consumer %s", q.cfg.Consumer)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) { q.handle(ctx, msg, handler) })
	if err != nil {
		return eris.Wrap(err, "start consuming")
	}
	q.logger.Info("consuming jobs", zap.String("stream", q.cfg.Stream), zap.String("consumer", q.cfg.Consumer))
	<-ctx.Done()
	cc.Drain()
	return nil
}

func (q *JetStream) handle(ctx context.Context, msg jetstream.Msg, handler Handler) {
	job, err := DecodeJob(msg.Data())
	if err != nil {
		q.logger.Warn("dropping undecodable job", zap.Error(err))
		metrics.QueueJobs.WithLabelValues("invalid").Inc()
		_ = msg.Term()
		return
	}
	log := q.logger.With(zap.String("message_id", job.Email.MessageID))

	err = handler(ctx, job)
	switch {
	case err == nil:
		metrics.QueueJobs.WithLabelValues("ok").Inc()
		if err := msg.Ack(); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
	case isPermanent(err) || lastDelivery(msg, q.cfg.MaxDeliver):
		metrics.QueueJobs.WithLabelValues("terminated").Inc()
		log.Error("job failed permanently", zap.String("error", util.RedactSecrets(err.Error())))
		_ = msg.Term()
	default:
		metrics.QueueJobs.WithLabelValues("retry").Inc()
		log.Warn("job failed, will be redelivered", zap.String("error", util.RedactSecrets(err.Error())))
		_ = msg.NakWithDelay(q.cfg.NakDelay)
	}
}

func isPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

func lastDelivery(msg jetstream.Msg, maxDeliver int) bool {
	md, err := msg.Metadata()
	if err != nil {
		return false
	}
	return md.NumDelivered >= uint64(maxDeliver)
}

// Healthy reports whether the connection is up.
func (q *JetStream) Healthy() bool {
	return q != nil && q.conn != nil && q.conn.IsConnected()
}

// Close drains the connection.
func (q *JetStream) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	return q.conn.Drain()
}
