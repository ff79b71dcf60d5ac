// Команда dlq-replay перечитывает DLQ-топик с событиями заказов, которые outbox worker
// не смог опубликовать, и возвращает их в основной топик. По умолчанию работает в режиме dry-run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/app"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/messaging"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/messaging/kafka"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/outbox"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
)

var errNotDeadLetter = errors.New("message is not an outbox dead letter")

type options struct {
	brokers     []string
	source      string
	target      string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type streamSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type saramaSource struct {
	consumer sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s saramaSource) Close() error { return s.consumer.Close() }

type counters struct {
	scanned  int
	replayed int
	skipped  int
}

func (c *counters) add(other counters) {
	c.scanned += other.scanned
	c.replayed += other.replayed
	c.skipped += other.skipped
}

// replayer читает DLQ по партициям и переиздаёт события через outbox publisher.
type replayer struct {
	opts      options
	offsets   offsetReader
	source    streamSource
	publisher domain.OutboxPublisher
	logger    *log.Entry
}

type dependencies struct {
	offsets   offsetReader
	source    streamSource
	publisher domain.OutboxPublisher
	close     func()
}

var connect = func(opts options) (dependencies, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return dependencies{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return dependencies{}, fmt.Errorf("create kafka consumer: %w", err)
	}

	deps := dependencies{
		offsets: client,
		source:  saramaSource{consumer: consumer},
		close: func() {
			_ = consumer.Close()
			_ = client.Close()
		},
	}
	if !opts.execute {
		return deps, nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: opts.brokers, ClientID: "shop-dlq-replay"})
	if err != nil {
		deps.close()
		return dependencies{}, err
	}
	deps.publisher = producer.Topic(opts.target)
	closeConsumer := deps.close
	deps.close = func() {
		_ = producer.Close()
		closeConsumer()
	}
	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseOptions(fs *flag.FlagSet, args []string, lookup app.EnvLookup) (options, error) {
	var (
		opts    options
		brokers string
	)
	source, target := kafka.TopicDeadLetterQueue, kafka.TopicOrderEvents
	if v, ok := lookup(app.EnvKafkaDLQTopic); ok && strings.TrimSpace(v) != "" {
		source = v
	}
	if v, ok := lookup(app.EnvKafkaTopic); ok && strings.TrimSpace(v) != "" {
		target = v
	}

	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default "+app.EnvKafkaBrokers+")")
	fs.StringVar(&opts.source, "source", source, "DLQ topic to read")
	fs.StringVar(&opts.target, "target", target, "topic to replay events into")
	fs.IntVar(&opts.limit, "limit", defaultLimit, "max messages to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish events; without it only logs candidates")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers, _ = lookup(app.EnvKafkaBrokers)
	}
	opts.brokers = splitBrokers(brokers)

	var errs []error
	if len(opts.brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka brokers are required (-brokers or %s)", app.EnvKafkaBrokers))
	}
	if strings.TrimSpace(opts.source) == "" || strings.TrimSpace(opts.target) == "" {
		errs = append(errs, errors.New("source and target topics are required"))
	}
	if opts.source == opts.target {
		errs = append(errs, errors.New("source and target topics must differ"))
	}
	if opts.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if opts.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return opts, errors.Join(errs...)
}

func splitBrokers(raw string) []string {
	var out []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}

func run(ctx context.Context, opts options) error {
	deps, err := connect(opts)
	if err != nil {
		return err
	}
	defer deps.close()

	r := &replayer{
		opts:      opts,
		offsets:   deps.offsets,
		source:    deps.source,
		publisher: deps.publisher,
		logger:    log.WithField("component", "dlq-replay"),
	}
	_, err = r.Replay(ctx)
	return err
}

// Replay проходит партиции DLQ по возрастанию номера, пока не исчерпан limit.
func (r *replayer) Replay(ctx context.Context) (counters, error) {
	var total counters
	if r.opts.execute && r.publisher == nil {
		return total, errors.New("publisher is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.opts.source)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.source, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := r.opts.limit - total.scanned
		if remaining <= 0 {
			break
		}
		got, err := r.replayPartition(ctx, partition, remaining)
		total.add(got)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if r.opts.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (counters, error) {
	var got counters

	oldest, err := r.offsets.GetOffset(r.opts.source, partition, sarama.OffsetOldest)
	if err != nil {
		return got, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.opts.source, partition, sarama.OffsetNewest)
	if err != nil {
		return got, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}

	start := oldest
	if r.opts.fromNewest && newest-int64(limit) > oldest {
		start = newest - int64(limit)
	}
	want := int(newest - start)
	if want > limit {
		want = limit
	}
	if want <= 0 {
		return got, nil
	}

	stream, err := r.source.ConsumePartition(r.opts.source, partition, start)
	if err != nil {
		return got, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for got.scanned < want {
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-idle.C:
			return got, nil
		case cerr, ok := <-stream.Errors():
			if ok && cerr != nil {
				return got, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-stream.Messages():
			if !ok {
				return got, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.idleTimeout)

			got.scanned++
			if err := r.handle(ctx, msg); err != nil {
				if errors.Is(err, domain.ErrOutboxPublish) || ctx.Err() != nil {
					return got, err
				}
				got.skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip dlq message")
				continue
			}
			got.replayed++
		}
	}
	return got, nil
}

func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	event, reason, err := decodeDeadLetter(msg.Value)
	if err != nil {
		return err
	}

	fields := log.Fields{
		"order_id":      event.AggregateID,
		"event_type":    event.EventType,
		"outbox_id":     event.ID,
		"publish_error": reason,
		"offset":        msg.Offset,
	}
	if !r.opts.execute {
		r.logger.WithFields(fields).Info("dlq replay candidate")
		return nil
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		return err
	}
	r.logger.WithFields(fields).Info("dlq event replayed")
	return nil
}

// decodeDeadLetter достаёт исходное outbox-сообщение из DLQ-конверта.
func decodeDeadLetter(value []byte) (domain.OutboxMessage, string, error) {
	var env messaging.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return domain.OutboxMessage{}, "", fmt.Errorf("%w: %v", errNotDeadLetter, err)
	}

	var dl outbox.DeadLetter
	if err := json.Unmarshal(env.Payload, &dl); err != nil {
		return domain.OutboxMessage{}, "", fmt.Errorf("%w: %v", errNotDeadLetter, err)
	}
	if len(dl.Payload) == 0 || dl.EventType == "" {
		return domain.OutboxMessage{}, "", errNotDeadLetter
	}

	event := dl.Message()
	event.ID = firstNonEmpty(event.ID, env.ID)
	event.AggregateType = firstNonEmpty(event.AggregateType, env.AggregateType)
	event.AggregateID = firstNonEmpty(event.AggregateID, env.AggregateID)
	return event, dl.PublishError, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
