//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/adapter/datastore"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/adapter/kafka"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/config"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/dashboard"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/observability"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/pipeline"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/raster"
	"github.com/paulmach/orb"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const (
	testSourceTopic = "test-releases"
	testSinkTopic   = "test-layer-ready"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("climate-dashboard-test"),
	)
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cconn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cconn.Close()

	require.NoError(t, cconn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// writeGrid publishes a small GeoTIFF to the data directory.
func writeGrid(t *testing.T, dir string, key domain.DatasetKey, base float64) {
	t.Helper()
	vals := make([]float64, 30)
	for i := range vals {
		vals[i] = base + float64(i)*0.1
	}
	r := raster.New(6, 5, vals, orb.Bound{Min: orb.Point{-160, 18}, Max: orb.Point{-154, 23}}, nil, 0)
	var buf bytes.Buffer
	require.NoError(t, raster.Encode(&buf, r, raster.EncodeOptions{Deflate: true}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, key.RasterName()), buf.Bytes(), 0o600))
}

// layerMessage holds a deserialized message read from the sink topic.
type layerMessage struct {
	Notice  domain.LayerNotice
	Key     string
	Headers map[string]string
}

// readLayer reads a single message from the sink consumer and deserializes it.
func readLayer(ctx context.Context, t *testing.T, consumer *kafkago.Reader) layerMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var notice domain.LayerNotice
	require.NoError(t, json.Unmarshal(msg.Value, &notice), "unmarshal sink message")

	return layerMessage{Notice: notice, Key: string(msg.Key), Headers: headers}
}

type testPipeline struct {
	pipeline *pipeline.Pipeline
	reader   *kafka.Reader
	writer   *kafka.Writer
}

func newTestPipeline(t *testing.T, broker, dataDir, group string) testPipeline {
	t.Helper()
	cfg := &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       group,
		BatchFlushInterval: 2 * time.Second,
	}
	metrics := observability.NewMetricsForTesting()
	src := datastore.NewCachedSource(datastore.NewFileSource(dataDir, metrics), 16, metrics)
	layers := dashboard.NewLayerCache(src, dashboard.LayerOptions{}, discardLogger(), metrics)

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	transformer := pipeline.NewTransformer(layers, nil, discardLogger())
	return testPipeline{
		pipeline: pipeline.New(reader, transformer, writer, discardLogger(), metrics, 10),
		reader:   reader,
		writer:   writer,
	}
}

func publish(ctx context.Context, t *testing.T, broker string, msgs ...kafkago.Message) {
	t.Helper()
	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, msgs...))
}

func releaseMessage(t *testing.T, key domain.DatasetKey) kafkago.Message {
	t.Helper()
	payload, err := json.Marshal(domain.ReleaseNotice{Dataset: string(key.Kind), Period: key.Period})
	require.NoError(t, err)
	return kafkago.Message{Key: []byte(key.String()), Value: payload}
}

func sinkConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// TestKafkaReaderWriter verifies the adapter layer: a release notice round
// trips through kafka.Reader and a layer notice through kafka.Writer.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	key := domain.DatasetKey{Kind: domain.Drought, Period: "2024-06"}
	msg := releaseMessage(t, key)
	publish(ctx, t, broker, msg)

	tp := newTestPipeline(t, broker, t.TempDir(), fmt.Sprintf("test-reader-%d", time.Now().UnixNano()))

	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	var batch []domain.RawRelease
	for {
		var err error
		batch, err = tp.reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, msg.Key, raw.Key)
	assert.Equal(t, msg.Value, raw.Value)
	assert.Equal(t, testSourceTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	got, err := domain.ParseRelease(raw)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	rendered := time.Date(2024, time.July, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, tp.writer.LoadBatch(ctx, []domain.LayerNotice{{Key: key, Width: 6, Height: 5, RenderedAt: rendered}}))

	lm := readLayer(ctx, t, sinkConsumer(t, broker))
	assert.Equal(t, "drought/2024-06", lm.Key)
	assert.Equal(t, "drought", lm.Headers["dataset"])
	assert.Equal(t, "2024-06", lm.Headers["period"])
	assert.Equal(t, rendered.Format(time.RFC3339), lm.Headers["rendered_at"])
	assert.Equal(t, key, lm.Notice.Key)
	assert.Equal(t, 6, lm.Notice.Width)
}

// TestPipelineEndToEnd publishes release notices for rasters in a data
// directory and verifies one layer notice per release arrives downstream.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	dir := t.TempDir()
	keys := []domain.DatasetKey{
		{Kind: domain.Rainfall, Period: "2024-06"},
		{Kind: domain.Temperature, Period: "2024-06"},
		{Kind: domain.Drought, Period: "2024-06"},
	}
	msgs := make([]kafkago.Message, 0, len(keys))
	for i, k := range keys {
		writeGrid(t, dir, k, float64(i*10))
		msgs = append(msgs, releaseMessage(t, k))
	}
	publish(ctx, t, broker, msgs...)

	tp := newTestPipeline(t, broker, dir, fmt.Sprintf("test-pipeline-%d", time.Now().UnixNano()))

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- tp.pipeline.Run(pipelineCtx) }()

	consumer := sinkConsumer(t, broker)
	received := make(map[domain.DatasetKey]layerMessage, len(keys))
	for len(received) < len(keys) {
		lm := readLayer(ctx, t, consumer)
		received[lm.Notice.Key] = lm
	}

	pipelineCancel()
	require.NoError(t, <-errCh)
	assert.NoError(t, tp.pipeline.CheckReadiness(ctx))

	for _, k := range keys {
		lm, ok := received[k]
		require.True(t, ok, "missing layer notice for %s", k)
		assert.Equal(t, k.String(), lm.Key)
		assert.Equal(t, 6, lm.Notice.Width)
		assert.Equal(t, 5, lm.Notice.Height)
		assert.Equal(t, k.Kind.Unit(), lm.Notice.Unit)
		_, err := time.Parse(time.RFC3339, lm.Headers["rendered_at"])
		assert.NoError(t, err, "invalid rendered_at format")
	}
	assert.InDelta(t, -3, received[keys[2]].Notice.Min, 1e-9, "drought legend is the fixed SPI domain")
	assert.InDelta(t, 3, received[keys[2]].Notice.Max, 1e-9)
}

// TestPipelineSkipsBadReleases verifies that an unparsable notice and a
// notice for a missing raster are skipped while valid ones still publish.
func TestPipelineSkipsBadReleases(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	dir := t.TempDir()
	good := domain.DatasetKey{Kind: domain.Rainfall, Period: "2024-06"}
	writeGrid(t, dir, good, 1)

	publish(ctx, t, broker,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		releaseMessage(t, domain.DatasetKey{Kind: domain.Temperature, Period: "1999-01"}),
		releaseMessage(t, good),
	)

	tp := newTestPipeline(t, broker, dir, fmt.Sprintf("test-poison-%d", time.Now().UnixNano()))

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- tp.pipeline.Run(pipelineCtx) }()

	consumer := sinkConsumer(t, broker)
	lm := readLayer(ctx, t, consumer)
	assert.Equal(t, good, lm.Notice.Key)

	// Verify no second message arrives (the bad releases were skipped).
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on sink topic")

	pipelineCancel()
	require.NoError(t, <-errCh)
}
