package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaDeadLetterSink_Publish(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaDeadLetterSink{writer: w, topic: "dead"}
	job := &Job{ID: "job-1", Type: JobTypeCreditApply, Status: JobStatusDead, ErrorMsg: "boom"}

	require.NoError(t, sink.Publish(context.Background(), job))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "dead", msg.Topic)
	assert.Equal(t, []byte("job-1"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "credit_apply", string(msg.Headers[0].Value))

	var decoded Job
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "boom", decoded.ErrorMsg)

	w.err = errors.New("broker down")
	err := sink.Publish(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"dead"`)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaDeadLetterSinkFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	assert.Nil(t, KafkaDeadLetterSinkFromEnv())

	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("KAFKA_DEAD_LETTER_TOPIC", "")
	sink := KafkaDeadLetterSinkFromEnv()
	require.NotNil(t, sink)
	assert.Equal(t, DefaultDeadLetterTopic, sink.topic)
	require.NoError(t, sink.Close())
}

func TestParseBrokers(t *testing.T) {
	assert.Nil(t, ParseBrokers(""))
	assert.Equal(t, []string{"a:1", "b:2"}, ParseBrokers(" a:1 ,,b:2 "))
}

type errSink struct{ err error }

func (e errSink) Publish(context.Context, *Job) error { return e.err }

func TestMultiDeadLetterSink(t *testing.T) {
	rec := &recordingSink{}
	first := errors.New("first")
	multi := MultiDeadLetterSink{nil, errSink{first}, rec, errSink{errors.New("second")}}

	err := multi.Publish(context.Background(), &Job{ID: "j"})
	assert.ErrorIs(t, err, first)
	assert.Len(t, rec.all(), 1)
}
