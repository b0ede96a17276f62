package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProducer captures published bodies instead of talking to a
// broker.
type recordingProducer struct {
	published [][]byte
}

func (r *recordingProducer) Publish(body []byte) error {
	r.published = append(r.published, body)
	return nil
}

func TestProcessLevelUp(t *testing.T) {
	producer := &recordingProducer{}
	q := &Queue{Producers: []Producer{producer}}

	msg := &LevelUpMessage{
		ID:      "msg-1",
		UserID:  "user-1",
		Level:   3,
		Message: "You reached level 3!",
	}

	err := ProcessLevelUp(msg, q)
	require.NoError(t, err)
	require.Len(t, producer.published, 1)

	decoded := &LevelUpMessage{}
	require.NoError(t, json.Unmarshal(producer.published[0], decoded))
	assert.Equal(t, msg, decoded)
}

func TestPublishRoundRobin(t *testing.T) {
	first := &recordingProducer{}
	second := &recordingProducer{}
	q := &Queue{Producers: []Producer{first, second}}

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Publish([]byte("body")))
	}

	// Messages alternate between the producers.
	assert.Len(t, first.published, 2)
	assert.Len(t, second.published, 2)
}

func TestPublishNoProducers(t *testing.T) {
	q := &Queue{}

	err := q.Publish([]byte("body"))
	assert.Error(t, err)
}
