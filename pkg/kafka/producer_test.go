package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
)

func TestEncode(t *testing.T) {
	msgs, err := encode([]Event{
		{Key: "pan", Value: map[string]int{"count": 3}},
		{Key: "name", Value: "x"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "pan", string(msgs[0].Key))
	assert.JSONEq(t, `{"count":3}`, string(msgs[0].Value))
	assert.Equal(t, `"x"`, string(msgs[1].Value))
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	_, err := encode([]Event{{Key: "bad", Value: make(chan int)}})
	assert.Error(t, err)
}

func TestNewProducerTopic(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "tx-search-events")
	defer p.Close()
	assert.Equal(t, "tx-search-events", p.Topic())
}
