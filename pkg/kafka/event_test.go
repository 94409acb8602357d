package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, "ecommerce.cart.updated", Topic("cart", "updated"))
	assert.Equal(t, "ecommerce.order.placed", Topic("order", "placed"))
}

func TestNewEvent_Fields(t *testing.T) {
	type cartData struct {
		Owner     string `json:"owner"`
		ItemCount int    `json:"item_count"`
	}

	data := cartData{Owner: "user:1", ItemCount: 3}
	event, err := NewEvent("cart.updated", "cart-1", "cart", "cartsync", data)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "cart.updated", event.EventType)
	assert.Equal(t, "cart-1", event.AggregateID)
	assert.Equal(t, "cart", event.AggregateType)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)

	var decoded cartData
	require.NoError(t, json.Unmarshal(event.Data, &decoded))
	assert.Equal(t, data, decoded)
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent("cart.updated", "cart-1", "cart", "cartsync", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cart.updated")
}

func TestEvent_MarshalRoundTrip(t *testing.T) {
	original, err := NewEvent("product.updated", "p-1", "product", "catalog", map[string]string{"name": "Mug"})
	require.NoError(t, err)
	original.WithCorrelationID("corr-1").WithMetadata("actor", "admin")

	raw, err := original.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, original.EventID, restored.EventID)
	assert.Equal(t, "corr-1", restored.CorrelationID)
	assert.Equal(t, "admin", restored.Metadata["actor"])

	var payload map[string]string
	require.NoError(t, restored.UnmarshalData(&payload))
	assert.Equal(t, "Mug", payload["name"])
}

func TestUnmarshalEvent_Invalid(t *testing.T) {
	_, err := UnmarshalEvent([]byte("{not json"))
	require.Error(t, err)
}

func TestPingBrokers_NoneConfigured(t *testing.T) {
	err := PingBrokers(t.Context(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers")
}
