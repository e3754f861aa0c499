package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/models"
)

type mockMQTTClient struct {
	mock.Mock
}

func (m *mockMQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	args := m.Called(topic, qos, retained, payload)
	return args.Error(0)
}

func TestMQTTPublisher_Publish(t *testing.T) {
	client := new(mockMQTTClient)
	p := NewMQTTPublisher(client, "swasthya/workers/", 1, zap.NewNop())

	rec := models.DisplayRecord{
		WorkerID: "w-1",
		Version:  2,
		Name:     models.DisplayField{Text: "Asha", State: models.StateValue},
	}

	client.On("Publish", "swasthya/workers/w-1/display", byte(1), true, mock.MatchedBy(func(payload []byte) bool {
		var decoded models.DisplayRecord
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return false
		}
		return decoded.Version == 2 && decoded.Name.Text == "Asha"
	})).Return(nil).Once()

	require.NoError(t, p.Publish(context.Background(), rec))
	client.AssertExpectations(t)
}

func TestMQTTPublisher_PublishError(t *testing.T) {
	client := new(mockMQTTClient)
	p := NewMQTTPublisher(client, "", 0, zap.NewNop())
	assert.Equal(t, "swasthya/workers/w-9/display", p.Topic("w-9"))

	client.On("Publish", "swasthya/workers/w-9/display", byte(0), true, mock.Anything).
		Return(errors.New("not connected"))

	err := p.Publish(context.Background(), models.DisplayRecord{WorkerID: "w-9"})
	assert.EqualError(t, err, "not connected")
}

func TestMQTTPublisher_CancelledContext(t *testing.T) {
	client := new(mockMQTTClient)
	p := NewMQTTPublisher(client, "x", 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Publish(ctx, models.DisplayRecord{WorkerID: "w-1"}), context.Canceled)
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMQTTPublisher_Clear(t *testing.T) {
	client := new(mockMQTTClient)
	p := NewMQTTPublisher(client, "x", 5, zap.NewNop())

	client.On("Publish", "x/w-1/display", byte(1), true, []byte(nil)).Return(nil).Once()
	require.NoError(t, p.Clear("w-1"))
	client.AssertExpectations(t)
}
