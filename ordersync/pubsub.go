package ordersync

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

// BatchTriggerMessage is the payload carried over Pub/Sub to request a batch
// run on whichever instance receives the push.
type BatchTriggerMessage struct {
	OrderIds    []int     `json:"order_ids,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func syncTriggerTopic() string {
	return os.Getenv("SYNC_TRIGGER_TOPIC")
}

// PublishBatchTrigger publishes a batch-trigger message. When Pub/Sub is not
// configured the caller falls back to triggering the scheduler in-process.
func PublishBatchTrigger(ctx context.Context, msg BatchTriggerMessage) error {
	topicName := syncTriggerTopic()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, topicName)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = result.Get(ctx)
	return err
}

// PubSubEnabled reports whether the trigger topic transport is configured.
func PubSubEnabled() bool {
	return syncTriggerTopic() != "" && os.Getenv("PUBSUB_PROJECT_ID")+os.Getenv("GOOGLE_CLOUD_PROJECT")+os.Getenv("GCP_PROJECT") != ""
}

// pushEnvelope is the standard Pub/Sub push wrapper; Data is base64 and
// decoded by encoding/json via the []byte field.
type pushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PubSubPush handles the push subscription for batch triggers. Always
// returns 2xx for interpretable envelopes so Pub/Sub does not redeliver a
// trigger that was merely queued behind an active batch.
func (h *Handler) PubSubPush(c *gin.Context) {
	var envelope pushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push envelope"})
		return
	}

	var msg BatchTriggerMessage
	if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
		config.LogError(config.GetLogger(), "ordersync", "PubSubPush", "decode trigger message",
			map[string]interface{}{"message_id": envelope.Message.MessageId}, err)
		// Drop the poison message rather than redelivering forever.
		c.JSON(http.StatusOK, gin.H{"status": "discarded"})
		return
	}

	queued, _, err := h.scheduler.TriggerManualSync(c.Request.Context(), msg.OrderIds)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "skipped", "reason": err.Error()})
		return
	}
	status := "scheduled"
	if queued {
		status = "queued"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
