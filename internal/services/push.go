package services

import (
	"context"
	"fmt"

	"flashpair-backend/internal/models"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// PushService sends APNs alerts to paired users who are not connected
type PushService struct {
	client *apns2.Client
	topic  string
}

// NewPushService creates an APNs client authenticated with a .p8 signing key
func NewPushService(keyFile, keyID, teamID, topic string, production bool) (*PushService, error) {
	authKey, err := token.AuthKeyFromFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   keyID,
		TeamID:  teamID,
	})
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &PushService{client: client, topic: topic}, nil
}

// NotifyNewImage alerts the receiver's device that an image is waiting
func (p *PushService) NotifyNewImage(ctx context.Context, deviceToken string, msg *models.Message) error {
	res, err := p.client.PushWithContext(ctx, newImageNotification(deviceToken, p.topic, msg))
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push rejected: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

func newImageNotification(deviceToken, topic string, msg *models.Message) *apns2.Notification {
	p := payload.NewPayload().
		AlertTitle("FlashPair").
		AlertBody("You have a new image. It disappears 30 seconds after you open it.").
		Sound("default").
		Custom("image_id", msg.ID)

	return &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       topic,
		Payload:     p,
		PushType:    apns2.PushTypeAlert,
		Priority:    apns2.PriorityHigh,
		// an image nobody opened is gone after the view window anyway
		Expiration: msg.SentAt.Add(models.ViewWindow),
	}
}
