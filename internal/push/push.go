package push

import (
	"fmt"
	"log/slog"

	"gutorka/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Sender delivers web-push notifications to subscribed clients. With
// empty VAPID keys the sender is disabled and Notify becomes a no-op,
// so the rest of the system never has to care whether push is
// configured.
type Sender struct {
	publicKey  string
	privateKey string
	subscriber string
}

func NewSender(subscriber, publicKey, privateKey string) *Sender {
	return &Sender{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
	}
}

func (s *Sender) Enabled() bool {
	return s.publicKey != "" && s.privateKey != ""
}

// Notify sends the payload to one subscription. Delivery is best
// effort, a dead endpoint is an error for the caller to log, not to
// escalate.
func (s *Sender) Notify(sub models.PushSubscription, payload []byte) error {
	if !s.Enabled() {
		return nil
	}

	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             60,
	})
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	slog.Debug("push notification sent", "endpoint", sub.Endpoint, "status", resp.StatusCode)

	return nil
}
