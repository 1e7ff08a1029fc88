package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/database/testutil"
	"github.com/randevly/randevly/internal/models"
)

type fakeProvider struct {
	responses []ProviderResponse
	errs      []error
	calls     int
}

func (p *fakeProvider) Send(context.Context, models.PushSubscription, []byte) (ProviderResponse, error) {
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return p.responses[i], err
}

func newWorkerFixture(t *testing.T, provider PushProvider) (*gorm.DB, *DeliveryWorker) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	worker, err := NewDeliveryWorker(db, provider, WorkerConfig{QueueSize: 4, Workers: 1})
	require.NoError(t, err)
	worker.sleep = func(context.Context, time.Duration) error { return nil }
	return db, worker
}

func seedDelivery(t *testing.T, db *gorm.DB, maxRetries int) (models.PushSubscription, models.PushNotification) {
	t.Helper()
	sub := models.PushSubscription{
		UserID:   "user-1",
		Endpoint: "https://push.example.com/ep-1",
		P256dh:   "p256dh-key",
		Auth:     "auth-key",
		IsActive: true,
	}
	require.NoError(t, db.Create(&sub).Error)

	notification := models.PushNotification{
		SubscriptionID: sub.ID,
		Title:          "Upcoming appointment",
		Body:           "See you tomorrow",
		Status:         models.PushStatusPending,
		MaxRetries:     maxRetries,
	}
	require.NoError(t, db.Create(&notification).Error)
	return sub, notification
}

func TestDeliverMarksSent(t *testing.T) {
	provider := &fakeProvider{responses: []ProviderResponse{{StatusCode: 201}}}
	db, worker := newWorkerFixture(t, provider)
	sub, notification := seedDelivery(t, db, 3)

	require.NoError(t, worker.deliver(context.Background(), notification.ID))

	var got models.PushNotification
	require.NoError(t, db.First(&got, "id = ?", notification.ID).Error)
	require.Equal(t, models.PushStatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	require.Equal(t, 0, got.RetryCount)

	var gotSub models.PushSubscription
	require.NoError(t, db.First(&gotSub, "id = ?", sub.ID).Error)
	require.NotNil(t, gotSub.LastUsedAt)
}

func TestDeliverExpiredEndpointDisablesSubscription(t *testing.T) {
	provider := &fakeProvider{responses: []ProviderResponse{{StatusCode: 410, Body: "gone"}}}
	db, worker := newWorkerFixture(t, provider)
	sub, notification := seedDelivery(t, db, 3)

	require.NoError(t, worker.deliver(context.Background(), notification.ID))

	require.Equal(t, 1, provider.calls, "permanent failures must not be retried")

	var got models.PushNotification
	require.NoError(t, db.First(&got, "id = ?", notification.ID).Error)
	require.Equal(t, models.PushStatusFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "expired")

	var gotSub models.PushSubscription
	require.NoError(t, db.First(&gotSub, "id = ?", sub.ID).Error)
	require.False(t, gotSub.IsActive)
}

func TestDeliverTransientErrorRetriesThenFails(t *testing.T) {
	provider := &fakeProvider{
		responses: []ProviderResponse{{}},
		errs:      []error{errors.New("timeout")},
	}
	db, worker := newWorkerFixture(t, provider)
	_, notification := seedDelivery(t, db, 3)

	require.NoError(t, worker.deliver(context.Background(), notification.ID))

	require.Equal(t, 3, provider.calls)

	var got models.PushNotification
	require.NoError(t, db.First(&got, "id = ?", notification.ID).Error)
	require.Equal(t, models.PushStatusFailed, got.Status)
	require.Equal(t, 3, got.RetryCount)
	require.Contains(t, got.ErrorMessage, "timeout")
}

func TestDeliverRecoversOnRetry(t *testing.T) {
	provider := &fakeProvider{
		responses: []ProviderResponse{{}, {StatusCode: 201}},
		errs:      []error{errors.New("timeout"), nil},
	}
	db, worker := newWorkerFixture(t, provider)
	_, notification := seedDelivery(t, db, 3)

	require.NoError(t, worker.deliver(context.Background(), notification.ID))

	require.Equal(t, 2, provider.calls)

	var got models.PushNotification
	require.NoError(t, db.First(&got, "id = ?", notification.ID).Error)
	require.Equal(t, models.PushStatusSent, got.Status)
}

func TestDeliverSkipsTerminalRecords(t *testing.T) {
	provider := &fakeProvider{responses: []ProviderResponse{{StatusCode: 201}}}
	db, worker := newWorkerFixture(t, provider)
	_, notification := seedDelivery(t, db, 3)

	require.NoError(t, db.Model(&notification).Update("status", models.PushStatusRead).Error)
	require.NoError(t, worker.deliver(context.Background(), notification.ID))

	require.Zero(t, provider.calls)

	var got models.PushNotification
	require.NoError(t, db.First(&got, "id = ?", notification.ID).Error)
	require.Equal(t, models.PushStatusRead, got.Status)
}

func TestDeliverInactiveSubscriptionFailsFast(t *testing.T) {
	provider := &fakeProvider{responses: []ProviderResponse{{StatusCode: 201}}}
	db, worker := newWorkerFixture(t, provider)
	sub, notification := seedDelivery(t, db, 3)

	require.NoError(t, db.Model(&sub).Update("is_active", false).Error)
	require.NoError(t, worker.deliver(context.Background(), notification.ID))

	require.Zero(t, provider.calls)

	var got models.PushNotification
	require.NoError(t, db.First(&got, "id = ?", notification.ID).Error)
	require.Equal(t, models.PushStatusFailed, got.Status)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	_, worker := newWorkerFixture(t, &fakeProvider{responses: []ProviderResponse{{}}})

	for i := 0; i < 4; i++ {
		require.NoError(t, worker.Enqueue("n"))
	}
	require.Equal(t, 4, worker.Depth())
	require.ErrorIs(t, worker.Enqueue("overflow"), ErrQueueFull)
}

func TestWorkerDrainsQueue(t *testing.T) {
	provider := &fakeProvider{responses: []ProviderResponse{{StatusCode: 201}}}
	db, worker := newWorkerFixture(t, provider)
	_, notification := seedDelivery(t, db, 3)

	worker.Start(context.Background())
	defer worker.Stop()

	require.NoError(t, worker.Enqueue(notification.ID))

	require.Eventually(t, func() bool {
		var got models.PushNotification
		if err := db.First(&got, "id = ?", notification.ID).Error; err != nil {
			return false
		}
		return got.Status == models.PushStatusSent
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProviderResponsePermanent(t *testing.T) {
	require.True(t, ProviderResponse{StatusCode: 404}.Permanent())
	require.True(t, ProviderResponse{StatusCode: 410}.Permanent())
	require.True(t, ProviderResponse{StatusCode: 200, Body: "subscription EXPIRED"}.Permanent())
	require.True(t, ProviderResponse{StatusCode: 400, Body: "user unsubscribed"}.Permanent())
	require.False(t, ProviderResponse{StatusCode: 201}.Permanent())
	require.False(t, ProviderResponse{StatusCode: 500, Body: "try later"}.Permanent())
}
