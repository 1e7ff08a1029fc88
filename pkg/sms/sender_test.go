package sms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, do doFunc) Sender {
	t.Helper()
	sender, err := NewGatewaySender(GatewaySettings{
		Enabled: true,
		APIURL:  "https://sms.example.com/send",
		APIKey:  "secret",
		Sender:  "RANDEVLY",
		Timeout: time.Second,
	})
	require.NoError(t, err)

	gs, ok := sender.(*gatewaySender)
	require.True(t, ok)
	gs.do = do
	return gs
}

func TestGatewaySenderSendsPayload(t *testing.T) {
	var captured *http.Request
	var capturedBody gatewayRequest

	sender := newTestSender(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &capturedBody))

		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"message_id":"msg-42"}`)),
		}, nil
	})

	result, err := sender.Send(context.Background(), Message{To: "+905550000001", Body: "hello"})
	require.NoError(t, err)
	require.Equal(t, "msg-42", result.MessageID)

	require.Equal(t, "Bearer secret", captured.Header.Get("Authorization"))
	require.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	require.Equal(t, "+905550000001", capturedBody.To)
	require.Equal(t, "RANDEVLY", capturedBody.From)
	require.Equal(t, "hello", capturedBody.Body)
}

func TestGatewaySenderRejectedMessage(t *testing.T) {
	sender := newTestSender(t, func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusUnprocessableEntity,
			Body:       io.NopCloser(strings.NewReader(`{"error":"invalid number"}`)),
		}, nil
	})

	_, err := sender.Send(context.Background(), Message{To: "+1", Body: "hello"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid number")
}

func TestGatewaySenderTransportError(t *testing.T) {
	sender := newTestSender(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := sender.Send(context.Background(), Message{To: "+905550000001", Body: "hello"})
	require.Error(t, err)
}

func TestGatewaySenderDisabled(t *testing.T) {
	sender, err := NewGatewaySender(GatewaySettings{Enabled: false})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), Message{To: "+905550000001", Body: "hello"})
	require.ErrorIs(t, err, ErrSMSDisabled)
}

func TestGatewaySenderValidatesInput(t *testing.T) {
	sender := newTestSender(t, func(*http.Request) (*http.Response, error) {
		t.Fatal("request must not be sent")
		return nil, nil
	})

	_, err := sender.Send(context.Background(), Message{Body: "hello"})
	require.Error(t, err)

	_, err = sender.Send(context.Background(), Message{To: "+905550000001"})
	require.Error(t, err)
}

func TestGatewayConfigValidation(t *testing.T) {
	_, err := NewGatewaySender(GatewaySettings{Enabled: true})
	require.Error(t, err)

	_, err = NewGatewaySender(GatewaySettings{Enabled: true, APIURL: "https://sms.example.com"})
	require.Error(t, err)
}
