package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliasyaoyc/fastjob/internal/eventbus"
	"github.com/eliasyaoyc/fastjob/internal/store"
)

type sinkFunc func(eventbus.Alarm) error

func (f sinkFunc) Notify(ctx context.Context, a eventbus.Alarm) error { return f(a) }

func TestWebhookPostsAlarmJSON(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second)
	err := wh.Notify(context.Background(), eventbus.Alarm{Level: "critical", Title: "boom", Message: "m"})
	require.NoError(t, err)
	assert.Contains(t, gotBody, "boom")
}

func TestWebhookReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second)
	err := wh.Notify(context.Background(), eventbus.Alarm{Title: "boom"})
	assert.Error(t, err)
}

func TestRouteSynthesizesAlarmFromFailedCompletion(t *testing.T) {
	var delivered []eventbus.Alarm
	sink := sinkFunc(func(a eventbus.Alarm) error {
		delivered = append(delivered, a)
		return nil
	})

	handler := Route([]Sink{sink})
	err := handler(eventbus.Event{InstanceCompleted: &eventbus.InstanceCompleted{
		InstanceID: 1, Status: store.Failed, Result: "oops",
	}})
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, "oops", delivered[0].Message)
}

func TestRouteIgnoresSuccessfulCompletion(t *testing.T) {
	var delivered []eventbus.Alarm
	sink := sinkFunc(func(a eventbus.Alarm) error {
		delivered = append(delivered, a)
		return nil
	})

	handler := Route([]Sink{sink})
	err := handler(eventbus.Event{InstanceCompleted: &eventbus.InstanceCompleted{
		InstanceID: 1, Status: store.Success,
	}})
	require.NoError(t, err)
	assert.Empty(t, delivered)
}

func TestRouteRoutesAlarmDirectly(t *testing.T) {
	var delivered []eventbus.Alarm
	sink := sinkFunc(func(a eventbus.Alarm) error {
		delivered = append(delivered, a)
		return nil
	})

	handler := Route([]Sink{sink})
	err := handler(eventbus.Event{Alarm: &eventbus.Alarm{Title: "direct"}})
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, "direct", delivered[0].Title)
}
