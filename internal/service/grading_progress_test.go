package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/grading"
)

func TestProgressPublisherPublishesToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "grading:progress")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewProgressPublisher(client, "grading:progress", nil, "grading.progress", testLogger())
	sentAt := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	publisher.now = func() time.Time { return sentAt }

	publisher.Report(ctx, grading.ProgressEvent{SubmissionID: "5", Stage: "grading", Percent: 50, Message: "grading 3 questions"})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var envelope progressEnvelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
	require.Equal(t, publisher.nodeID, envelope.Source)
	require.Equal(t, sentAt, envelope.SentAt)
	require.Equal(t, "5", envelope.Event.SubmissionID)
	require.Equal(t, "grading", envelope.Event.Stage)
	require.Equal(t, 50, envelope.Event.Percent)
}

func TestProgressPublisherToleratesMissingTransports(t *testing.T) {
	publisher := NewProgressPublisher(nil, "", nil, "", testLogger())
	publisher.Report(context.Background(), grading.ProgressEvent{SubmissionID: "5", Stage: "completed", Percent: 100})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	down := NewProgressPublisher(client, "grading:progress", nil, "", testLogger())
	down.Report(context.Background(), grading.ProgressEvent{SubmissionID: "5", Stage: "failed", Percent: 100})
}
