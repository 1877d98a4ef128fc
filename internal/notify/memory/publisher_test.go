package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hnwatch/hnwatch/internal/notify"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	event := notify.RunCompleted{
		SnapshotMoment: time.Unix(1700000000, 0).UTC(),
		Observed:       120,
		FirstPage:      30,
	}

	id, err := p.Publish(context.Background(), "runs.completed", event)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "runs.completed", msgs[0].Topic)
	require.Equal(t, event, msgs[0].Payload)
}
