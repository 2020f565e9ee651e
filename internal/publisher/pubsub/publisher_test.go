package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type notification struct {
	RunID string `json:"run_id"`
}

func (n notification) Attributes() map[string]string {
	return map[string]string{"run_id": n.RunID}
}

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/test-project/topics/reports"})
	require.NoError(t, err)

	pub := New(client, "reports")
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	t.Parallel()

	pub, srv := newTestPublisher(t)
	id, err := pub.Publish(context.Background(), "", notification{RunID: "run-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])

	var decoded notification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "run-1", decoded.RunID)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	var unset *Publisher
	_, err := unset.Publish(context.Background(), "reports", "x")
	require.ErrorContains(t, err, "not configured")

	pub, _ := newTestPublisher(t)
	pub.defaultTopic = ""
	_, err = pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "reports", func() {})
	require.ErrorContains(t, err, "marshal payload")
}

func TestOpenRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", "reports")
	require.Error(t, err)
}
