package mongo_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tripwire-kernel/kernel/agentevent"
	"github.com/tripwire-kernel/kernel/hooks"
	sinkmongo "github.com/tripwire-kernel/kernel/sink/mongo"
)

func agentEventFixture() agentevent.AgentEvent {
	return agentevent.AgentEvent{Timestamp: 1_000, TokenCount: 100, ToolCalls: 1, LatencyMs: 50, OutputLength: 200}
}

var (
	testMongoClient    *mongodriver.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, MongoDB tests will be skipped: %v\n", containerErr)
		skipMongoTests = true
	} else {
		host, err := testMongoContainer.Host(ctx)
		if err != nil {
			fmt.Printf("failed to get container host: %v\n", err)
			skipMongoTests = true
		} else {
			port, err := testMongoContainer.MappedPort(ctx, "27017")
			if err != nil {
				fmt.Printf("failed to get container port: %v\n", err)
				skipMongoTests = true
			} else {
				uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
				testMongoClient, err = mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
				if err != nil {
					fmt.Printf("failed to connect to mongodb: %v\n", err)
					skipMongoTests = true
				} else if err := testMongoClient.Ping(ctx, nil); err != nil {
					fmt.Printf("failed to ping mongodb: %v\n", err)
					skipMongoTests = true
				}
			}
		}
	}

	code := m.Run()

	if testMongoClient != nil {
		_ = testMongoClient.Disconnect(ctx)
	}
	if testMongoContainer != nil {
		_ = testMongoContainer.Terminate(ctx)
	}

	os.Exit(code)
}

func getMongoSink(t *testing.T) (*sinkmongo.Sink, *mongodriver.Collection) {
	t.Helper()
	if skipMongoTests {
		t.Skip("Docker not available, skipping MongoDB test")
	}
	coll := testMongoClient.Database("kernel_test").Collection(t.Name())
	require.NoError(t, coll.Drop(context.Background()))

	sink, err := sinkmongo.NewSink(sinkmongo.Options{
		Client:     testMongoClient,
		Database:   "kernel_test",
		Collection: t.Name(),
	})
	require.NoError(t, err)
	return sink, coll
}

func TestSink_HandleEventInsertsDocument(t *testing.T) {
	sink, coll := getMongoSink(t)
	ctx := context.Background()

	event := hooks.NewAgentEventEvent(1_000, agentEventFixture())
	require.NoError(t, sink.HandleEvent(ctx, event))

	count, err := coll.CountDocuments(ctx, map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSink_HandleEventPersistsTypeAndTimestamp(t *testing.T) {
	sink, coll := getMongoSink(t)
	ctx := context.Background()

	event := hooks.NewAgentEventEvent(2_000, agentEventFixture())
	require.NoError(t, sink.HandleEvent(ctx, event))

	var doc struct {
		Type      string `bson:"type"`
		Timestamp int64  `bson:"timestamp"`
	}
	require.NoError(t, coll.FindOne(ctx, map[string]any{}).Decode(&doc))
	assert.Equal(t, string(hooks.EventAgentEvent), doc.Type)
	assert.EqualValues(t, 2_000, doc.Timestamp)
}
