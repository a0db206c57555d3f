package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("no settlement topics configured")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client publishes settlement events. Topics are provisioned outside the
// service; the client only checks they exist, at startup and on Ping.
type Client struct {
	client    *pubsub.Client
	projectID string
	topics    []string
	// topicExists is swapped in tests; production asks the topic admin API.
	topicExists func(ctx context.Context, fullName string) error
}

// NewClient connects and refuses to start while any configured topic is
// missing, so events are never relayed into the void.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topics := topicNames(cfg)
	if len(topics) == 0 {
		return nil, errNoTopics
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pubsub client")
	}
	c := &Client{
		client:    psClient,
		projectID: projectID,
		topics:    topics,
		topicExists: func(ctx context.Context, fullName string) error {
			_, err := psClient.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
			return err
		},
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"gcp_project": projectID,
			"topics":      strings.Join(topics, ","),
		}), "pubsub topics verified")
	}
	return c, nil
}

// topicNames lists the configured topics once each; orders and
// notifications may share a topic.
func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	seen := map[string]struct{}{}
	for _, name := range []string{cfg.OrdersTopic, cfg.NotificationTopic} {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Ping checks every configured topic and reports all that are missing or
// unreachable in one error.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.topicExists == nil {
		return errNotInitialized
	}
	var missing, failed error
	for _, name := range c.topics {
		err := c.topicExists(ctx, c.topicResourceName(name))
		switch {
		case err == nil:
		case status.Code(err) == codes.NotFound:
			missing = multierr.Append(missing, fmt.Errorf("topic %q does not exist", name))
		default:
			failed = multierr.Append(failed, fmt.Errorf("checking topic %q: %w", name, err))
		}
	}
	if failed != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, multierr.Append(failed, missing), "pubsub unreachable")
	}
	if missing != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, missing, "pubsub topics missing")
	}
	return nil
}

// Publisher returns a publisher for a topic id or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return nil
	}
	return c.client.Publisher(fullName)
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	if c.projectID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", c.projectID, n)
}
