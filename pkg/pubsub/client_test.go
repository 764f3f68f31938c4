package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/attribution-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		project, kind, name, want string
	}{
		{"proj", "topics", "forwarding", "projects/proj/topics/forwarding"},
		{"proj", "subscriptions", " worker ", "projects/proj/subscriptions/worker"},
		{"proj", "topics", "projects/other/topics/x", "projects/other/topics/x"},
		{"", "topics", "forwarding", ""},
		{"proj", "topics", "", ""},
	}
	for _, tc := range cases {
		if got := resourceName(tc.project, tc.kind, tc.name); got != tc.want {
			t.Fatalf("resourceName(%q,%q,%q)=%q want %q", tc.project, tc.kind, tc.name, got, tc.want)
		}
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{ForwardingTopic: "t"}, nil); !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected project error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil); !errors.Is(err, errTopicRequired) {
		t.Fatalf("expected topic error, got %v", err)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.ForwardingPublisher() != nil || c.ForwardingSubscription() != nil {
		t.Fatalf("nil client should return nil handles")
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}
