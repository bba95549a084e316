package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/observability"
)

// DefaultClusterPrefix is the etcd keyspace BeamLens nodes publish
// notifications under (spec.md §4.3, "cluster-wide topic").
const DefaultClusterPrefix = "/beamlens/alerts/"

// ClusterConfig configures the optional cross-node fan-out forwarder.
type ClusterConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Endpoints []string `yaml:"endpoints"`
	Prefix   string   `yaml:"prefix"`
	Node     string   `yaml:"node"`
	DialTimeout time.Duration `yaml:"dial_timeout_ms"`
	LeaseTTL    int64         `yaml:"lease_ttl_seconds"`
}

func (c *ClusterConfig) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultClusterPrefix
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 300
	}
}

func (c *ClusterConfig) Validate() error {
	if c.Enabled && len(c.Endpoints) == 0 {
		return fmt.Errorf("bus: cluster fan-out enabled but no etcd endpoints configured")
	}
	if c.Enabled && c.Node == "" {
		return fmt.Errorf("bus: cluster fan-out enabled but node identifier is empty")
	}
	return nil
}

// wireNotification is the serialized envelope published on the cluster
// topic, tagging the notification with its origin node so remote
// subscribers can discard their own rebroadcasts (loop prevention, spec.md
// §4.3).
type wireNotification struct {
	SourceNode   string                     `json:"source_node"`
	Notification notification.Notification `json:"notification"`
}

// Forwarder subscribes to the local alert bus itself (not to the
// alert_handler.alert_fired telemetry event) and republishes every pushed
// notification on a cluster-wide etcd keyspace; it also watches
// that keyspace and re-injects notifications from other nodes into the
// local bus.
type Forwarder struct {
	cfg       ClusterConfig
	local     *Bus
	etcd      *clientv3.Client
	telemetry *observability.Bus
}

// NewForwarder dials etcd and returns a ready-to-start Forwarder. Returns
// (nil, nil) if cfg.Enabled is false — callers can unconditionally call
// this and check for a nil result.
func NewForwarder(cfg ClusterConfig, local *Bus, telemetry *observability.Bus) (*Forwarder, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("bus: dial etcd: %w", err)
	}

	return &Forwarder{cfg: cfg, local: local, etcd: cli, telemetry: telemetry}, nil
}

// Run subscribes to the local alert bus and watches the cluster
// keyspace for remote notifications, blocking until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	unsubscribe := f.subscribeLocal(ctx)
	defer unsubscribe()

	watchChan := f.etcd.Watch(ctx, f.cfg.Prefix, clientv3.WithPrefix())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-watchChan:
			if !ok {
				return nil
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				f.handleRemote(ev.Kv.Value)
			}
		}
	}
}

// subscribeLocal takes a subscriber channel on the local alert bus and
// republishes each notification received on it to the cluster. The
// telemetry bus is not consulted; publishing the Notification itself keeps
// the wire payload exact.
func (f *Forwarder) subscribeLocal(ctx context.Context) func() {
	subCtx, cancel := context.WithCancel(ctx)
	ch := f.local.Subscribe(subCtx)

	go func() {
		for n := range ch {
			f.publish(subCtx, n)
		}
	}()

	return cancel
}

func (f *Forwarder) publish(ctx context.Context, n notification.Notification) {
	env := wireNotification{SourceNode: f.cfg.Node, Notification: n}
	payload, err := json.Marshal(env)
	if err != nil {
		f.telemetry.Event("alert_handler.forward_error", map[string]any{"reason": err.Error()})
		return
	}

	key := path.Join(f.cfg.Prefix, n.ID)
	lease, err := f.etcd.Grant(ctx, f.cfg.LeaseTTL)
	if err != nil {
		f.telemetry.Event("alert_handler.forward_error", map[string]any{"reason": err.Error()})
		return
	}
	if _, err := f.etcd.Put(ctx, key, string(payload), clientv3.WithLease(lease.ID)); err != nil {
		f.telemetry.Event("alert_handler.forward_error", map[string]any{"reason": err.Error()})
		return
	}
	f.telemetry.Event("alert_handler.forwarded", map[string]any{"id": n.ID, "node": f.cfg.Node})
}

func (f *Forwarder) handleRemote(raw []byte) {
	var env wireNotification
	if err := json.Unmarshal(raw, &env); err != nil {
		f.telemetry.Event("alert_handler.forward_decode_error", map[string]any{"reason": err.Error()})
		return
	}
	if env.SourceNode == f.cfg.Node {
		// Loop prevention: ignore our own rebroadcasts (spec.md §4.3).
		return
	}
	if err := f.local.Push(env.Notification); err != nil {
		f.telemetry.Event("alert_handler.forward_ingest_error", map[string]any{"reason": err.Error()})
	}
}

// Close releases the etcd client.
func (f *Forwarder) Close() error {
	return f.etcd.Close()
}
