package collector

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/store"
)

type mongoCollector struct {
	name   string
	cfg    store.Config
	client *mongo.Client
}

func newMongoCollector(inst registry.Instance, cfg store.Config) *mongoCollector {
	if cfg.Database == "" {
		cfg.Database = "admin"
	}
	return &mongoCollector{name: inst.Name, cfg: cfg}
}

func (c *mongoCollector) Open(ctx context.Context) error {
	client, err := store.OpenMongo(ctx, c.cfg)
	if err != nil {
		return err
	}
	c.client = client
	return nil
}

func (c *mongoCollector) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(context.Background())
	c.client = nil
	return err
}

func (c *mongoCollector) Ping(ctx context.Context) bool {
	if c.client == nil {
		return false
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.client.Ping(qctx, readpref.Primary()) == nil
}

func (c *mongoCollector) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.QueryTimeout
	if timeout == 0 {
		timeout = store.DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *mongoCollector) probe(name string, fn func() error) {
	if err := fn(); err != nil {
		log.Warnf("%s: %s probe failed: %s; field skipped", c.name, name, err)
	}
}

// runCommand executes a database command and returns the decoded document.
func (c *mongoCollector) runCommand(ctx context.Context, db string, cmd interface{}) (bson.M, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var out bson.M
	if err := c.client.Database(db).RunCommand(qctx, cmd).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *mongoCollector) Collect(ctx context.Context) *model.Metrics {
	m := &model.Metrics{}
	if c.client == nil {
		m.CollectionError = "not connected"
		return m
	}
	m.ConnectionStatus = c.Ping(ctx)
	if !m.ConnectionStatus {
		m.CollectionError = "connection check failed"
		return m
	}

	var status bson.M
	c.probe("server_status", func() error {
		var err error
		status, err = c.runCommand(ctx, "admin", bson.D{{Key: "serverStatus", Value: 1}})
		return err
	})

	if status != nil {
		c.probe("connection_stats", func() error {
			conns, ok := subDoc(status, "connections")
			if !ok {
				return fmt.Errorf("serverStatus carries no connections document")
			}
			m.ConnectionStats = mongoConnectionStats(conns)
			return nil
		})

		c.probe("qps", func() error {
			ops, ok := subDoc(status, "opcounters")
			if !ok {
				return fmt.Errorf("serverStatus carries no opcounters document")
			}
			m.QPS = mongoQPS(ops, numeric(status["uptime"]))
			return nil
		})

		c.probe("cache_hit_rate", func() error {
			wt, ok := subDoc(status, "wiredTiger")
			if !ok {
				return fmt.Errorf("serverStatus carries no wiredTiger document")
			}
			cache, ok := subDoc(wt, "cache")
			if !ok {
				return fmt.Errorf("wiredTiger carries no cache document")
			}
			m.CacheHitRate = mongoCacheHitRate(cache)
			return nil
		})
	}

	c.probe("slow_queries", func() error {
		profile, err := c.runCommand(ctx, c.cfg.Database, bson.D{{Key: "profile", Value: -1}})
		if err != nil {
			return err
		}
		slowMS := numeric(profile["slowms"])
		cur, err := c.runCommand(ctx, "admin", bson.D{{Key: "currentOp", Value: 1}})
		if err != nil {
			return err
		}
		count := mongoSlowOps(cur, slowMS/1000)
		threshold := slowMS / 1000
		m.SlowQueries = &model.SlowQueries{Count: count, ThresholdSeconds: &threshold}
		return nil
	})

	c.probe("tablespace_usage", func() error {
		stats, err := c.runCommand(ctx, c.cfg.Database, bson.D{{Key: "dbStats", Value: 1}, {Key: "scale", Value: 1}})
		if err != nil {
			return err
		}
		m.TablespaceUsage = &model.TablespaceUsage{Storage: mongoStorageUsage(c.cfg.Database, stats)}
		return nil
	})

	c.probe("process_list", func() error {
		cur, err := c.runCommand(ctx, "admin", bson.D{{Key: "currentOp", Value: 1}})
		if err != nil {
			return err
		}
		m.ProcessList = mongoProcessList(cur)
		return nil
	})

	c.probe("replication_status", func() error {
		repl, err := c.runCommand(ctx, "admin", bson.D{{Key: "replSetGetStatus", Value: 1}})
		if err != nil {
			// Standalone servers reject the command.
			m.ReplicationStatus = &model.ReplicationStatus{Status: model.ReplStatusNotReplicaSet}
			return nil
		}
		m.ReplicationStatus = mongoReplicationStatus(repl)
		return nil
	})

	return m
}

// numeric coerces a BSON numeric value (int32, int64, double) to float64.
func numeric(v interface{}) float64 {
	switch t := v.(type) {
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}

func subDoc(doc bson.M, key string) (bson.M, bool) {
	switch t := doc[key].(type) {
	case bson.M:
		return t, true
	case map[string]interface{}:
		return t, true
	default:
		return nil, false
	}
}

func mongoConnectionStats(conns bson.M) *model.ConnectionStats {
	current := int64(numeric(conns["current"]))
	available := int64(numeric(conns["available"]))
	max := current + available

	var percent float64
	if max > 0 {
		percent = float64(current) / float64(max) * 100
	}
	return &model.ConnectionStats{
		MaxConnections:       max,
		CurrentConnections:   current,
		ConnectionPercent:    percent,
		AvailableConnections: &available,
	}
}

func mongoQPS(opcounters bson.M, uptime float64) *model.QPS {
	var total float64
	for _, v := range opcounters {
		total += numeric(v)
	}
	q := &model.QPS{TotalQueries: total, UptimeSeconds: uptime}
	if uptime > 0 {
		q.QPS = total / uptime
	}
	return q
}

// mongoCacheHitRate derives the WiredTiger cache hit rate from the
// "pages requested from the cache" and "pages read into cache" counters.
func mongoCacheHitRate(cache bson.M) *model.CacheHitRate {
	requested := numeric(cache["pages requested from the cache"])
	readIn := numeric(cache["pages read into cache"])

	hits := requested - readIn
	if hits < 0 {
		hits = 0
	}
	out := &model.CacheHitRate{Hits: &hits, Misses: &readIn}
	if total := hits + readIn; total > 0 {
		rate := hits / total * 100
		out.RatePercent = &rate
	}
	return out
}

func mongoStorageUsage(database string, stats bson.M) *model.StorageUsage {
	dataSize := numeric(stats["dataSize"]) / 1024 / 1024
	storageSize := numeric(stats["storageSize"]) / 1024 / 1024
	indexSize := numeric(stats["indexSize"]) / 1024 / 1024

	u := &model.StorageUsage{
		Database:      database,
		TotalSizeMB:   dataSize,
		StorageSizeMB: storageSize,
		IndexSizeMB:   indexSize,
		Collections:   int64(numeric(stats["collections"])),
	}
	if storageSize > 0 {
		percent := dataSize / storageSize * 100
		u.UsagePercent = &percent
	}
	return u
}

// mongoSlowOps counts in-progress operations running longer than the
// threshold.
func mongoSlowOps(currentOp bson.M, thresholdSeconds float64) int64 {
	ops, ok := currentOp["inprog"].(bson.A)
	if !ok {
		return 0
	}
	var count int64
	for _, raw := range ops {
		op, ok := raw.(bson.M)
		if !ok {
			continue
		}
		if numeric(op["secs_running"]) > thresholdSeconds {
			count++
		}
	}
	return count
}

func mongoProcessList(currentOp bson.M) []model.Process {
	ops, ok := currentOp["inprog"].(bson.A)
	if !ok {
		return nil
	}
	out := make([]model.Process, 0, len(ops))
	for _, raw := range ops {
		op, ok := raw.(bson.M)
		if !ok {
			continue
		}
		p := model.Process{
			ID:    fmt.Sprintf("%v", op["opid"]),
			Host:  asString(op["client"]),
			State: asString(op["op"]),
		}
		if ns := asString(op["ns"]); ns != "" {
			p.Database = ns
		}
		if q := op["command"]; q != nil {
			p.Query = fmt.Sprintf("%v", model.NormalizeTree(toPlain(q)))
		}
		out = append(out, p)
	}
	return out
}

func mongoReplicationStatus(repl bson.M) *model.ReplicationStatus {
	members, ok := repl["members"].(bson.A)
	if !ok || len(members) == 0 {
		return &model.ReplicationStatus{Status: model.ReplStatusNotReplicaSet}
	}

	rs := &model.ReplicationStatus{Status: model.ReplStatusRunning, ReplicaSet: asString(repl["set"])}
	memberCount := int64(len(members))
	rs.MemberCount = &memberCount

	healthy := true
	for _, raw := range members {
		member, ok := raw.(bson.M)
		if !ok {
			continue
		}
		state := asString(member["stateStr"])
		name := asString(member["name"])
		switch state {
		case "PRIMARY":
			rs.Primary = name
		case "SECONDARY":
			rs.Secondaries = append(rs.Secondaries, name)
		default:
			healthy = false
		}
	}
	if rs.Primary == "" || !healthy {
		rs.Status = model.ReplStatusError
	}
	return rs
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// toPlain converts bson containers into plain maps/slices so the generic
// normalizer can walk them.
func toPlain(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = toPlain(e)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = toPlain(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = toPlain(e)
		}
		return out
	case time.Time:
		return t.Format(model.TimestampLayout)
	default:
		return t
	}
}
