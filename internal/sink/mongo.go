package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/store"
)

// mongoSink writes batches into the monitor_main and monitor_alerts
// collections. MongoDB has no multi-collection transaction on standalone
// deployments, so the batch is written main-first and alerts second; a retry
// after a mid-batch failure may duplicate main documents, which the
// (instance_name, timestamp) index makes cheap to deduplicate downstream.
type mongoSink struct {
	cfg    *Config
	client *mongo.Client
}

func newMongoSink(cfg *Config) *mongoSink {
	return &mongoSink{cfg: cfg}
}

func (s *mongoSink) database() *mongo.Database {
	return s.client.Database(s.cfg.Database)
}

func (s *mongoSink) Connect(ctx context.Context) error {
	client, err := store.OpenMongo(ctx, store.Config{
		Kind:     s.cfg.DBType,
		Host:     s.cfg.Host,
		Port:     s.cfg.Port,
		User:     s.cfg.User,
		Password: s.cfg.Password,
		Database: s.cfg.Database,
	})
	if err != nil {
		return err
	}
	s.client = client
	log.Infof("sink: connected to mongodb at %s:%d", s.cfg.Host, s.cfg.Port)
	return nil
}

func (s *mongoSink) EnsureSchema(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys: bson.D{{Key: "instance_name", Value: 1}, {Key: "timestamp", Value: 1}},
	}
	for _, name := range []string{"monitor_main", "monitor_alerts"} {
		if _, err := s.database().Collection(name).Indexes().CreateOne(ctx, index); err != nil {
			return fmt.Errorf("ensure %s index: %w", name, err)
		}
	}
	return nil
}

func (s *mongoSink) WriteBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	mains := make([]interface{}, 0, len(records))
	var alerts []interface{}
	for _, r := range records {
		mains = append(mains, mainDocument(r))
		for i := range r.Alerts {
			alerts = append(alerts, alertDocument(&r.Alerts[i]))
		}
	}

	db := s.database()
	if _, err := db.Collection("monitor_main").InsertMany(ctx, mains); err != nil {
		return fmt.Errorf("insert monitor_main batch: %w", err)
	}
	if len(alerts) > 0 {
		if _, err := db.Collection("monitor_alerts").InsertMany(ctx, alerts); err != nil {
			return fmt.Errorf("insert monitor_alerts batch: %w", err)
		}
	}
	return nil
}

func mainDocument(r *Record) bson.M {
	doc := bson.M{
		"instance_name":      r.InstanceName,
		"timestamp":          r.Timestamp,
		"monitor_time":       r.MonitorTime,
		"connection_status":  r.ConnectionStatus,
		"replication_status": r.ReplicationStatus,
		"created_at":         time.Now(),
	}
	putInt64(doc, "connection_count", r.ConnectionCount)
	putFloat(doc, "connection_percent", r.ConnectionPercent)
	putInt64(doc, "threads_running", r.ThreadsRunning)
	putInt64(doc, "threads_connected", r.ThreadsConnected)
	putInt64(doc, "threads_created", r.ThreadsCreated)
	putInt64(doc, "threads_cached", r.ThreadsCached)
	putFloat(doc, "qps", r.QPS)
	putFloat(doc, "total_queries", r.TotalQueries)
	putFloat(doc, "uptime", r.Uptime)
	putInt64(doc, "slow_queries", r.SlowQueries)
	putFloat(doc, "long_query_time", r.LongQueryTime)
	if r.SlowQueryLog != nil {
		doc["slow_query_log"] = *r.SlowQueryLog
	}
	putFloat(doc, "innodb_cache_hit_rate", r.InnoDBHitRate)
	putFloat(doc, "query_cache_hit_rate", r.QueryCacheHitRate)
	putFloat(doc, "tablespace_usage", r.TablespaceUsage)
	return doc
}

func alertDocument(a *AlertRow) bson.M {
	return bson.M{
		"instance_name": a.InstanceName,
		"timestamp":     a.Timestamp,
		"level":         a.Level,
		"metric":        a.Metric,
		"message":       a.Message,
		"value":         a.Value,
		"threshold":     a.Threshold,
		"created_at":    time.Now(),
	}
}

func putInt64(doc bson.M, key string, v *int64) {
	if v != nil {
		doc[key] = *v
	}
}

func putFloat(doc bson.M, key string, v *float64) {
	if v != nil {
		doc[key] = *v
	}
}

func (s *mongoSink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}
