// README: Daily driver earnings: Firestore moneyByRider ledger and Redis day counters.
package earnings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ecoshare/internal/types"
)

const (
	Collection = "moneyByRider"
	counterTTL = 48 * time.Hour
)

// Recorder books the fare of an accepted ride against the driver's day.
type Recorder interface {
	Record(ctx context.Context, driverID types.ID, fare float64, at time.Time) error
}

// DailyReader reads back what a Recorder booked for one day.
type DailyReader interface {
	Today(ctx context.Context, driverID types.ID, at time.Time) (Day, error)
}

// DocID is the moneyByRider document of driverID for the calendar day of at.
func DocID(driverID types.ID, at time.Time) string {
	return string(driverID) + "_" + at.Format("20060102")
}

type FirestoreLedger struct {
	fs *firestore.Client
}

func NewFirestoreLedger(fs *firestore.Client) *FirestoreLedger {
	return &FirestoreLedger{fs: fs}
}

func (l *FirestoreLedger) Record(ctx context.Context, driverID types.ID, fare float64, at time.Time) error {
	ref := l.fs.Collection(Collection).Doc(DocID(driverID, at))
	_, err := ref.Set(ctx, map[string]interface{}{
		"driverId":  string(driverID),
		"date":      at.Format("2006-01-02"),
		"total":     firestore.Increment(fare),
		"trips":     firestore.ArrayUnion(map[string]interface{}{"fare": fare, "timestamp": at}),
		"updatedAt": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("record earnings for %s: %w", driverID, err)
	}
	return nil
}

func (l *FirestoreLedger) Today(ctx context.Context, driverID types.ID, at time.Time) (Day, error) {
	snap, err := l.fs.Collection(Collection).Doc(DocID(driverID, at)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Day{}, nil
	}
	if err != nil {
		return Day{}, fmt.Errorf("read earnings for %s: %w", driverID, err)
	}
	return dayFromData(snap.Data())
}

func dayFromData(data map[string]interface{}) (Day, error) {
	var d Day
	switch v := data["total"].(type) {
	case nil:
	case int64:
		d.Total = float64(v)
	case float64:
		d.Total = v
	default:
		return Day{}, fmt.Errorf("total: unexpected %T", v)
	}
	if trips, ok := data["trips"].([]interface{}); ok {
		d.Rides = int64(len(trips))
	}
	return d, nil
}

// Day is one driver's running totals for a calendar day.
type Day struct {
	Total float64
	Rides int64
}

type RedisCounter struct {
	redis *redis.Client
}

func NewRedisCounter(redis *redis.Client) *RedisCounter {
	return &RedisCounter{redis: redis}
}

func (c *RedisCounter) Record(ctx context.Context, driverID types.ID, fare float64, at time.Time) error {
	total, rides := counterKeys(driverID, at)
	pipe := c.redis.TxPipeline()
	pipe.IncrByFloat(ctx, total, fare)
	pipe.Incr(ctx, rides)
	pipe.Expire(ctx, total, counterTTL)
	pipe.Expire(ctx, rides, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bump earnings counters for %s: %w", driverID, err)
	}
	return nil
}

func (c *RedisCounter) Today(ctx context.Context, driverID types.ID, at time.Time) (Day, error) {
	total, rides := counterKeys(driverID, at)
	vals, err := c.redis.MGet(ctx, total, rides).Result()
	if err != nil {
		return Day{}, err
	}
	var d Day
	if s, ok := vals[0].(string); ok {
		if d.Total, err = strconv.ParseFloat(s, 64); err != nil {
			return Day{}, err
		}
	}
	if s, ok := vals[1].(string); ok {
		if d.Rides, err = strconv.ParseInt(s, 10, 64); err != nil {
			return Day{}, err
		}
	}
	return d, nil
}

func counterKeys(driverID types.ID, at time.Time) (total, rides string) {
	day := at.Format("2006-01-02")
	return fmt.Sprintf("earnings:%s:%s", driverID, day), fmt.Sprintf("rides:%s:%s", driverID, day)
}

type multiRecorder []Recorder

// Multi records into every recorder and joins their errors.
func Multi(rs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiRecorder) Record(ctx context.Context, driverID types.ID, fare float64, at time.Time) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, driverID, fare, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
