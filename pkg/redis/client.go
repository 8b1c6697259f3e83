package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const locationsKey = "vehicle:locations"

// Position is a vehicle's last reported position plus motion metadata.
type Position struct {
	Lat        float64
	Lng        float64
	Heading    float64
	Speed      float64
	RecordedAt time.Time
}

// Client wraps the Redis connection.
type Client struct {
	rdb *goredis.Client
}

// NewClient connects to Redis with retry.
func NewClient(addr string) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(ctx).Err(); err == nil {
			cancel()
			log.Println("Connected to Redis")
			return &Client{rdb: rdb}, nil
		}
		cancel()
		log.Printf("Waiting for Redis... (%d/20)", i+1)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("redis: failed to connect after 20 attempts")
}

// SetVehiclePosition stores a vehicle's position in the GEO set and its
// motion metadata in a per-vehicle hash.
func (c *Client) SetVehiclePosition(ctx context.Context, vehicleID string, p Position) error {
	pipe := c.rdb.Pipeline()
	pipe.GeoAdd(ctx, locationsKey, &goredis.GeoLocation{
		Name:      vehicleID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	})
	pipe.HSet(ctx, "vehicle:pos:"+vehicleID, map[string]any{
		"lat":         p.Lat,
		"lng":         p.Lng,
		"heading":     p.Heading,
		"speed":       p.Speed,
		"recorded_at": p.RecordedAt.UTC().Format(time.RFC3339Nano),
	})
	_, err := pipe.Exec(ctx)
	return err
}

// GetVehiclePosition returns the last stored position, or nil if the
// vehicle has never reported one.
func (c *Client) GetVehiclePosition(ctx context.Context, vehicleID string) (*Position, error) {
	fields, err := c.rdb.HGetAll(ctx, "vehicle:pos:"+vehicleID).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	p := &Position{}
	p.Lat, _ = strconv.ParseFloat(fields["lat"], 64)
	p.Lng, _ = strconv.ParseFloat(fields["lng"], 64)
	p.Heading, _ = strconv.ParseFloat(fields["heading"], 64)
	p.Speed, _ = strconv.ParseFloat(fields["speed"], 64)
	p.RecordedAt, _ = time.Parse(time.RFC3339Nano, fields["recorded_at"])
	return p, nil
}

// GetNearbyVehicles returns vehicle IDs within radiusKm of (lat,lng),
// closest first.
func (c *Client) GetNearbyVehicles(ctx context.Context, lat, lng, radiusKm float64, count int) ([]string, error) {
	res, err := c.rdb.GeoSearch(ctx, locationsKey, &goredis.GeoSearchQuery{
		Longitude:  lng,
		Latitude:   lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Count:      count,
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RemoveVehiclePosition removes a vehicle from the GEO set (e.g. when the
// vehicle is soft-disabled).
func (c *Client) RemoveVehiclePosition(ctx context.Context, vehicleID string) error {
	pipe := c.rdb.Pipeline()
	pipe.ZRem(ctx, locationsKey, vehicleID)
	pipe.Del(ctx, "vehicle:pos:"+vehicleID)
	_, err := pipe.Exec(ctx)
	return err
}

// Close tears down the Redis connection.
func (c *Client) Close() error { return c.rdb.Close() }
