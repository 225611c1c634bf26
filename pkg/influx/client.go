// Package influx records security time series (threat score and events) in InfluxDB.
package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/pkg/config"
)

const (
	defaultPingTimeout   = 5 * time.Second
	defaultBatchSize     = 50
	defaultFlushInterval = 5000 // milliseconds

	measurementThreatScore = "threat_score"
	measurementThreatEvent = "threat_events"
)

var ErrConnectionFailed = errors.New("influxdb: connection failed")

// Client writes points asynchronously through the batching write API.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *zap.Logger
}

// Connect verifies the server is healthy and starts the write error drain.
func Connect(cfg config.InfluxDBConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(defaultBatchSize).
			SetFlushInterval(defaultFlushInterval))

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{client: client, writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket), logger: logger}
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.logger.Warn("influxdb write failed", zap.Error(err))
	}
}

// WriteThreatScore records the global score after a change.
func (c *Client) WriteThreatScore(score int, level, cause string, at time.Time) {
	c.writeAPI.WritePoint(write.NewPoint(
		measurementThreatScore,
		map[string]string{"level": level, "cause": cause},
		map[string]interface{}{"score": score},
		at,
	))
}

// WriteThreatEvent records a single security event.
func (c *Client) WriteThreatEvent(eventType, severity string, delta int, at time.Time) {
	c.writeAPI.WritePoint(write.NewPoint(
		measurementThreatEvent,
		map[string]string{"type": eventType, "severity": severity},
		map[string]interface{}{"delta": delta},
		at,
	))
}

// Close flushes pending points and releases the client.
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	c.writeAPI.Flush()
	c.client.Close()
}
