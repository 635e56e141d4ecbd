package zeromq

import "github.com/open-teleop/carla-driver/pkg/processing"

// PoolMetrics returns the metrics of the sensor processing pools
func (c *Client) PoolMetrics() map[string]processing.PoolMetrics {
	return c.director.GetPoolMetrics()
}

// SensorStats returns per-sensor receive statistics keyed by topic
func (c *Client) SensorStats() map[string]map[string]interface{} {
	return c.sensors.GetSensorStats()
}
