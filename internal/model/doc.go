// Package model defines shared data types used across the cacao monitor.
//
// Conventions:
//   - A Metric is one sensor feed on Adafruit IO, addressed by its feed key
//   - Values are opaque JSON exactly as the service delivered them
//   - Timestamps are local receive times (time.Time), never the service clock
package model
