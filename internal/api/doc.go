// Package api provides the Adafruit IO REST client used by the pull channel.
//
// REST endpoints:
//   - Production: https://io.adafruit.com/api/v2
//   - Latest value of a feed: GET /api/v2/{account}/feeds/{feed_key}/data/last
//
// Requests authenticate with the X-AIO-Key header. The MQTT side of the service
// lives in package connection.
package api
