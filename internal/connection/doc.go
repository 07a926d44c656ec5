// Package connection implements the push channel transport.
//
// The push channel:
//   - Speaks MQTT 3.1.1 to the Adafruit IO broker
//   - Tunnels MQTT through a secure WebSocket for ws:// and wss:// brokers
//   - Authenticates with username = account, password = API key
//   - Reports connection loss once, without reconnecting on its own
//
// Two subscription strategies are provided: Dedicated opens one connection per
// topic, Hub multiplexes every topic over one reference-counted connection.
package connection
