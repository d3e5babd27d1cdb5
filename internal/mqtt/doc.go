// Package mqtt bridges the in-process event bus to an MQTT broker.
//
// Each bus event is published as JSON to
// <topic_prefix>/events/<source>/<kind>. A retained availability topic
// flips between "online" and "offline", with a will message covering
// unexpected disconnects, and a retained stats message carries uptime
// and the day's model token totals.
//
// Connection management uses Eclipse Paho v2's [autopaho] package, so
// the bridge reconnects on its own. Events published while the broker
// is unreachable are dropped.
package mqtt
