// Package mqtt publishes the encoder's state to an MQTT broker using
// Home Assistant discovery, so the stream can drive automations (scene
// changes, on-air lights) without touching the bot itself.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each entity and a birth message ("online") to the availability
// topic. A will message ensures the availability topic transitions to
// "offline" on unexpected disconnects.
package mqtt
