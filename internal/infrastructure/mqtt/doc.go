// Package mqtt publishes the hub's telemetry to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Non-blocking telemetry publishing from the simulation loop
//   - Retained online/offline status with a Last Will for crash detection
//
// # Topics
//
// Every topic lives under the configured prefix (default "scadahub"):
//
//	<prefix>/controller/<name>/state   one message per controller per tick
//	<prefix>/system/status             retained online/offline status
//
// The state payload is the same JSON object WebSocket clients receive.
// Controller names are percent-encoded for "%", "/", "+" and "#", so
// url.PathUnescape on the topic level recovers the name.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sim := simulation.New(simulation.Deps{
//	    Registry:     registry,
//	    Broadcasters: []simulation.Broadcaster{hub, mqtt.NewBroadcaster(client)},
//	})
package mqtt
