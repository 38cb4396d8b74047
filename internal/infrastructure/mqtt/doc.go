// Package mqtt provides MQTT client connectivity for Solar Fleet Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The backend consumes plant data topics through this client:
//
//	Plant gateways → MQTT Broker → Solar Fleet Core (ingest)
//
// Plant topic names (solar/{plantCode}/data, solar/{plantCode}/commands) are
// part of the provisioning contract with the external messaging provider; the
// builders in topics.go produce them.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllPlantData(), 1,
//	    func(topic string, payload []byte) error {
//	        return intake.Handle(topic, payload)
//	    })
//
// # Thread Safety
//
// All client methods are safe for concurrent use. Subscriptions are restored
// automatically after a reconnect.
package mqtt
