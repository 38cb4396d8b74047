package mqtt

import "fmt"

// maxPayloadSize caps outbound messages at 1 MiB, in line with typical broker
// limits. Fleet command payloads are tiny; anything near this size is a bug.
const maxPayloadSize = 1 << 20

// Publish sends payload to a topic, waiting for broker acknowledgement up to
// defaultPublishTimeout.
//
//	topic := mqtt.Topics{}.PlantCommands("RAJ1")
//	err := client.Publish(topic, []byte(`{"action":"resync"}`), 1, false)
//
// Retained should be set only for state topics (system status); commands and
// telemetry are never retained.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopicQoS(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishRetained publishes a retained state message at the configured
// default QoS. New subscribers immediately receive the last retained value.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// validateTopicQoS rejects empty topics and QoS levels outside 0..2.
func validateTopicQoS(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
