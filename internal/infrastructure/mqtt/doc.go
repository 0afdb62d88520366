// Package mqtt connects the snapshot service to an MQTT broker.
//
// The broker is optional. When enabled the service:
//   - accepts export_data and import_data calls on hasnapshot/service/+
//   - publishes run results on hasnapshot/event/{service}
//   - publishes notifications on hasnapshot/notification
//   - keeps a retained status on hasnapshot/system/status, with a Last
//     Will so subscribers see an unexpected disconnect
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllServices(), 1,
//	    func(topic string, payload []byte) error {
//	        service, _ := mqtt.ServiceFromTopic(topic)
//	        return dispatch(service, payload)
//	    })
package mqtt
