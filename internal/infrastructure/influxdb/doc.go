// Package influxdb writes device telemetry to InfluxDB v2.
//
// The Client implements session.Recorder: every outbound status envelope is
// broken into device_status points (one per numeric or boolean component,
// tagged device_id and component), connection announcements become
// device_connection points, and inbound instructions are counted in
// device_instruction with a failed flag.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	sess.SetRecorder(client)
//
// Writes are batched according to batch_size and flush_interval and never
// block the caller. Connection and health check errors are returned directly.
package influxdb
