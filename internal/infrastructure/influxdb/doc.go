// Package influxdb records device telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Every accepted device
// write becomes a point in the "device_metrics" measurement, tagged with
// device, attribute and kind:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	publishers.Add(influxdb.NewPublisher(client))
//
// Writes are non-blocking and batched (batch_size, flush_interval). Async
// write errors are delivered to the SetOnError callback. Connection and
// health check errors are returned directly.
package influxdb
