// Package domain models air-quality telemetry from mobile field devices and
// the per-reading transform that turns a raw sample into a calibrated reading.
//
// # Data Source
//
// Each device is an ESP32 carrying an optical dust sensor, two MQ-series gas
// sensors (MQ135 for CO2-equivalent, MQ7 for CO), a BME680 environment sensor
// and a GPS module. Samples arrive over HTTP or MQTT as flat JSON:
//
//	{"device_id":"esp32-07","dust":40,"mq135":900,"mq7":590,
//	 "temperature":30,"humidity":70,"pressure":1008,"gas":52000,
//	 "latitude":0,"longitude":0}
//
// A latitude/longitude of exactly 0,0 means the GPS had no fix.
//
// # Processing Order
//
//  1. Validate: hard bounds per channel (see [SensorBounds]). A missing dust
//     channel or any out-of-range channel rejects the sample with every
//     violation listed.
//  2. Clip: the dust count is clipped to the IQR fence of the device's last
//     50 values once 10 are buffered (see [RollingWindow]).
//  3. Calibrate: PM2.5 = count × 1.5 × factor; gas ADCs follow power-law
//     curves, CO2 clamped to [400, 5000] ppm and CO to [0, 1000] ppm.
//  4. Locate: a 0,0 fix falls back to the device's static location, then to
//     the configured default.
//  5. Derive: AQI, heat index, toxic-gas index, respiratory risk, movement.
//
// # Rounding
//
// Concentrations and movement are rounded to 2 decimals, derived indices to
// 1 decimal, AQI to an integer. Identical input gives identical output apart
// from movement, which depends on the device's previous fix.
//
// # AQI
//
// EPA piecewise-linear sub-indices for PM2.5 (24h table) and CO (8h table).
// Concentrations are truncated to 0.1 before lookup and the first tier whose
// upper bound covers the value is used, so the index never decreases as the
// concentration grows. The reported AQI is the larger sub-index:
//
//	  0–50 Good | 51–100 Moderate | 101–150 Unhealthy for Sensitive Groups
//	151–200 Unhealthy | 201–300 Very Unhealthy | 301+ Hazardous
//
// # Device State
//
// Outlier windows and last fixes live in a [StateStore]. They are lost on
// restart and rebuild from the next few samples. Access is serialized per
// device.
package domain
