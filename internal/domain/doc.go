// Package domain models sensor node readings and the hazard rules evaluated
// against them.
//
// # Data Source
//
// Readings originate from battery-powered sensor nodes that push JSON to a
// gateway over CoAP. The gateway keeps only the latest payload per node and
// serves all of them from GET /api/sensors as a single JSON object keyed by
// node ID:
//
//	{
//	  "node-01": {"temperature_c": 22.5, "humidity": 55.0, "pressure_hpa": 1004.0,
//	              "pm1": 3.2, "pm25": 7.8, "pm10": 12.4,
//	              "accel_x_ms2": 0.01, "accel_y_ms2": 0.02, "accel_z_ms2": 0.03,
//	              "timestamp": 1714143000.25},
//	  "node-02": {...}
//	}
//
// # Field Conventions
//
// Every field is optional and may be null. Field names are fixed by the node
// firmware:
//
//	temperature_c            degrees Celsius
//	humidity                 relative humidity, percent
//	pressure_hpa             hectopascals
//	pm1, pm25, pm10          particulate matter, µg/m³
//	accel_{x,y,z}_ms2        acceleration per axis, m/s²
//	accel                    precomputed magnitude, m/s² (older firmware)
//	timestamp                gateway receive time, epoch seconds (float)
//
// A value that is absent, null, non-numeric, NaN or infinite is treated as
// missing. Missing is never coerced to zero: a zero temperature is a real
// reading, a missing one is not.
//
// Acceleration is reported as the Euclidean norm of the three axes. It is
// derived only when all three axes are usable; otherwise the precomputed
// accel field is used if present.
//
// # Hazard Models
//
// Wildfire precursors (all comparisons strict):
//
//	temperature > TemperatureMin
//	AND (pm25 > PM25Max OR pm10 > PM10Max)
//	AND humidity < HumidityMax        (only when the humidity rule is enabled)
//
// Any participating field that is missing makes the predicate false.
//
// Seismic shaking uses an ordered severity ladder on acceleration magnitude.
// The default ladder is:
//
//	light 0.05 | moderate 0.1 | strong 0.5 | severe 2.0 | violent 10.0 (m/s²)
//
// A reading strictly above the lowest step raises a signal; its severity is
// the highest step the reading exceeds.
package domain
