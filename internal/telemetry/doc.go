// Package telemetry publishes receiver state to an MQTT broker.
//
// Topics live under the configured prefix:
//
//	<prefix>/status    online/offline, retained, also the last will
//	<prefix>/state     core state JSON, retained
//	<prefix>/signal    status snapshot JSON
//	<prefix>/rx_good   "1" or "0", retained
//	<prefix>/band      selected band JSON, retained
//
// Publishing never blocks the caller; delivery failures are logged from the
// client's completion goroutines.
package telemetry
