// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

// Scale for temperatures carried in hundredths of a degree
const centiDegrees = 100

// DefaultCatalog returns the built-in templates for common heating codes.
// Catalog files loaded at startup can extend or replace any of them.
func DefaultCatalog() MapSchema {
	return NewMapSchema(
		&Template{Code: CodeZoneName, Name: "zone_name", Fields: []Field{
			{Name: "zone_idx", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "name", Offset: 2, Width: 20, Kind: KindASCII},
		}},
		&Template{Code: CodeScheduleVersion, Name: "schedule_version", Fields: []Field{
			{Name: "header", Offset: 0, Width: 2, Kind: KindHex},
			{Name: "change_counter", Offset: 2, Width: 2, Kind: KindU16BE},
		}},
		&Template{Code: CodeRelayDemand, Name: "relay_demand", Fields: []Field{
			{Name: "domain_id", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "relay_demand", Offset: 1, Width: 1, Kind: KindPercent},
		}},
		&Template{Code: CodeZoneParams, Name: "zone_params", GroupSize: 6, Fields: []Field{
			{Name: "zone_idx", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "flags", Offset: 1, Width: 1, Kind: KindFlags,
				Flags: []string{"_", "_", "_", "_", "local_override", "openwindow_function", "multiroom_mode"}},
			{Name: "min_temp", Offset: 2, Width: 2, Kind: KindFixedPoint, Scale: centiDegrees},
			{Name: "max_temp", Offset: 4, Width: 2, Kind: KindFixedPoint, Scale: centiDegrees},
		}},
		&Template{Code: CodeLanguage, Name: "language", Fields: []Field{
			{Name: "language", Offset: 1, Width: 2, Kind: KindASCII},
		}},
		&Template{Code: CodeFaultLog, Name: "fault_log", Fields: []Field{
			{Name: "fault_state", Offset: 1, Width: 1, Kind: KindU8},
			{Name: "log_idx", Offset: 2, Width: 1, Kind: KindU8},
			{Name: "fault_type", Offset: 4, Width: 1, Kind: KindU8},
			{Name: "domain_idx", Offset: 5, Width: 1, Kind: KindU8},
			{Name: "device_class", Offset: 6, Width: 1, Kind: KindU8},
			{Name: "timestamp", Offset: 10, Width: 6, Kind: KindHex},
			{Name: "device_id", Offset: 19, Width: 3, Kind: KindDeviceID},
		}},
		&Template{Code: CodeBatteryState, Name: "battery_state", Fields: []Field{
			{Name: "domain_id", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "battery_level", Offset: 1, Width: 1, Kind: KindPercent},
			{Name: "battery_ok", Offset: 2, Width: 1, Kind: KindU8},
		}},
		&Template{Code: CodeDeviceInfo, Name: "device_info", Fields: []Field{
			{Name: "date_2", Offset: 10, Width: 4, Kind: KindHex},
			{Name: "date_1", Offset: 14, Width: 4, Kind: KindHex},
			{Name: "description", Offset: 18, Width: 0, Kind: KindASCII},
		}},
		&Template{Code: CodeWindowState, Name: "window_state", Fields: []Field{
			{Name: "zone_idx", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "window_open", Offset: 1, Width: 1, Kind: KindPercent},
		}},
		&Template{Code: CodeSystemSync, Name: "system_sync", Fields: []Field{
			{Name: "domain_id", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "sync_value", Offset: 1, Width: 2, Kind: KindU16BE},
		}},
		&Template{Code: CodeRFBind, Name: "rf_bind", GroupSize: 6, Fields: []Field{
			{Name: "domain_id", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "code", Offset: 1, Width: 2, Kind: KindHex},
			{Name: "device_id", Offset: 3, Width: 3, Kind: KindDeviceID},
		}},
		&Template{Code: CodeSetpoint, Name: "setpoint", GroupSize: 3, Fields: []Field{
			{Name: "zone_idx", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "setpoint", Offset: 1, Width: 2, Kind: KindFixedPoint, Scale: centiDegrees},
		}},
		&Template{Code: CodeZoneMode, Name: "zone_mode", Fields: []Field{
			{Name: "zone_idx", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "setpoint", Offset: 1, Width: 2, Kind: KindFixedPoint, Scale: centiDegrees},
			{Name: "mode", Offset: 3, Width: 1, Kind: KindU8},
			{Name: "until", Offset: 7, Width: 6, Kind: KindHex},
		}},
		&Template{Code: CodeTemperature, Name: "temperature", GroupSize: 3, Fields: []Field{
			{Name: "zone_idx", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "temperature", Offset: 1, Width: 2, Kind: KindFixedPoint, Scale: centiDegrees},
		}},
		&Template{Code: CodeDateTime, Name: "datetime", Fields: []Field{
			{Name: "seconds", Offset: 2, Width: 1, Kind: KindU8},
			{Name: "minutes", Offset: 3, Width: 1, Kind: KindU8},
			{Name: "hours", Offset: 4, Width: 1, Kind: KindU8},
			{Name: "day", Offset: 5, Width: 1, Kind: KindU8},
			{Name: "month", Offset: 6, Width: 1, Kind: KindU8},
			{Name: "year", Offset: 7, Width: 2, Kind: KindU16BE},
		}},
		&Template{Code: CodeHeatDemand, Name: "heat_demand", GroupSize: 2, Fields: []Field{
			{Name: "zone_idx", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "heat_demand", Offset: 1, Width: 1, Kind: KindPercent},
		}},
		&Template{Code: CodeActuatorState, Name: "actuator_state", Fields: []Field{
			{Name: "domain_id", Offset: 0, Width: 1, Kind: KindU8},
			{Name: "modulation_level", Offset: 1, Width: 1, Kind: KindPercent},
			{Name: "status", Offset: 2, Width: 1, Kind: KindFlags,
				Flags: []string{"_", "ch_active", "dhw_active", "flame_active"}},
		}},
	)
}
