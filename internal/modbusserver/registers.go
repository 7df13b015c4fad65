package modbusserver

// Register layout for the secondary publication map: a fixed input-register
// block carrying the engine's regulated outputs, plus a per-cell voltage
// block starting at CellVoltageBase. The addresses between the two blocks
// are unmapped, so a read spanning the gap is rejected. Voltage, current and
// cell-voltage scales match the reference driver's register layout
// (internal/driver/modbus.go); SoCCalc uses 0.01% where the driver's SoC
// register uses 0.1%.
const (
	RegVoltage          = 0 // uint16, 0.01V
	RegCurrent          = 1 // int16, 0.1A
	RegSoCCalc          = 2 // uint16, 0.01%
	RegControlVoltage   = 3 // uint16, 0.01V
	RegControlChargeCur = 4 // uint16, 0.1A
	RegControlDischCur  = 5 // uint16, 0.1A
	RegAllowCharge      = 6 // 0/1
	RegAllowDischarge   = 7 // 0/1
	RegProtectionWorst  = 8 // 0=OK 1=WARNING 2=ALARM

	FixedBlockLength = 9

	// CellVoltageBase is the first address of the per-cell voltage block,
	// one uint16 register per cell at 0.001V resolution.
	CellVoltageBase = 100
)
