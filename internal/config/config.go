package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete set of immutable tunables for one battery control
// engine instance. Nothing here is mutated after Load returns; the engine
// treats it as read-only for the life of the process.
type Config struct {
	Driver     DriverConfig     `mapstructure:"driver" validate:"required"`
	Pack       PackConfig       `mapstructure:"pack" validate:"required"`
	SoC        SoCConfig        `mapstructure:"soc" validate:"required"`
	Voltage    VoltageConfig    `mapstructure:"voltage" validate:"required"`
	Current    CurrentConfig    `mapstructure:"current" validate:"required"`
	ModbusOut  ModbusOutConfig  `mapstructure:"modbus_out" validate:"required"`
	InfluxDB   InfluxDBConfig   `mapstructure:"influxdb" validate:"required"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql" validate:"required"`
	API        APIConfig        `mapstructure:"api" validate:"required"`
	Logger     LoggerConfig     `mapstructure:"logger" validate:"required"`
}

// DriverConfig describes how the reference Modbus driver reaches the pack.
type DriverConfig struct {
	Host           string        `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port           int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	SlaveID        byte          `mapstructure:"slave_id" validate:"required,min=1,max=255"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"required"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"required"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"required,aligned_interval"`
	CellCount      int           `mapstructure:"cell_count" validate:"required,min=1,max=48"`
}

// PackConfig holds the static nameplate facts and current-calibration
// coefficients referenced by spec.md §4.3 step 1 and §3's capacity invariant.
type PackConfig struct {
	Capacity                float64 `mapstructure:"capacity" validate:"required,min=0,max=1000"`
	CurrentCalibrationSlope float64 `mapstructure:"current_calibration_slope" validate:"required"`
	CurrentCalibrationBias  float64 `mapstructure:"current_calibration_bias"`
	MidpointEnable          bool    `mapstructure:"midpoint_enable"`

	// TimeToSoCPoints are the target SoC percentages the orchestrator
	// estimates an ETA for every tick (battery.py's get_timeToSoc,
	// recovered as a supplemented feature).
	TimeToSoCPoints []int `mapstructure:"time_to_soc_points"`
}

// SoCConfig carries §4.3's coulomb-counter tunables.
type SoCConfig struct {
	Enable            bool          `mapstructure:"soc_calculation"`
	ResetVoltage      float64       `mapstructure:"soc_reset_voltage" validate:"required,gt=0"`
	ResetCurrent      float64       `mapstructure:"soc_reset_current" validate:"required,gt=0"`
	ResetTime         time.Duration `mapstructure:"soc_reset_time" validate:"required"`
	ResetAfterDays    int           `mapstructure:"soc_reset_after_days" validate:"required,min=1"`
	LevelToResetLimit float64       `mapstructure:"soc_level_to_reset_voltage_limit" validate:"min=0,max=100"`
	VoltageDrop       float64       `mapstructure:"voltage_drop" validate:"min=0"`
}

// VoltageConfig carries §4.4's state-machine tunables.
type VoltageConfig struct {
	CVCMEnable                          bool          `mapstructure:"cvcm_enable"`
	LinearLimitationEnable              bool          `mapstructure:"linear_limitation_enable"`
	IControllerMode                     bool          `mapstructure:"cvl_icontroller_mode"`
	IControllerFactor                   float64       `mapstructure:"cvl_icontroller_factor"`
	MinCellVoltage                      float64       `mapstructure:"min_cell_voltage" validate:"required,gt=0"`
	MaxCellVoltage                      float64       `mapstructure:"max_cell_voltage" validate:"required,gtfield=MinCellVoltage"`
	FloatCellVoltage                    float64       `mapstructure:"float_cell_voltage" validate:"required,gt=0"`
	MaxVoltageTime                      time.Duration `mapstructure:"max_voltage_time_sec" validate:"required"`
	CellVoltageDiffKeepMaxUntil         float64       `mapstructure:"cell_voltage_diff_keep_max_voltage_until" validate:"min=0"`
	CellVoltageDiffKeepMaxTimeRestart   float64       `mapstructure:"cell_voltage_diff_keep_max_voltage_time_restart" validate:"min=0"`
	CellVoltageDiffToResetLimit         float64       `mapstructure:"cell_voltage_diff_to_reset_voltage_limit" validate:"min=0"`
	FloatRampRateVoltsPerSecond         float64       `mapstructure:"float_ramp_rate_volts_per_second"`
	LinearRecalculationEvery            time.Duration `mapstructure:"linear_recalculation_every" validate:"required"`
}

// CurrentConfig carries §4.5's derating and global ceiling tunables.
type CurrentConfig struct {
	CCCMCVEnable                  bool    `mapstructure:"cccm_cv_enable"`
	CCCMTEnable                   bool    `mapstructure:"cccm_t_enable"`
	CCCMSoCEnable                 bool    `mapstructure:"cccm_soc_enable"`
	DCCMCVEnable                  bool    `mapstructure:"dccm_cv_enable"`
	DCCMTEnable                   bool    `mapstructure:"dccm_t_enable"`
	DCCMSoCEnable                 bool    `mapstructure:"dccm_soc_enable"`
	MaxBatteryChargeCurrent       float64 `mapstructure:"max_battery_charge_current" validate:"required,gt=0"`
	MaxBatteryDischargeCurrent    float64 `mapstructure:"max_battery_discharge_current" validate:"required,gt=0"`
	LinearRecalculationOnPercent  float64 `mapstructure:"linear_recalculation_on_perc_change" validate:"min=0,max=100"`

	CellVoltagesWhileCharging    Curve `mapstructure:"cell_voltages_while_charging" validate:"required"`
	MaxChargeCurrentVsCellV      Curve `mapstructure:"max_charge_current_vs_cell_voltage" validate:"required"`
	CellVoltagesWhileDischarging Curve `mapstructure:"cell_voltages_while_discharging" validate:"required"`
	MaxDischargeCurrentVsCellV   Curve `mapstructure:"max_discharge_current_vs_cell_voltage" validate:"required"`

	TemperaturesWhileCharging    Curve `mapstructure:"temperatures_while_charging" validate:"required"`
	MaxChargeCurrentVsTemp       Curve `mapstructure:"max_charge_current_vs_temp" validate:"required"`
	TemperaturesWhileDischarging Curve `mapstructure:"temperatures_while_discharging" validate:"required"`
	MaxDischargeCurrentVsTemp    Curve `mapstructure:"max_discharge_current_vs_temp" validate:"required"`

	SoCWhileCharging        Curve `mapstructure:"soc_while_charging" validate:"required"`
	MaxChargeCurrentVsSoC   Curve `mapstructure:"max_charge_current_vs_soc" validate:"required"`
	SoCWhileDischarging     Curve `mapstructure:"soc_while_discharging" validate:"required"`
	MaxDischargeCurrentVsSoC Curve `mapstructure:"max_discharge_current_vs_soc" validate:"required"`
}

// Curve is a piecewise X/Y pair consumed by internal/derate. Step mode is
// selected by setting Step, and Ascending then picks the comparison
// direction; Linear mode ignores Ascending.
type Curve struct {
	X         []float64 `mapstructure:"x" validate:"required,min=1"`
	Y         []float64 `mapstructure:"y" validate:"required,min=1"`
	Step      bool      `mapstructure:"step"`
	Ascending bool      `mapstructure:"ascending"`
}

// ModbusOutConfig configures the secondary publication register server.
type ModbusOutConfig struct {
	Host       string        `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port       int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"required"`
	MaxClients uint          `mapstructure:"max_clients" validate:"required,min=1,max=100"`
}

// InfluxDBConfig mirrors the teacher's time-series sink configuration.
type InfluxDBConfig struct {
	URL           string        `mapstructure:"url" validate:"required,url"`
	Token         string        `mapstructure:"token" validate:"required"`
	Organization  string        `mapstructure:"organization" validate:"required"`
	Bucket        string        `mapstructure:"bucket" validate:"required"`
	BatchSize     uint          `mapstructure:"batch_size" validate:"required,min=1"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"required"`
}

// PostgreSQLConfig mirrors the teacher's alarm-store configuration, repointed
// at Protection transitions.
type PostgreSQLConfig struct {
	Host     string `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port     int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Database string `mapstructure:"database" validate:"required"`
	SSLMode  string `mapstructure:"ssl_mode" validate:"required,oneof=disable allow prefer require verify-ca verify-full"`
	MaxIdle  int    `mapstructure:"max_idle_connections" validate:"required,min=1"`
	MaxOpen  int    `mapstructure:"max_open_connections" validate:"required,min=1"`
}

// APIConfig configures the introspection HTTP surface.
type APIConfig struct {
	HTTPPort int `mapstructure:"http_port" validate:"required,min=1,max=65535"`
}

// LoggerConfig mirrors the teacher's zap bootstrap configuration.
type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
	Output string `mapstructure:"output" validate:"required,logpath"`
}

var validate = NewValidator()

// Load reads configuration from the given path (or ./configs/config.json /
// ./config.json by default), overlays environment variables under the
// BMSCORE_ prefix, fills defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("BMSCORE")
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("driver.host")
	v.BindEnv("driver.port")
	v.BindEnv("driver.slave_id")
	v.BindEnv("pack.capacity")
	v.BindEnv("influxdb.url")
	v.BindEnv("influxdb.token")
	v.BindEnv("influxdb.organization")
	v.BindEnv("influxdb.bucket")
	v.BindEnv("postgresql.host")
	v.BindEnv("postgresql.port")
	v.BindEnv("postgresql.username")
	v.BindEnv("postgresql.password")
	v.BindEnv("postgresql.database")
	v.BindEnv("api.http_port")
	v.BindEnv("logger.level")
	v.BindEnv("logger.format")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver.timeout", 5*time.Second)
	v.SetDefault("driver.reconnect_delay", 5*time.Second)
	v.SetDefault("driver.poll_interval", time.Second)
	v.SetDefault("driver.cell_count", 16)

	v.SetDefault("pack.current_calibration_slope", 1.0)
	v.SetDefault("pack.current_calibration_bias", 0.0)
	v.SetDefault("pack.time_to_soc_points", []int{0, 50, 100})

	v.SetDefault("soc.soc_calculation", true)
	v.SetDefault("soc.soc_reset_current", 5.0)
	v.SetDefault("soc.soc_reset_time", 900*time.Second)
	v.SetDefault("soc.soc_reset_after_days", 30)
	v.SetDefault("soc.soc_level_to_reset_voltage_limit", 90.0)
	v.SetDefault("soc.voltage_drop", 0.15)

	v.SetDefault("voltage.cvcm_enable", true)
	v.SetDefault("voltage.linear_limitation_enable", true)
	v.SetDefault("voltage.cvl_icontroller_factor", 1.0)
	v.SetDefault("voltage.max_voltage_time_sec", 900*time.Second)
	v.SetDefault("voltage.cell_voltage_diff_keep_max_voltage_until", 0.02)
	v.SetDefault("voltage.cell_voltage_diff_keep_max_voltage_time_restart", 0.06)
	v.SetDefault("voltage.cell_voltage_diff_to_reset_voltage_limit", 0.1)
	v.SetDefault("voltage.float_ramp_rate_volts_per_second", 0.001)
	v.SetDefault("voltage.linear_recalculation_every", 60*time.Second)

	v.SetDefault("current.linear_recalculation_on_perc_change", 5.0)

	v.SetDefault("modbus_out.host", "0.0.0.0")
	v.SetDefault("modbus_out.port", 502)
	v.SetDefault("modbus_out.timeout", 30*time.Second)
	v.SetDefault("modbus_out.max_clients", 10)

	v.SetDefault("influxdb.batch_size", 100)
	v.SetDefault("influxdb.flush_interval", 5*time.Second)

	v.SetDefault("postgresql.port", 5432)
	v.SetDefault("postgresql.ssl_mode", "disable")
	v.SetDefault("postgresql.max_idle_connections", 5)
	v.SetDefault("postgresql.max_open_connections", 10)

	v.SetDefault("api.http_port", 8080)

	v.SetDefault("logger.level", "INFO")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
}

// Validate runs struct-tag validation, including the curve-shape check
// registered as a struct-level validator in NewValidator.
func (c *Config) Validate() error {
	return validate.Struct(c)
}
