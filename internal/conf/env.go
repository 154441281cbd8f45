package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/tphakala/sensorflow/internal/errors"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "SENSORFLOW"

// envBinding maps a config key to its environment variable and an optional
// validator applied to the raw value.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "SENSORFLOW_DEBUG", validateBool},
		{"log.level", "SENSORFLOW_LOG_LEVEL", validateOneOf("trace", "debug", "info", "warn", "error")},
		{"pipeline.mode", "SENSORFLOW_PIPELINE_MODE", validateOneOf(ModeInline, ModeDeferred)},
		{"pipeline.faultpolicy", "SENSORFLOW_PIPELINE_FAULTPOLICY", validateOneOf(FaultReset, FaultHalt)},
		{"pipeline.itemcount", "SENSORFLOW_PIPELINE_ITEMCOUNT", validatePositiveInt},
		{"sensor.type", "SENSORFLOW_SENSOR_TYPE", validateOneOf(SensorWAV, SensorMicrophone, SensorSynthetic)},
		{"sensor.path", "SENSORFLOW_SENSOR_PATH", nil},
		{"sensor.device", "SENSORFLOW_SENSOR_DEVICE", nil},
		{"sensor.samplerate", "SENSORFLOW_SENSOR_SAMPLERATE", validatePositiveInt},
		{"inference.backend", "SENSORFLOW_INFERENCE_BACKEND", validateOneOf(BackendLinear, BackendTFLite)},
		{"inference.modelpath", "SENSORFLOW_INFERENCE_MODELPATH", nil},
		{"inference.threads", "SENSORFLOW_INFERENCE_THREADS", validateNonNegativeInt},
		{"telemetry.enabled", "SENSORFLOW_TELEMETRY_ENABLED", validateBool},
		{"telemetry.listen", "SENSORFLOW_TELEMETRY_LISTEN", nil},
		{"mqtt.enabled", "SENSORFLOW_MQTT_ENABLED", validateBool},
		{"mqtt.broker", "SENSORFLOW_MQTT_BROKER", validateBrokerURL},
		{"mqtt.username", "SENSORFLOW_MQTT_USERNAME", nil},
		{"mqtt.password", "SENSORFLOW_MQTT_PASSWORD", nil},
		{"datastore.enabled", "SENSORFLOW_DATASTORE_ENABLED", validateBool},
		{"datastore.path", "SENSORFLOW_DATASTORE_PATH", nil},
		{"sentry.enabled", "SENSORFLOW_SENTRY_ENABLED", validateBool},
		{"sentry.dsn", "SENSORFLOW_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every known variable and rejects values that fail their
// validator. All failures are reported together.
func bindEnvVars(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var problems []string
	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			problems = append(problems, fmt.Sprintf("bind %s: %v", b.EnvVar, err))
			continue
		}
		raw, ok := os.LookupEnv(b.EnvVar)
		if !ok || b.Validate == nil {
			continue
		}
		if err := b.Validate(raw); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", b.EnvVar, err))
		}
	}
	if len(problems) > 0 {
		return ValidationError{Errors: problems}
	}
	return nil
}

func validateBool(s string) error {
	if _, err := strconv.ParseBool(s); err != nil {
		return errors.Newf("%q is not a boolean", s).Category(errors.CategoryValidation).Build()
	}
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return errors.Newf("%q is not a positive integer", s).Category(errors.CategoryValidation).Build()
	}
	return nil
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return errors.Newf("%q is not a non-negative integer", s).Category(errors.CategoryValidation).Build()
	}
	return nil
}

func validateOneOf(allowed ...string) func(string) error {
	return func(s string) error {
		for _, a := range allowed {
			if strings.EqualFold(s, a) {
				return nil
			}
		}
		return errors.Newf("%q must be one of %s", s, strings.Join(allowed, ", ")).
			Category(errors.CategoryValidation).
			Build()
	}
}

func validateBrokerURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return errors.Newf("%q is not a broker URL", s).Category(errors.CategoryValidation).Build()
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
		return nil
	}
	return errors.Newf("unsupported broker scheme %q", u.Scheme).Category(errors.CategoryValidation).Build()
}
