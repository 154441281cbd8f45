package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers a default for every key so that environment
// bindings and Unmarshal see the complete key set.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.timezone", "Local")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "logs/sensorflow.log")
	v.SetDefault("log.file.level", "debug")
	v.SetDefault("log.file.maxsize", 100)
	v.SetDefault("log.file.maxage", 30)
	v.SetDefault("log.file.maxbackups", 5)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("pipeline.itemcount", 4)
	v.SetDefault("pipeline.maxsensors", 4)
	v.SetDefault("pipeline.maxlisteners", 4)
	v.SetDefault("pipeline.mode", ModeDeferred)
	v.SetDefault("pipeline.faultpolicy", FaultReset)

	v.SetDefault("sensor.type", SensorSynthetic)
	v.SetDefault("sensor.count", 1)
	v.SetDefault("sensor.path", "")
	v.SetDefault("sensor.device", "")
	v.SetDefault("sensor.samplerate", 16000)
	v.SetDefault("sensor.framesize", 256)
	v.SetDefault("sensor.framesperpacket", 4)
	v.SetDefault("sensor.realtime", false)
	v.SetDefault("sensor.synthetic.frequency", 1000.0)
	v.SetDefault("sensor.synthetic.amplitude", 0.5)
	v.SetDefault("sensor.synthetic.noise", 0.05)
	v.SetDefault("sensor.synthetic.packets", 0)
	v.SetDefault("sensor.synthetic.interval", 64*time.Millisecond)
	v.SetDefault("sensor.synthetic.seed", 1)

	v.SetDefault("features.framesperitem", 8)
	v.SetDefault("features.bands", 16)
	v.SetDefault("features.gain", 1.0)

	v.SetDefault("inference.backend", BackendLinear)
	v.SetDefault("inference.modelpath", "")
	v.SetDefault("inference.labelpath", "")
	v.SetDefault("inference.classes", 4)
	v.SetDefault("inference.seed", 42)
	v.SetDefault("inference.threads", 0)
	v.SetDefault("inference.topk", 3)
	v.SetDefault("inference.threshold", 0.1)

	v.SetDefault("output.logresults", true)
	v.SetDefault("output.cachettl", 5*time.Minute)
	v.SetDefault("output.tapbytes", 64*1024)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "0.0.0.0:8090")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "sensorflow")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "sensorflow/results")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.timeout", 10*time.Second)

	v.SetDefault("datastore.enabled", false)
	v.SetDefault("datastore.path", "sensorflow.db")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.samplerate", 1.0)

	v.SetDefault("diagnostics.stallwarninterval", 10*time.Second)
	v.SetDefault("diagnostics.snapshotafter", 100)
	v.SetDefault("diagnostics.dir", "")
}
