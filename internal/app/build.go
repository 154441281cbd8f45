package app

import (
	"fmt"

	"github.com/tphakala/sensorflow/internal/conf"
	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/features"
	"github.com/tphakala/sensorflow/internal/inference"
	"github.com/tphakala/sensorflow/internal/inference/tflite"
	"github.com/tphakala/sensorflow/internal/logger"
	"github.com/tphakala/sensorflow/internal/observability"
	"github.com/tphakala/sensorflow/internal/sensors"
	"github.com/tphakala/sensorflow/internal/sinks"
	"github.com/tphakala/sensorflow/internal/stream"
)

// Stage names, also used as metric labels.
const (
	StageScale    = "scale"
	StageFeatures = "features"
	StageClassify = "classify"
)

func (p *Pipeline) build(o options) error {
	p.metrics = o.metrics
	if p.metrics == nil {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		p.metrics = m
	}

	p.sources = o.sources
	if len(p.sources) == 0 {
		sources, err := buildSources(p.settings, p.log)
		if err != nil {
			return err
		}
		p.sources = sources
	}
	if len(p.sources) > p.settings.Pipeline.MaxSensors {
		return errors.Newf("%d sensors exceed pipeline.maxsensors %d", len(p.sources), p.settings.Pipeline.MaxSensors).
			Component(ComponentApp).
			Category(errors.CategoryConfiguration).
			Build()
	}

	model, labels, err := LoadModel(p.settings, p.log)
	if err != nil {
		return err
	}
	p.model, p.labels = model, labels

	listeners, err := p.buildSinks()
	if err != nil {
		return err
	}
	if err := p.buildStages(len(listeners)); err != nil {
		return err
	}
	for _, l := range listeners {
		if err := p.classify.EventSource().AddListener(l); err != nil {
			return err
		}
	}
	if err := p.attach(); err != nil {
		return err
	}

	if p.settings.Telemetry.Enabled {
		var history observability.HistorySource
		if p.store != nil {
			history = p.store
		}
		p.endpoint = observability.NewEndpoint(p.settings.Telemetry.Listen, p.metrics, p, history, p.log.Module("telemetry"))
	}
	return nil
}

func buildSources(s *conf.Settings, log logger.Logger) ([]Source, error) {
	sc := s.Sensor
	switch sc.Type {
	case conf.SensorWAV:
		w, err := sensors.OpenWAV(sensors.WAVConfig{
			Name:            "wav",
			Path:            sc.Path,
			FrameSize:       sc.FrameSize,
			FramesPerPacket: sc.FramesPerPacket,
			Realtime:        sc.Realtime,
		})
		if err != nil {
			return nil, err
		}
		info := w.Info()
		log.Info("wav input opened",
			logger.Int("sample_rate", info.SampleRate),
			logger.Int("channels", info.Channels),
			logger.Int("bit_depth", info.BitDepth),
			logger.Duration("duration", info.Duration))
		return []Source{w}, nil

	case conf.SensorMicrophone:
		m, err := sensors.NewMicrophone(sensors.MicrophoneConfig{
			Name:            "microphone",
			Device:          sc.Device,
			SampleRate:      sc.SampleRate,
			FrameSize:       sc.FrameSize,
			FramesPerPacket: sc.FramesPerPacket,
			Logger:          log.Module("microphone"),
		})
		if err != nil {
			return nil, err
		}
		return []Source{m}, nil

	case conf.SensorSynthetic:
		out := make([]Source, 0, sc.Count)
		for i := range sc.Count {
			syn, err := sensors.NewSynthetic(sensors.SyntheticConfig{
				ID:              i,
				Name:            fmt.Sprintf("synthetic-%d", i),
				SampleRate:      sc.SampleRate,
				Frequency:       sc.Synthetic.Frequency * float64(i+1),
				Amplitude:       sc.Synthetic.Amplitude,
				Noise:           sc.Synthetic.Noise,
				FrameSize:       sc.FrameSize,
				FramesPerPacket: sc.FramesPerPacket,
				Packets:         sc.Synthetic.Packets,
				Interval:        sc.Synthetic.Interval,
				Seed:            sc.Synthetic.Seed + uint64(i), //nolint:gosec // i is small and non-negative
			})
			if err != nil {
				return nil, err
			}
			out = append(out, syn)
		}
		return out, nil
	}
	return nil, errors.Newf("unknown sensor type %q", sc.Type).
		Component(ComponentApp).
		Category(errors.CategoryConfiguration).
		Build()
}

// LoadModel builds the configured classifier and its labels. Labels are
// nil when neither the model nor a label file provides them.
func LoadModel(s *conf.Settings, log logger.Logger) (inference.Model, []string, error) {
	ic := s.Inference
	inputs := s.Features.Bands * s.Features.FramesPerItem

	var (
		model  inference.Model
		labels []string
		err    error
	)
	switch {
	case ic.Backend == conf.BackendTFLite:
		model, err = tflite.Load(ic.ModelPath, tflite.Options{Threads: ic.Threads, Logger: log.Module("tflite")})
	case ic.ModelPath != "":
		var lin *inference.Linear
		lin, labels, err = inference.LoadLinear(ic.ModelPath)
		model = lin
	default:
		model, err = inference.NewRandomLinear(inputs, ic.Classes, ic.Seed)
	}
	if err != nil {
		return nil, nil, err
	}

	if ic.LabelPath != "" {
		if labels, err = inference.LoadLabels(ic.LabelPath); err != nil {
			_ = model.Close()
			return nil, nil, err
		}
	}
	if err := inference.CheckLabels(labels, model); err != nil {
		_ = model.Close()
		return nil, nil, err
	}
	return model, labels, nil
}

func (p *Pipeline) decoder() sinks.Decoder {
	return sinks.Decoder{
		RunID:     p.runID,
		Labels:    p.labels,
		TopK:      p.settings.Inference.TopK,
		Threshold: p.settings.Inference.Threshold,
	}
}

func (p *Pipeline) buildSinks() ([]events.Listener, error) {
	s := p.settings
	dec := p.decoder()

	p.cache = sinks.NewCache(dec, s.Output.CacheTTL)
	listeners := []events.Listener{p.cache}
	if s.Output.LogResults {
		listeners = append(listeners, sinks.NewLogSink(p.log.Module("results"), dec))
	}
	if s.Output.TapBytes > 0 {
		p.tap = sinks.NewTap(dec, s.Output.TapBytes)
		listeners = append(listeners, p.tap)
	}
	if s.MQTT.Enabled {
		m, err := sinks.DialMQTT(sinks.MQTTConfig{
			Broker:   s.MQTT.Broker,
			ClientID: s.MQTT.ClientID,
			Username: s.MQTT.Username,
			Password: s.MQTT.Password,
			Topic:    s.MQTT.Topic,
			QoS:      s.MQTT.QoS,
			Retain:   s.MQTT.Retain,
			Timeout:  s.MQTT.Timeout,
		}, dec, p.log.Module("mqtt"))
		if err != nil {
			return nil, err
		}
		p.mqtt = m
		listeners = append(listeners, m)
	}
	if s.Datastore.Enabled {
		st, err := sinks.OpenStore(s.Datastore.Path, dec, p.log.Module("datastore"))
		if err != nil {
			return nil, err
		}
		p.store = st
		listeners = append(listeners, st)
	}
	return listeners, nil
}

func (p *Pipeline) buildStages(sinkCount int) error {
	s := p.settings
	pc := s.Pipeline
	opts := func(name string) []dpu.Option {
		return []dpu.Option{
			dpu.WithRecorder(p.metrics.Pipeline.ForComponent(name)),
			dpu.WithFaultHandler(p.onFault),
		}
	}

	shape, err := stream.NewShape(s.Sensor.FrameSize, s.Features.FramesPerItem)
	if err != nil {
		return err
	}
	scaleCfg := features.ScaleStageConfig(StageScale, stream.Int16, shape, pc.ItemCount, pc.MaxSensors, pc.MaxListeners)
	if p.scale, err = dpu.New(scaleCfg, features.Scale{Gain: features.PCMScale * s.Features.Gain}, opts(StageScale)...); err != nil {
		return err
	}

	band, err := features.NewBandEnergy(s.Sensor.FrameSize, s.Features.FramesPerItem, s.Features.Bands)
	if err != nil {
		return err
	}
	if p.features, err = dpu.New(band.StageConfig(StageFeatures, pc.ItemCount, 1, pc.MaxListeners), band, opts(StageFeatures)...); err != nil {
		return err
	}

	classifyCfg, err := inference.StageConfig(StageClassify, band.OutputShape(), p.model, pc.ItemCount, 1, max(pc.MaxListeners, sinkCount))
	if err != nil {
		return err
	}
	if p.classify, err = dpu.New(classifyCfg, inference.NewTransformer(p.model), opts(StageClassify)...); err != nil {
		return err
	}

	p.stages = []*dpu.Stage{p.scale, p.features, p.classify}
	return nil
}

// attach links the stages and sensors and installs the scheduling mode.
func (p *Pipeline) attach() error {
	if err := p.features.AttachInputDPU(p.scale, nil); err != nil {
		return err
	}
	if err := p.classify.AttachInputDPU(p.features, nil); err != nil {
		return err
	}

	deferred := p.settings.Pipeline.Mode == conf.ModeDeferred
	if deferred {
		p.wakes = make([]chan struct{}, len(p.stages))
		for i, st := range p.stages {
			p.wakes[i] = make(chan struct{}, 1)
			st.RegisterNotifyCallback(wake, p.wakes[i])
		}
	}

	guard := p.mu.RLocker()
	if !deferred {
		guard = &p.mu
	}
	for _, src := range p.sources {
		if err := p.scale.AttachToSensor(src, nil); err != nil {
			return err
		}
		pub, ok := src.(publisher)
		if !ok {
			continue
		}
		pub.SetGuard(guard)
		pub.SetRecorder(p.metrics.Pipeline.ForComponent("sensor." + src.Name()))
		pub.OnStall(p.onStall)
		pub.OnError(p.onPublishError)
	}
	return nil
}

// wake is the notify callback of every stage in deferred mode.
func wake(_ *dpu.Stage, param any) error {
	ch, ok := param.(chan struct{})
	if !ok {
		return nil
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}
