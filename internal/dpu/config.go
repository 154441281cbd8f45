package dpu

import (
	"fmt"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/stream"
)

// Config describes a stage. InputType and InputShape are the working stream
// every upstream link is filled to; one ring buffer item holds one working
// stream frame.
type Config struct {
	Name         string
	InputType    stream.ElementType
	InputShape   stream.Shape
	OutputType   stream.ElementType
	OutputShape  stream.Shape
	OutputMode   stream.Mode
	ItemCount    int
	MaxSensors   int
	MaxListeners int
}

// Defaults used when a Config field is left zero.
const (
	DefaultItemCount    = 4
	DefaultMaxSensors   = 4
	DefaultMaxListeners = 4
)

func (c *Config) applyDefaults() {
	if c.ItemCount == 0 {
		c.ItemCount = DefaultItemCount
	}
	if c.MaxSensors == 0 {
		c.MaxSensors = DefaultMaxSensors
	}
	if c.MaxListeners == 0 {
		c.MaxListeners = DefaultMaxListeners
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []error
	if c.Name == "" {
		problems = append(problems, fmt.Errorf("name is required"))
	}
	if c.InputType.Size() == 0 {
		problems = append(problems, fmt.Errorf("input type %s is not supported", c.InputType))
	}
	if c.OutputType.Size() == 0 {
		problems = append(problems, fmt.Errorf("output type %s is not supported", c.OutputType))
	}
	if c.InputShape.IsZero() {
		problems = append(problems, fmt.Errorf("input shape is required"))
	}
	if c.OutputShape.IsZero() {
		problems = append(problems, fmt.Errorf("output shape is required"))
	}
	if c.ItemCount < 1 {
		problems = append(problems, fmt.Errorf("item count must be positive, got %d", c.ItemCount))
	}
	if c.MaxSensors < 1 {
		problems = append(problems, fmt.Errorf("max sensors must be positive, got %d", c.MaxSensors))
	}
	if c.MaxListeners < 0 {
		problems = append(problems, fmt.Errorf("max listeners must not be negative, got %d", c.MaxListeners))
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))).
		Context("stage", c.Name).
		Build()
}

// ItemSize is the number of elements per ring buffer item.
func (c *Config) ItemSize() int { return c.InputShape.Elements() }
