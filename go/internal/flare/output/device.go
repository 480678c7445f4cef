// Package output holds the devices a countdown fires. Every device swallows
// and logs its own failures; a broken actuator never stops a countdown.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Device is an output actuator. BeginOutput and EndOutput before a
// successful Initialize are no-ops.
type Device interface {
	Initialize(ctx context.Context) error
	BeginOutput()
	EndOutput()
	Release()
}

type Kind string

const (
	KindNotify Kind = "notify"
	KindLED    Kind = "led"
	KindMQTT   Kind = "mqtt"
)

type Options struct {
	Kind       Kind
	LEDName    string
	LEDRoot    string
	MQTTBroker string
	MQTTTopic  string
	ClientID   string
	Writer     io.Writer
}

// New builds the device selected by opts.Kind.
func New(opts Options) (Device, error) {
	switch opts.Kind {
	case KindNotify, "":
		w := opts.Writer
		if w == nil {
			w = os.Stdout
		}
		return NewNotifier(w), nil
	case KindLED:
		if opts.LEDName == "" {
			return nil, fmt.Errorf("led output needs a led name")
		}
		return NewLEDTorch(opts.LEDRoot, opts.LEDName), nil
	case KindMQTT:
		if opts.MQTTBroker == "" || opts.MQTTTopic == "" {
			return nil, fmt.Errorf("mqtt output needs a broker and a topic")
		}
		return NewMQTTStrobe(opts.MQTTBroker, opts.ClientID, opts.MQTTTopic), nil
	default:
		return nil, fmt.Errorf("unknown output %q", opts.Kind)
	}
}
