package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const DefaultLEDRoot = "/sys/class/leds"

// LEDTorch drives a Linux LED class device, e.g. a camera flash exposed as
// /sys/class/leds/<name>. The brightness file is opened on first use and
// closed by Release.
type LEDTorch struct {
	dir string

	mu    sync.Mutex
	ready bool
	on    string
	f     *os.File
}

func NewLEDTorch(root, name string) *LEDTorch {
	if root == "" {
		root = DefaultLEDRoot
	}
	return &LEDTorch{dir: filepath.Join(root, name)}
}

func (d *LEDTorch) Initialize(context.Context) error {
	if _, err := os.Stat(filepath.Join(d.dir, "brightness")); err != nil {
		return fmt.Errorf("led %s: %w", d.dir, err)
	}

	on := "1"
	if raw, err := os.ReadFile(filepath.Join(d.dir, "max_brightness")); err == nil {
		if v := strings.TrimSpace(string(raw)); v != "" {
			on = v
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.on = on
	d.ready = true
	return nil
}

func (d *LEDTorch) BeginOutput() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.write(d.on)
}

func (d *LEDTorch) EndOutput() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.write("0")
}

func (d *LEDTorch) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return
	}
	d.write("0")
	if err := d.f.Close(); err != nil {
		log.Warn().Err(err).Str("led", d.dir).Msg("failed to close led")
	}
	d.f = nil
}

// write must be called with d.mu held.
func (d *LEDTorch) write(value string) {
	if !d.ready {
		return
	}
	if d.f == nil {
		f, err := os.OpenFile(filepath.Join(d.dir, "brightness"), os.O_WRONLY, 0)
		if err != nil {
			log.Error().Err(err).Str("led", d.dir).Msg("failed to acquire led")
			return
		}
		d.f = f
	}
	data := []byte(value + "\n")
	if _, err := d.f.WriteAt(data, 0); err != nil {
		log.Error().Err(err).Str("led", d.dir).Str("value", value).Msg("failed to set led brightness")
		return
	}
	// sysfs ignores the size, plain files keep stale bytes without it
	_ = d.f.Truncate(int64(len(data)))
}
