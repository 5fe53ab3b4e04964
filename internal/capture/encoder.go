package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// DeviceEncoder copies encoded audio from a device node or FIFO (whatever
// the platform exposes as the capture source) into the artifact file.
// Closing the source unblocks the copy, so Stop returns promptly.
type DeviceEncoder struct {
	devicePath string

	mu   sync.Mutex
	src  io.ReadCloser
	dst  *os.File
	done chan struct{}
}

// NewDeviceEncoder creates an encoder reading from devicePath.
func NewDeviceEncoder(devicePath string) *DeviceEncoder {
	return &DeviceEncoder{devicePath: devicePath}
}

// Start opens the capture source and begins streaming into path.
func (d *DeviceEncoder) Start(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src != nil {
		return fmt.Errorf("encoder: session already active")
	}

	src, err := os.Open(d.devicePath)
	if err != nil {
		return fmt.Errorf("encoder: open source %s: %w", d.devicePath, err)
	}
	dst, err := os.Create(path)
	if err != nil {
		src.Close()
		return fmt.Errorf("encoder: create artifact: %w", err)
	}

	d.src, d.dst = src, dst
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		_, _ = io.Copy(dst, src)
	}()
	return nil
}

// Stop closes the source, waits for the copy to drain, and finalizes the
// artifact file.
func (d *DeviceEncoder) Stop() error {
	d.mu.Lock()
	src, dst, done := d.src, d.dst, d.done
	d.src, d.dst, d.done = nil, nil, nil
	d.mu.Unlock()

	if src == nil {
		return fmt.Errorf("encoder: no active session")
	}
	_ = src.Close()
	<-done
	if err := dst.Sync(); err != nil {
		dst.Close()
		return fmt.Errorf("encoder: sync artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("encoder: close artifact: %w", err)
	}
	return nil
}
