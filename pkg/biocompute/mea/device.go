// Package mea drives a multi-electrode array controller over USB. It is the
// hardware variant of the BioComputeSource interface; the controller applies
// stimulation programs to the electrode grid and streams back aggregate
// channel responses.
package mea

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/gousb"

	"biominer/pkg/biocompute/core"
)

// USB identifiers and transfer parameters for the MEA controller
const (
	VendorID  = 0x2E73
	ProductID = 0x0A14

	outEndpointAddr = 1
	inEndpointAddr  = 0x81

	readBufferSize = 4096

	// Capture is bounded: stimulus duration plus controller settle time
	captureTimeoutSlack = 500 * time.Millisecond

	// ReinforcePattern must not block the caller beyond this
	reinforceTimeout = 250 * time.Millisecond

	DefaultChannels     = 16
	DefaultSampleRateHz = 25000
)

// SensorArray implements core.BioComputeSource for a physical MEA controller
type SensorArray struct {
	usbCtx *gousb.Context
	dev    *gousb.Device
	intf   *gousb.Interface
	donefn func()
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint

	initialized bool
	firmware    string
	channels    int

	// Optional controller host for SSH diagnostics
	controllerAddr string
	sshUser        string
	sshPassword    string

	stimulations uint64
	invalidReads uint64

	mu sync.Mutex
}

// Config holds construction parameters for the sensor array
type Config struct {
	// ControllerAddr enables SSH log diagnostics when set (host or host:port)
	ControllerAddr string
	SSHUser        string
	SSHPassword    string
}

// NewSensorArray creates an unopened sensor array handle
func NewSensorArray(cfg Config) *SensorArray {
	return &SensorArray{
		channels:       DefaultChannels,
		controllerAddr: cfg.ControllerAddr,
		sshUser:        cfg.SSHUser,
		sshPassword:    cfg.SSHPassword,
	}
}

// Name returns the human-readable name of the source
func (a *SensorArray) Name() string {
	return "MEA Sensor Array"
}

// IsAvailable probes for the controller on the USB bus without claiming it
func (a *SensorArray) IsAvailable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return true
	}

	ctx := gousb.NewContext()
	defer ctx.Close()

	dev, err := ctx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil || dev == nil {
		return false
	}
	dev.Close()
	return true
}

// Initialize opens the USB device, claims the default interface and reads the
// controller status. Idempotent: a ready array returns nil immediately.
func (a *SensorArray) Initialize() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}

	usbCtx := gousb.NewContext()

	dev, err := usbCtx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil || dev == nil {
		usbCtx.Close()
		return core.NewError(core.ErrCodeSourceUnavailable, "MEA controller not found",
			fmt.Sprintf("VID:0x%04x PID:0x%04x err=%v", VendorID, ProductID, err))
	}

	// Claim the interface away from any kernel driver
	if err := dev.SetAutoDetach(true); err != nil {
		// Not fatal on all systems; the claim below decides
		_ = err
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		usbCtx.Close()
		return core.NewError(core.ErrCodeSourceUnavailable, "could not claim MEA interface", err.Error())
	}

	epOut, err := intf.OutEndpoint(outEndpointAddr)
	if err != nil {
		done()
		dev.Close()
		usbCtx.Close()
		return core.NewError(core.ErrCodeSourceUnavailable, "could not open OUT endpoint", err.Error())
	}

	epIn, err := intf.InEndpoint(inEndpointAddr)
	if err != nil {
		done()
		dev.Close()
		usbCtx.Close()
		return core.NewError(core.ErrCodeSourceUnavailable, "could not open IN endpoint", err.Error())
	}

	a.usbCtx = usbCtx
	a.dev = dev
	a.intf = intf
	a.donefn = done
	a.epOut = epOut
	a.epIn = epIn
	a.initialized = true

	// Status handshake fills firmware/channel info; failure is tolerated
	if status, err := a.queryStatusLocked(); err == nil {
		a.firmware = fmt.Sprintf("%d.%d.%d.%d",
			status.Version[0], status.Version[1], status.Version[2], status.Version[3])
		if status.ChannelCount > 0 {
			a.channels = int(status.ChannelCount)
		}
	}

	return nil
}

// IsReady reports whether the array has been initialized
func (a *SensorArray) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Shutdown releases the interface and USB context
func (a *SensorArray) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil
	}

	if a.donefn != nil {
		a.donefn()
	}
	if a.dev != nil {
		a.dev.Close()
	}
	if a.usbCtx != nil {
		a.usbCtx.Close()
	}

	a.usbCtx = nil
	a.dev = nil
	a.intf = nil
	a.donefn = nil
	a.epOut = nil
	a.epIn = nil
	a.initialized = false
	return nil
}

// StimulateAndCapture sends the stimulus frame and reads the capture frame.
// A timeout, short read or CRC failure yields an IsValid=false response, not
// an error: the tissue said nothing usable, the pipeline decides what next.
func (a *SensorArray) StimulateAndCapture(ctx context.Context, pattern *core.StimulusPattern) (*core.BioResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, core.ErrNotInitialized
	}
	if err := pattern.Validate(a.capabilitiesLocked()); err != nil {
		return nil, err
	}

	start := time.Now()

	frame := buildStimulusFrame(pattern)
	if _, err := a.epOut.Write(frame); err != nil {
		return nil, core.NewError(core.ErrCodeSourceUnavailable, "stimulus write failed", err.Error())
	}

	timeout := a.captureTimeout(pattern)
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buf := make([]byte, readBufferSize)
	n, err := a.epIn.ReadContext(readCtx, buf)
	a.stimulations++

	invalid := func(reason string) *core.BioResponse {
		a.invalidReads++
		return &core.BioResponse{
			Signals:    nil,
			IsValid:    false,
			Reason:     reason,
			CapturedAt: time.Now(),
			LatencyUs:  uint64(time.Since(start).Microseconds()),
		}
	}

	if err != nil {
		return invalid(fmt.Sprintf("capture read failed: %v", err)), nil
	}

	capture, err := parseCapture(buf[:n])
	if err != nil {
		return invalid(fmt.Sprintf("capture parse failed: %v", err)), nil
	}
	if !capture.CRCValid {
		return invalid("capture CRC mismatch"), nil
	}

	strength := 0.0
	for _, v := range capture.Signals {
		strength += math.Abs(v)
	}
	if len(capture.Signals) > 0 {
		strength /= float64(len(capture.Signals))
	}

	resp := &core.BioResponse{
		Signals:          capture.Signals,
		ResponseStrength: strength,
		SignalQuality:    capture.SignalQuality,
		IsValid:          capture.SignalQuality > 0 && len(capture.Signals) > 0,
		CapturedAt:       time.Now(),
		LatencyUs:        uint64(time.Since(start).Microseconds()),
	}
	if !resp.IsValid {
		resp.Reason = "controller reported zero-quality capture"
	}
	return resp, nil
}

// captureTimeout bounds the read by the longest channel duration plus slack
func (a *SensorArray) captureTimeout(pattern *core.StimulusPattern) time.Duration {
	maxMs := 0
	for _, d := range pattern.DurationsMs {
		if d > maxMs {
			maxMs = d
		}
	}
	return time.Duration(maxMs)*time.Millisecond + captureTimeoutSlack
}

// ReinforcePattern sends a plasticity bias frame. Best effort: the write is
// bounded and a slow controller only costs the reward, never the caller.
func (a *SensorArray) ReinforcePattern(pattern *core.StimulusPattern, nonce uint32, reward float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return core.ErrNotInitialized
	}

	frame := buildReinforceFrame(pattern, nonce, reward)

	ctx, cancel := context.WithTimeout(context.Background(), reinforceTimeout)
	defer cancel()

	if _, err := a.epOut.WriteContext(ctx, frame); err != nil {
		return core.NewError(core.ErrCodeReinforceFailed, "reinforce write failed", err.Error())
	}
	return nil
}

// queryStatusLocked performs a status round trip; caller holds the mutex
func (a *SensorArray) queryStatusLocked() (*statusData, error) {
	if _, err := a.epOut.Write(buildStatusFrame()); err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	buf := make([]byte, readBufferSize)
	n, err := a.epIn.ReadContext(readCtx, buf)
	if err != nil {
		return nil, err
	}
	return parseStatus(buf[:n])
}

// GetDiagnosticInfo returns controller status, and when a controller address
// is configured, the tail of its firmware log fetched over SSH.
func (a *SensorArray) GetDiagnosticInfo() string {
	a.mu.Lock()
	initialized := a.initialized
	stimulations := a.stimulations
	invalidReads := a.invalidReads
	firmware := a.firmware
	channels := a.channels

	var status *statusData
	if initialized {
		status, _ = a.queryStatusLocked()
	}
	a.mu.Unlock()

	info := fmt.Sprintf("mea: initialized=%v firmware=%q channels=%d stimulations=%d invalid_reads=%d",
		initialized, firmware, channels, stimulations, invalidReads)
	if status != nil {
		info += fmt.Sprintf(" temp=%d°C errors=%d", status.Temperature, status.ErrorCount)
	}

	if a.controllerAddr != "" {
		tail, err := a.fetchControllerLog(20)
		if err != nil {
			info += fmt.Sprintf("\ncontroller log unavailable: %v", err)
		} else {
			info += "\ncontroller log tail:\n" + tail
		}
	}
	return info
}

// GetCapabilities returns the array's capabilities
func (a *SensorArray) GetCapabilities() *core.Capabilities {
	a.mu.Lock()
	defer a.mu.Unlock()

	caps := a.capabilitiesLocked()
	if !a.initialized {
		caps.Reason = "MEA controller not detected on USB bus"
	}
	return caps
}

func (a *SensorArray) capabilitiesLocked() *core.Capabilities {
	return &core.Capabilities{
		Name:           "MEA Sensor Array",
		IsHardware:     true,
		Channels:       a.channels,
		SampleRateHz:   DefaultSampleRateHz,
		MaxAmplitude:   200.0,
		MaxFrequency:   250.0,
		MaxDurationMs:  500,
		CaptureTimeout: captureTimeoutSlack,
		HardwareInfo: &core.HardwareInfo{
			VendorID:       VendorID,
			ProductID:      ProductID,
			Version:        a.firmware,
			ConnectionType: "USB",
			ControllerAddr: a.controllerAddr,
		},
	}
}
