// Packet framing for the MEA controller's USB protocol. Every frame is
// [token | version | length(LE16) | payload | crc(LE16)], with the CRC
// computed over everything before it.
package mea

import (
	"encoding/binary"
	"fmt"
	"math"

	"biominer/pkg/biocompute/core"
)

// Token types
const (
	TokenTxStimulus  = 0x61 // host -> controller: stimulation program
	TokenRxCapture   = 0x62 // controller -> host: captured response
	TokenRxStatus    = 0x63 // host -> controller: status request / response
	TokenTxReinforce = 0x64 // host -> controller: plasticity bias update
)

const (
	protocolVersion = 0x01

	// Per-channel stimulus entry: amplitude(f32) + frequency(f32) + duration_ms(u16)
	stimulusEntrySize = 10

	// Per-channel capture entry: one f32 aggregate sample
	captureEntrySize = 4

	frameHeaderSize = 4
	frameCRCSize    = 2
)

// crc16 computes the Modbus-style CRC-16 the controller firmware expects
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// sealFrame writes length and CRC into a pre-sized frame
func sealFrame(frame []byte) {
	payload := len(frame) - frameHeaderSize - frameCRCSize
	binary.LittleEndian.PutUint16(frame[2:4], uint16(payload+frameCRCSize))
	crc := crc16(frame[:len(frame)-frameCRCSize])
	binary.LittleEndian.PutUint16(frame[len(frame)-frameCRCSize:], crc)
}

// buildStimulusFrame encodes a stimulus pattern as a TxStimulus frame
func buildStimulusFrame(pattern *core.StimulusPattern) []byte {
	n := pattern.Channels()
	frame := make([]byte, frameHeaderSize+1+n*stimulusEntrySize+frameCRCSize)

	frame[0] = TokenTxStimulus
	frame[1] = protocolVersion
	frame[4] = byte(n)

	off := frameHeaderSize + 1
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(frame[off:], math.Float32bits(float32(pattern.Amplitudes[i])))
		binary.LittleEndian.PutUint32(frame[off+4:], math.Float32bits(float32(pattern.Frequencies[i])))
		binary.LittleEndian.PutUint16(frame[off+8:], uint16(pattern.DurationsMs[i]))
		off += stimulusEntrySize
	}

	sealFrame(frame)
	return frame
}

// buildReinforceFrame encodes a plasticity bias update: the winning stimulus
// followed by the nonce and a quantized reward.
func buildReinforceFrame(pattern *core.StimulusPattern, nonce uint32, reward float64) []byte {
	n := pattern.Channels()
	frame := make([]byte, frameHeaderSize+1+n*stimulusEntrySize+8+frameCRCSize)

	frame[0] = TokenTxReinforce
	frame[1] = protocolVersion
	frame[4] = byte(n)

	off := frameHeaderSize + 1
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(frame[off:], math.Float32bits(float32(pattern.Amplitudes[i])))
		binary.LittleEndian.PutUint32(frame[off+4:], math.Float32bits(float32(pattern.Frequencies[i])))
		binary.LittleEndian.PutUint16(frame[off+8:], uint16(pattern.DurationsMs[i]))
		off += stimulusEntrySize
	}
	binary.LittleEndian.PutUint32(frame[off:], nonce)
	binary.LittleEndian.PutUint32(frame[off+4:], math.Float32bits(float32(reward)))

	sealFrame(frame)
	return frame
}

// buildStatusFrame encodes an RxStatus request
func buildStatusFrame() []byte {
	frame := make([]byte, frameHeaderSize+2+frameCRCSize)
	frame[0] = TokenRxStatus
	frame[1] = protocolVersion
	// flags + reserved
	frame[4] = 0x00
	frame[5] = 0x00
	sealFrame(frame)
	return frame
}

// captureData is the parsed RxCapture response
type captureData struct {
	Channels      int
	Signals       []float64
	SignalQuality float64
	CRCValid      bool
}

// parseCapture decodes an RxCapture frame from the controller
func parseCapture(data []byte) (*captureData, error) {
	if len(data) < frameHeaderSize+2+frameCRCSize {
		return nil, fmt.Errorf("capture frame too short: %d bytes", len(data))
	}
	if data[0] != TokenRxCapture {
		return nil, fmt.Errorf("unexpected token 0x%02x (want RxCapture 0x%02x)", data[0], TokenRxCapture)
	}

	length := int(binary.LittleEndian.Uint16(data[2:4]))
	if frameHeaderSize+length != len(data) {
		return nil, fmt.Errorf("capture frame length mismatch: header says %d, got %d", frameHeaderSize+length, len(data))
	}

	cd := &captureData{}

	received := binary.LittleEndian.Uint16(data[len(data)-frameCRCSize:])
	cd.CRCValid = crc16(data[:len(data)-frameCRCSize]) == received

	n := int(data[4])
	quality := float64(data[5]) / 255.0
	cd.Channels = n
	cd.SignalQuality = quality

	off := frameHeaderSize + 2
	if off+n*captureEntrySize > len(data)-frameCRCSize {
		return nil, fmt.Errorf("capture frame truncated: %d channels in %d bytes", n, len(data))
	}

	cd.Signals = make([]float64, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[off:])
		cd.Signals[i] = float64(math.Float32frombits(bits))
		off += captureEntrySize
	}

	return cd, nil
}

// statusData is the parsed RxStatus response
type statusData struct {
	Version      [4]uint8
	ChannelCount uint8
	Temperature  int8
	ErrorCount   uint32
	CRCValid     bool
}

// parseStatus decodes an RxStatus response frame
func parseStatus(data []byte) (*statusData, error) {
	if len(data) < frameHeaderSize+10+frameCRCSize {
		return nil, fmt.Errorf("status frame too short: %d bytes", len(data))
	}
	if data[0] != TokenRxStatus {
		return nil, fmt.Errorf("unexpected token 0x%02x (want RxStatus 0x%02x)", data[0], TokenRxStatus)
	}

	sd := &statusData{}

	received := binary.LittleEndian.Uint16(data[len(data)-frameCRCSize:])
	sd.CRCValid = crc16(data[:len(data)-frameCRCSize]) == received

	copy(sd.Version[:], data[4:8])
	sd.ChannelCount = data[8]
	sd.Temperature = int8(data[9])
	sd.ErrorCount = binary.LittleEndian.Uint32(data[10:14])

	return sd, nil
}
