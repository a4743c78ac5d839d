// Package preview lets SSE clients watch UDP streams they cannot speak:
// it negotiates a session, binds a socket, decodes datagrams per stream
// type, and relays them as server-sent events.
package preview

import (
	"encoding/binary"
	"math"

	"github.com/jordansnyder/maestra-core/pkg/util"
)

// SDRF is the binary spectrum format sensor publishers emit: a 36-byte
// little-endian header followed by fft_size f32 power values.
const (
	sdrfMagic      = 0x53445246 // "FRDS" on the wire, little-endian
	sdrfHeaderSize = 36
)

// SDRFPacket is one decoded spectrum frame.
type SDRFPacket struct {
	Seq        uint32    `json:"seq"`
	CenterFreq float64   `json:"center_freq"`
	SampleRate float64   `json:"sample_rate"`
	FFTSize    uint32    `json:"fft_size"`
	PowerDB    []float64 `json:"power_db"`
}

// DecodeSDRF parses a datagram. Wrong magic and truncated packets are
// rejected; trailing bytes beyond the advertised fft_size are ignored.
func DecodeSDRF(data []byte) (*SDRFPacket, error) {
	if len(data) < sdrfHeaderSize {
		return nil, util.NewValidationError("sdrf packet shorter than header")
	}
	if binary.LittleEndian.Uint32(data[0:4]) != sdrfMagic {
		return nil, util.NewValidationError("sdrf magic mismatch")
	}

	p := &SDRFPacket{
		Seq:        binary.LittleEndian.Uint32(data[4:8]),
		CenterFreq: math.Float64frombits(binary.LittleEndian.Uint64(data[8:16])),
		SampleRate: math.Float64frombits(binary.LittleEndian.Uint64(data[16:24])),
		FFTSize:    binary.LittleEndian.Uint32(data[32:36]),
	}
	need := sdrfHeaderSize + 4*int(p.FFTSize)
	if len(data) < need {
		return nil, util.NewValidationError("sdrf packet truncated")
	}

	p.PowerDB = make([]float64, p.FFTSize)
	for i := range p.PowerDB {
		off := sdrfHeaderSize + 4*i
		bits := binary.LittleEndian.Uint32(data[off : off+4])
		p.PowerDB[i] = float64(math.Float32frombits(bits))
	}
	return p, nil
}

// EncodeSDRF builds the wire form of a packet. The reserved header
// field is zero.
func EncodeSDRF(p *SDRFPacket) []byte {
	out := make([]byte, sdrfHeaderSize+4*len(p.PowerDB))
	binary.LittleEndian.PutUint32(out[0:4], sdrfMagic)
	binary.LittleEndian.PutUint32(out[4:8], p.Seq)
	binary.LittleEndian.PutUint64(out[8:16], math.Float64bits(p.CenterFreq))
	binary.LittleEndian.PutUint64(out[16:24], math.Float64bits(p.SampleRate))
	binary.LittleEndian.PutUint32(out[32:36], uint32(len(p.PowerDB)))
	for i, v := range p.PowerDB {
		binary.LittleEndian.PutUint32(out[sdrfHeaderSize+4*i:], math.Float32bits(float32(v)))
	}
	return out
}
