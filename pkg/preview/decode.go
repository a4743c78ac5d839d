package preview

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
)

// Decoder turns one datagram into the JSON object a preview SSE frame
// carries. Decoders never fail: anything unparseable degrades to the
// raw decoder.
type Decoder func(data []byte) map[string]any

// DecoderFor picks the decoder for a stream type.
func DecoderFor(streamType string) Decoder {
	switch streamType {
	case "sensor":
		return DecodeSensorPacket
	case "data", "osc", "midi":
		return DecodeJSONPacket
	case "audio":
		return DecodeAudioPacket
	default:
		return DecodeRaw
	}
}

// DecodeSensorPacket decodes an SDRF spectrum frame.
func DecodeSensorPacket(data []byte) map[string]any {
	p, err := DecodeSDRF(data)
	if err != nil {
		return DecodeRaw(data)
	}
	return map[string]any{
		"type":        "sensor",
		"seq":         p.Seq,
		"center_freq": p.CenterFreq,
		"sample_rate": p.SampleRate,
		"fft_size":    p.FFTSize,
		"power_db":    p.PowerDB,
	}
}

// DecodeJSONPacket parses UTF-8 JSON; a non-object root is wrapped
// under a payload key.
func DecodeJSONPacket(data []byte) map[string]any {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return DecodeRaw(data)
	}
	if obj, ok := parsed.(map[string]any); ok {
		return obj
	}
	return map[string]any{"payload": parsed}
}

// DecodeAudioPacket reads little-endian s16 PCM and reports rms/peak
// levels both in dBFS and normalized to [0, 1].
func DecodeAudioPacket(data []byte) map[string]any {
	n := len(data) / 2
	if n == 0 {
		return DecodeRaw(data)
	}

	var sumSquares, peak float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[2*i:])))
		sumSquares += s * s
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sumSquares / float64(n))

	toDB := func(level float64) float64 {
		return 20 * math.Log10(math.Max(level/32768, 1e-12))
	}
	return map[string]any{
		"type":       "audio",
		"samples":    n,
		"rms_db":     toDB(rms),
		"peak_db":    toDB(peak),
		"rms_level":  rms / 32768,
		"peak_level": peak / 32768,
	}
}

// DecodeRaw is the fallback: size plus a hex prefix of the payload.
func DecodeRaw(data []byte) map[string]any {
	prefix := data
	if len(prefix) > 256 {
		prefix = prefix[:256]
	}
	return map[string]any{
		"type": "raw",
		"size": len(data),
		"hex":  hex.EncodeToString(prefix),
	}
}
