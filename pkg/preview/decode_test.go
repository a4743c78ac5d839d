package preview

import (
	"encoding/binary"
	"math"
	"testing"
)

// Literal wire bytes: magic "FRDS", seq=7, center=1e8, rate=2.048e6,
// reserved=0, fft_size=2, power -40.0 and -35.0.
func sampleSDRFBytes() []byte {
	out := make([]byte, 0, 44)
	out = append(out, 0x46, 0x52, 0x44, 0x53)
	out = binary.LittleEndian.AppendUint32(out, 7)
	out = binary.LittleEndian.AppendUint64(out, math.Float64bits(100_000_000.0))
	out = binary.LittleEndian.AppendUint64(out, math.Float64bits(2_048_000.0))
	out = binary.LittleEndian.AppendUint64(out, 0)
	out = binary.LittleEndian.AppendUint32(out, 2)
	out = binary.LittleEndian.AppendUint32(out, math.Float32bits(-40.0))
	out = binary.LittleEndian.AppendUint32(out, math.Float32bits(-35.0))
	return out
}

func TestDecodeSDRF(t *testing.T) {
	p, err := DecodeSDRF(sampleSDRFBytes())
	if err != nil {
		t.Fatalf("DecodeSDRF: %v", err)
	}
	if p.Seq != 7 || p.CenterFreq != 100_000_000.0 || p.SampleRate != 2_048_000.0 || p.FFTSize != 2 {
		t.Errorf("header = %+v", p)
	}
	if len(p.PowerDB) != 2 || p.PowerDB[0] != -40.0 || p.PowerDB[1] != -35.0 {
		t.Errorf("power_db = %v", p.PowerDB)
	}
}

func TestDecodeSDRFRejects(t *testing.T) {
	good := sampleSDRFBytes()

	t.Run("short header", func(t *testing.T) {
		if _, err := DecodeSDRF(good[:20]); err == nil {
			t.Error("short packet accepted")
		}
	})
	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[0] = 0x00
		if _, err := DecodeSDRF(bad); err == nil {
			t.Error("bad magic accepted")
		}
	})
	t.Run("truncated samples", func(t *testing.T) {
		if _, err := DecodeSDRF(good[:len(good)-4]); err == nil {
			t.Error("truncated packet accepted")
		}
	})
}

func TestSDRFEncodeDecodeIdentity(t *testing.T) {
	in := &SDRFPacket{
		Seq:        42,
		CenterFreq: 433_920_000.0,
		SampleRate: 1_024_000.0,
		PowerDB:    []float64{-80.5, -60.25, -40.0, -20.0},
	}
	out, err := DecodeSDRF(EncodeSDRF(in))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if out.Seq != in.Seq || out.CenterFreq != in.CenterFreq || out.SampleRate != in.SampleRate {
		t.Errorf("header = %+v", out)
	}
	if len(out.PowerDB) != len(in.PowerDB) {
		t.Fatalf("fft_size = %d, want %d", len(out.PowerDB), len(in.PowerDB))
	}
	for i := range in.PowerDB {
		if out.PowerDB[i] != in.PowerDB[i] {
			t.Errorf("power_db[%d] = %v, want %v", i, out.PowerDB[i], in.PowerDB[i])
		}
	}
}

func TestDecodeSensorFallsBackToRaw(t *testing.T) {
	got := DecodeSensorPacket([]byte{0xde, 0xad, 0xbe, 0xef})
	if got["type"] != "raw" {
		t.Errorf("decoded = %v, want raw fallback", got)
	}
}

func TestDecodeJSONPacket(t *testing.T) {
	t.Run("object passes through", func(t *testing.T) {
		got := DecodeJSONPacket([]byte(`{"cue": 12}`))
		if got["cue"] != float64(12) {
			t.Errorf("decoded = %v", got)
		}
	})
	t.Run("scalar wrapped", func(t *testing.T) {
		got := DecodeJSONPacket([]byte(`"go"`))
		if got["payload"] != "go" {
			t.Errorf("decoded = %v", got)
		}
	})
	t.Run("garbage falls back to raw", func(t *testing.T) {
		got := DecodeJSONPacket([]byte{0xff, 0xfe})
		if got["type"] != "raw" {
			t.Errorf("decoded = %v", got)
		}
	})
}

func TestDecodeAudioPacket(t *testing.T) {
	// Full-scale square wave: rms = peak = 32767.
	data := make([]byte, 8)
	for i := 0; i < 4; i++ {
		v := int16(32767)
		if i%2 == 1 {
			v = -32767
		}
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}

	got := DecodeAudioPacket(data)
	if got["samples"] != 4 {
		t.Errorf("samples = %v", got["samples"])
	}
	peak := got["peak_level"].(float64)
	rms := got["rms_level"].(float64)
	if math.Abs(peak-rms) > 1e-9 || math.Abs(peak-32767.0/32768) > 1e-9 {
		t.Errorf("levels = rms %v peak %v", rms, peak)
	}
	if db := got["peak_db"].(float64); db > 0 || db < -0.01 {
		t.Errorf("peak_db = %v, want just under 0 dBFS", db)
	}

	t.Run("silence clamps at the floor", func(t *testing.T) {
		got := DecodeAudioPacket(make([]byte, 4))
		if db := got["rms_db"].(float64); db != 20*math.Log10(1e-12) {
			t.Errorf("silence rms_db = %v", db)
		}
	})
}

func TestDecodeRawHexCap(t *testing.T) {
	got := DecodeRaw(make([]byte, 1000))
	if got["size"] != 1000 {
		t.Errorf("size = %v", got["size"])
	}
	if len(got["hex"].(string)) != 512 {
		t.Errorf("hex length = %d, want 512 (256 bytes)", len(got["hex"].(string)))
	}
}

func TestDecoderFor(t *testing.T) {
	cases := []struct {
		streamType string
		input      []byte
		wantKey    string
	}{
		{"sensor", sampleSDRFBytes(), "power_db"},
		{"osc", []byte(`{"addr":"/cue/1"}`), "addr"},
		{"audio", make([]byte, 4), "rms_db"},
		{"mystery", []byte("??"), "hex"},
	}
	for _, tc := range cases {
		t.Run(tc.streamType, func(t *testing.T) {
			got := DecoderFor(tc.streamType)(tc.input)
			if _, ok := got[tc.wantKey]; !ok {
				t.Errorf("decoded %v lacks %q", got, tc.wantKey)
			}
		})
	}
}
