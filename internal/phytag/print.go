package phytag

import (
	"fmt"
	"strings"
)

const unset = "<unset>"

// String renders every field group for debugging. Absent groups print as
// <unset>, so they never read as zero.
func (t *Tag) String() string {
	var sb strings.Builder
	field := func(name, value string) {
		fmt.Fprintf(&sb, "%-16s %s\n", name+":", value)
	}
	opt := func(name string, ok bool, format string, args ...any) {
		if !ok {
			field(name, unset)
			return
		}
		field(name, fmt.Sprintf(format, args...))
	}

	fmt.Fprintf(&sb, "phytag phase=%s captured=%t\n", t.Phase(), t.captured)

	p, ok := t.Tx()
	if ok {
		field("preamble", p.Preamble.String())
		field("mode", p.Mode.String())
		field("duration", p.Duration.String())
		field("frequency", fmt.Sprintf("%.6g Hz", p.Frequency))
		field("sample duration", p.SampleDuration.String())
		field("tx power", fmt.Sprintf("%.2f dBm", p.PowerDbm))
		field("tx device", fmt.Sprintf("%d", p.Device))
		field("tx bits", fmt.Sprintf("%d bits %s", len(p.Bits), bitPreview(p.Bits)))
		field("tx samples", fmt.Sprintf("%d samples", len(p.Samples)))
	} else {
		field("tx", unset)
	}

	opt("path loss", t.pathLoss.ok, "%.2f dB", t.pathLoss.val)
	opt("rx samples", t.rxSamples.ok, "%d samples, power %.4g", len(t.rxSamples.val), t.rxSamples.val.Power())
	opt("noise", t.noise.ok, "%d samples, power %.4g", len(t.noise.val), t.noise.val.Power())
	opt("short symbol", t.short.ok, "index %d (trace %d)", t.short.val.Start, len(t.short.val.Trace))
	opt("long symbol", t.long.ok, "index %d (trace %d)", t.long.val.Start, len(t.long.val.Trace))
	opt("estimate", t.estimate.ok, "%.4g", t.estimate.val)
	opt("rx mode", t.header.ok, "%v", t.header.val.Mode)
	opt("rx length", t.header.ok, "%d octets", t.header.val.Length)
	opt("rx bits", t.rxBits.ok, "%d bits %s", len(t.rxBits.val), bitPreview(t.rxBits.val))
	opt("preamble sinr", t.preambleSinr.ok, "%.2f dB", t.preambleSinr.val)
	opt("header sinr", t.headerSinr.ok, "%.2f dB", t.headerSinr.val)
	opt("payload sinr", t.payloadSinr.ok, "%.2f dB", t.payloadSinr.val)
	opt("overall sinr", t.overallSinr.ok, "%.2f dB", t.overallSinr.val)
	opt("rx device", t.rxDevice.ok, "%d", t.rxDevice.val)
	return sb.String()
}

func bitPreview(b []byte) string {
	const limit = 32
	var sb strings.Builder
	for i, v := range b {
		if i == limit {
			sb.WriteString("...")
			break
		}
		sb.WriteByte('0' + v&1)
	}
	return sb.String()
}
